package domain

import (
	"fmt"
	"time"
)

// Webhook event types delivered to the merchant callback URL.
const (
	EventPaymentInitiated = "payment.initiated"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentTimeout   = "payment.timeout"
)

// JobStatus represents the delivery state of a notification job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// NotificationJob is one webhook delivery lineage. The ID doubles as the
// delivery token the receiver uses for deduplication. Jobs are persisted
// so in-flight deliveries survive a restart.
type NotificationJob struct {
	ID          string    `json:"id"` // orderId_enqueueUnixMilli
	OrderID     string    `json:"order_id"`
	URL         string    `json:"url"`
	Event       string    `json:"event"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	MaxRetries  int       `json:"max_retries"`
	Status      JobStatus `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	NextAttempt time.Time `json:"next_attempt"`
}

// NewNotificationJob builds a pending job for immediate delivery.
func NewNotificationJob(orderID, url, event string, payload []byte, maxRetries int, now time.Time) *NotificationJob {
	return &NotificationJob{
		ID:          fmt.Sprintf("%s_%d", orderID, now.UnixMilli()),
		OrderID:     orderID,
		URL:         url,
		Event:       event,
		Payload:     payload,
		Attempts:    0,
		MaxRetries:  maxRetries,
		Status:      JobStatusPending,
		CreatedAt:   now,
		NextAttempt: now,
	}
}

// Exhausted reports whether the retry budget has been spent.
func (j *NotificationJob) Exhausted() bool {
	return j.Attempts >= j.MaxRetries
}

// BackoffDelay computes the delay before retry n (1-based attempt count):
// min(base * 2^(n-1), max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
