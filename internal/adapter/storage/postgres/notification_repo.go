package postgres

import (
	"context"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/domain"
)

// NotificationJobRepo implements ports.NotificationJobRepository. Jobs are
// persisted so in-flight deliveries survive a process restart.
type NotificationJobRepo struct {
	pool Pool
}

// NewNotificationJobRepo creates a Postgres-backed notification job store.
func NewNotificationJobRepo(pool Pool) *NotificationJobRepo {
	return &NotificationJobRepo{pool: pool}
}

const jobColumns = `id, order_id, url, event, payload, attempts, max_retries, status, last_error, created_at, next_attempt`

// Create inserts a new delivery job.
func (r *NotificationJobRepo) Create(ctx context.Context, job *domain.NotificationJob) error {
	query := `INSERT INTO notification_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.OrderID, job.URL, job.Event, job.Payload,
		job.Attempts, job.MaxRetries, string(job.Status), job.LastError,
		job.CreatedAt, job.NextAttempt,
	)
	if err != nil {
		return fmt.Errorf("insert notification job: %w", err)
	}
	return nil
}

// Update persists a job's attempt counters and status.
func (r *NotificationJobRepo) Update(ctx context.Context, job *domain.NotificationJob) error {
	query := `UPDATE notification_jobs SET
		attempts = $2, status = $3, last_error = $4, next_attempt = $5
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		job.ID, job.Attempts, string(job.Status), job.LastError, job.NextAttempt)
	if err != nil {
		return fmt.Errorf("update notification job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification job not found: %s", job.ID)
	}
	return nil
}

// ListDue returns deliverable jobs, oldest next_attempt first.
func (r *NotificationJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs
		WHERE status = 'pending' AND next_attempt <= $1 AND attempts < max_retries
		ORDER BY next_attempt ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.NotificationJob
	for rows.Next() {
		var j domain.NotificationJob
		var status string
		if err := rows.Scan(
			&j.ID, &j.OrderID, &j.URL, &j.Event, &j.Payload,
			&j.Attempts, &j.MaxRetries, &status, &j.LastError,
			&j.CreatedAt, &j.NextAttempt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j.Status = domain.JobStatus(status)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// ListByStatus returns all jobs in one state, newest first.
func (r *NotificationJobRepo) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs
		WHERE status = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []domain.NotificationJob
	for rows.Next() {
		var j domain.NotificationJob
		var st string
		if err := rows.Scan(
			&j.ID, &j.OrderID, &j.URL, &j.Event, &j.Payload,
			&j.Attempts, &j.MaxRetries, &st, &j.LastError,
			&j.CreatedAt, &j.NextAttempt,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j.Status = domain.JobStatus(st)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountByStatus returns job counts grouped by state.
func (r *NotificationJobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM notification_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeleteFinishedBefore removes completed/failed jobs older than cutoff
// to bound storage.
func (r *NotificationJobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notification_jobs
		WHERE status IN ('completed', 'failed') AND created_at < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
