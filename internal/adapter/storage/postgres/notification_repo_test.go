package postgres

import (
	"context"
	"testing"
	"time"

	"payment-orchestrator/internal/core/domain"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob() *domain.NotificationJob {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.NewNotificationJob(
		"ORDER-001", "https://merchant.example/hook", domain.EventPaymentCompleted,
		[]byte(`{"event":"payment.completed"}`), 5, now,
	)
}

func jobTestColumns() []string {
	return []string{"id", "order_id", "url", "event", "payload", "attempts", "max_retries", "status", "last_error", "created_at", "next_attempt"}
}

func jobTestRow(j *domain.NotificationJob) *pgxmock.Rows {
	return pgxmock.NewRows(jobTestColumns()).AddRow(
		j.ID, j.OrderID, j.URL, j.Event, j.Payload,
		j.Attempts, j.MaxRetries, string(j.Status), j.LastError,
		j.CreatedAt, j.NextAttempt,
	)
}

func TestNotificationJobRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)
	job := newTestJob()

	mock.ExpectExec("INSERT INTO notification_jobs").
		WithArgs(
			job.ID, job.OrderID, job.URL, job.Event, job.Payload,
			job.Attempts, job.MaxRetries, "pending", job.LastError,
			job.CreatedAt, job.NextAttempt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), job)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationJobRepo_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)
	job := newTestJob()
	job.Attempts = 2
	job.Status = domain.JobStatusPending
	job.LastError = "HTTP 500"
	job.NextAttempt = job.CreatedAt.Add(2 * time.Second)

	mock.ExpectExec("UPDATE notification_jobs SET").
		WithArgs(job.ID, 2, "pending", "HTTP 500", job.NextAttempt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(context.Background(), job)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationJobRepo_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)
	job := newTestJob()

	mock.ExpectExec("UPDATE notification_jobs SET").
		WithArgs(job.ID, job.Attempts, "pending", job.LastError, job.NextAttempt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Update(context.Background(), job)
	assert.Error(t, err)
}

func TestNotificationJobRepo_ListDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)
	job := newTestJob()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM notification_jobs").
		WithArgs(now, 20).
		WillReturnRows(jobTestRow(job))

	jobs, err := repo.ListDue(context.Background(), now, 20)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, domain.JobStatusPending, jobs[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationJobRepo_ListDue_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM notification_jobs").
		WithArgs(now, 20).
		WillReturnRows(pgxmock.NewRows(jobTestColumns()))

	jobs, err := repo.ListDue(context.Background(), now, 20)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNotificationJobRepo_CountByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("pending", int64(3)).
			AddRow("completed", int64(12)).
			AddRow("failed", int64(1)))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[domain.JobStatusPending])
	assert.Equal(t, int64(12), counts[domain.JobStatusCompleted])
	assert.Equal(t, int64(1), counts[domain.JobStatusFailed])
}

func TestNotificationJobRepo_DeleteFinishedBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewNotificationJobRepo(mock)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM notification_jobs").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	removed, err := repo.DeleteFinishedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
