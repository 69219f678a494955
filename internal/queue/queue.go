// Package queue implements NuQ, the PostgreSQL-backed scrape job
// queue: at-most-one-consumer-per-job dispatch via worker-nonce
// fencing, lock renewal, LISTEN/NOTIFY-based completion waiting, and a
// background reaper that reclaims jobs abandoned by dead workers.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	raitoerrors "raito/internal/errors"
)

// Status is the lifecycle state of a queue_scrape row.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a row of the queue_scrape table.
type Job struct {
	ID           uuid.UUID
	Status       Status
	Data         json.RawMessage
	CreatedAt    time.Time
	Lock         string
	LockedAt     time.Time
	FinishedAt   time.Time
	ReturnValue  json.RawMessage
	FailedReason string
}

// Terminal reports whether the job has reached completed or failed.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Backend is the storage contract NuQ needs from the relational
// store. The production implementation (postgresBackend) issues raw
// SQL with FOR UPDATE SKIP LOCKED; tests exercise the higher-level
// Queue logic against an in-memory fake that implements the same
// contract without a live database.
type Backend interface {
	Add(ctx context.Context, id uuid.UUID, data json.RawMessage) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	GetJobs(ctx context.Context, ids []uuid.UUID) ([]Job, error)
	GetJobsWithStatuses(ctx context.Context, ids []uuid.UUID, statuses []Status) ([]Job, error)
	Remove(ctx context.Context, id uuid.UUID) (bool, error)
	Claim(ctx context.Context, workerNonce string) (*Job, error)
	RenewLock(ctx context.Context, id uuid.UUID, workerNonce string) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, workerNonce string, returnValue json.RawMessage) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, workerNonce string, failedReason string) (bool, error)
	ReapExpired(ctx context.Context, leaseDuration time.Duration) (int64, error)
	CountsByStatus(ctx context.Context) (map[Status]int64, error)
}

// Queue is the NuQ API surface: add/getJob/getJobs/
// getJobsWithStatuses/remove/waitForJob/claim/renewLock/finish/fail.
type Queue struct {
	backend  Backend
	notifier *notifier // nil in unit tests; WaitForJob then polls the backend
}

// New constructs a Queue backed by a live Postgres connection pool
// (for CRUD/claim) and a dedicated listen connection (for
// LISTEN/NOTIFY). listenDSN corresponds to NUQ_DATABASE_URL_LISTEN.
func New(poolDSN, listenDSN string) (*Queue, error) {
	backend, err := newPostgresBackend(poolDSN)
	if err != nil {
		return nil, err
	}
	q := &Queue{backend: backend}
	q.notifier = newNotifier(listenDSN, q.resync)
	return q, nil
}

// newWithBackend is used by tests to drive Queue logic against a fake
// Backend without a notifier (WaitForJob then falls back to polling
// the backend for a terminal state).
func newWithBackend(backend Backend) *Queue {
	return &Queue{backend: backend}
}

// Start begins the background LISTEN/NOTIFY connection. Call once
// after New; it blocks until ctx is cancelled, so run it in a
// goroutine.
func (q *Queue) Start(ctx context.Context) error {
	if q.notifier == nil {
		return nil
	}
	return q.notifier.run(ctx)
}

// Add inserts a new queued row. Fails with DuplicateJob if id exists.
func (q *Queue) Add(ctx context.Context, id uuid.UUID, data json.RawMessage) (*Job, error) {
	if err := q.backend.Add(ctx, id, data); err != nil {
		return nil, err
	}
	return q.backend.GetJob(ctx, id)
}

func (q *Queue) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return q.backend.GetJob(ctx, id)
}

func (q *Queue) GetJobs(ctx context.Context, ids []uuid.UUID) ([]Job, error) {
	return q.backend.GetJobs(ctx, ids)
}

func (q *Queue) GetJobsWithStatuses(ctx context.Context, ids []uuid.UUID, statuses []Status) ([]Job, error) {
	return q.backend.GetJobsWithStatuses(ctx, ids, statuses)
}

// Remove deletes a job regardless of state. Idempotent.
func (q *Queue) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	return q.backend.Remove(ctx, id)
}

// Claim atomically selects one queued row and marks it active under
// workerNonce. Returns nil, nil if no job is available.
func (q *Queue) Claim(ctx context.Context, workerNonce string) (*Job, error) {
	return q.backend.Claim(ctx, workerNonce)
}

// RenewLock extends locked_at, gated on matching nonce and active status.
func (q *Queue) RenewLock(ctx context.Context, id uuid.UUID, workerNonce string) (bool, error) {
	return q.backend.RenewLock(ctx, id, workerNonce)
}

// Finish transitions a job to completed. The trigger installed by
// db/migrations/00003_queue_scrape.sql fires pg_notify on this
// update; Go code never calls NOTIFY directly.
func (q *Queue) Finish(ctx context.Context, id uuid.UUID, workerNonce string, returnValue json.RawMessage) (bool, error) {
	return q.backend.Finish(ctx, id, workerNonce, returnValue)
}

// Fail transitions a job to failed.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, workerNonce string, failedReason string) (bool, error) {
	return q.backend.Fail(ctx, id, workerNonce, failedReason)
}

// resync is invoked by the notifier after it reconnects, to catch any
// notification missed while disconnected. It re-reads current state
// for every id with an outstanding waiter and resolves it locally if
// already terminal.
func (q *Queue) resync(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		job, err := q.backend.GetJob(ctx, id)
		if err != nil || job == nil || !job.Terminal() {
			continue
		}
		q.notifier.publishLocal(id, string(job.Status))
	}
}

// Metrics returns the current per-status row counts, used to render
// the nuq_queue_scrape_job_count Prometheus gauge.
func (q *Queue) Metrics(ctx context.Context) (map[Status]int64, error) {
	return q.backend.CountsByStatus(ctx)
}

// removedWhileWaiting is returned by WaitForJob when the row vanishes
// mid-wait; a removed job is treated as failed.
func removedWhileWaitingError() error {
	return raitoerrors.New(raitoerrors.Internal, "job removed while waiting")
}
