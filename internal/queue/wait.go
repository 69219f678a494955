package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	raitoerrors "raito/internal/errors"
)

// WaitForJob blocks until id reaches a terminal state or timeout
// elapses, returning the terminal status ("completed" or "failed").
// It subscribes to the notification channel before reading current
// state so a notification fired between the two steps is never missed.
func (q *Queue) WaitForJob(ctx context.Context, id uuid.UUID, timeout time.Duration) (Status, error) {
	if q.notifier == nil {
		return q.waitForJobPoll(ctx, id, timeout)
	}

	ch, unsubscribe := q.notifier.subscribe(id)
	defer unsubscribe()

	job, err := q.backend.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", removedWhileWaitingError()
	}
	if job.Terminal() {
		return job.Status, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-ch:
		return Status(status), nil
	case <-timer.C:
		return "", raitoerrors.New(raitoerrors.Timeout, "timed out waiting for job "+id.String())
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// waitForJobPoll is a fallback path used when no notifier is
// configured (e.g. unit tests against a fake backend): it polls
// GetJob on a short interval instead of listening for a Postgres
// notification.
func (q *Queue) waitForJobPoll(ctx context.Context, id uuid.UUID, timeout time.Duration) (Status, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := q.backend.GetJob(ctx, id)
		if err != nil {
			return "", err
		}
		if job == nil {
			return "", removedWhileWaitingError()
		}
		if job.Terminal() {
			return job.Status, nil
		}
		if time.Now().After(deadline) {
			return "", raitoerrors.New(raitoerrors.Timeout, "timed out waiting for job "+id.String())
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
