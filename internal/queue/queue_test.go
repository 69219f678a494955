package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	raitoerrors "raito/internal/errors"
)

func TestAddDuplicateJobFails(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	_, err := q.Add(ctx, id, json.RawMessage(`{}`))
	if !raitoerrors.IsCode(err, raitoerrors.DuplicateJob) {
		t.Fatalf("expected DuplicateJob, got %v", err)
	}
}

func TestAddRemoveAddIsNoOp(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ok, err := q.Remove(ctx, id); err != nil || !ok {
		t.Fatalf("remove: ok=%v err=%v", ok, err)
	}
	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("re-add after remove should succeed, got %v", err)
	}
}

func TestClaimExclusivity(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}

	job1, err := q.Claim(ctx, "worker-1")
	if err != nil || job1 == nil {
		t.Fatalf("first claim should succeed: job=%v err=%v", job1, err)
	}
	if job1.ID != id {
		t.Fatalf("claimed wrong job: %v", job1.ID)
	}

	job2, err := q.Claim(ctx, "worker-2")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if job2 != nil {
		t.Fatalf("expected no job available for second claimer, got %v", job2)
	}
}

func TestFinishIdempotence(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ok, err := q.Finish(ctx, id, "worker-1", json.RawMessage(`{"ok":true}`))
	if err != nil || !ok {
		t.Fatalf("first finish should succeed: ok=%v err=%v", ok, err)
	}

	ok, err = q.Finish(ctx, id, "worker-1", json.RawMessage(`{"ok":false}`))
	if err != nil {
		t.Fatalf("second finish errored: %v", err)
	}
	if ok {
		t.Fatal("second finish should return false (already terminal)")
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if string(job.ReturnValue) != `{"ok":true}` {
		t.Fatalf("returnvalue should be unchanged by the second finish, got %s", job.ReturnValue)
	}
}

func TestRenewLockWrongNonceFails(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	before, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	ok, err := q.RenewLock(ctx, id, "wrong-nonce")
	if err != nil {
		t.Fatalf("RenewLock errored: %v", err)
	}
	if ok {
		t.Fatal("RenewLock with wrong nonce should return false")
	}

	after, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !after.LockedAt.Equal(before.LockedAt) {
		t.Fatalf("locked_at should be unchanged after failed renew: before=%v after=%v", before.LockedAt, after.LockedAt)
	}
}

func TestFailGatedOnNonce(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	ok, err := q.Fail(ctx, id, "some-other-nonce", "boom")
	if err != nil {
		t.Fatalf("Fail errored: %v", err)
	}
	if ok {
		t.Fatal("Fail with mismatched nonce should return false")
	}

	ok, err = q.Fail(ctx, id, "worker-1", "boom")
	if err != nil || !ok {
		t.Fatalf("Fail with correct nonce should succeed: ok=%v err=%v", ok, err)
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != StatusFailed || job.FailedReason != "boom" {
		t.Fatalf("expected failed status with reason, got status=%s reason=%q", job.Status, job.FailedReason)
	}
}

func TestWaitForJobAlreadyTerminalReturnsImmediately(t *testing.T) {
	backend := newFakeBackend()
	q := newWithBackend(backend)
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := q.Finish(ctx, id, "worker-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}

	status, err := q.WaitForJob(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestWaitForJobTimesOut(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}

	_, err := q.WaitForJob(ctx, id, 100*time.Millisecond)
	if !raitoerrors.IsCode(err, raitoerrors.Timeout) {
		t.Fatalf("expected Timeout error, got %v", err)
	}
}

func TestWaitForJobMissingJobFails(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()
	id := uuid.New()

	_, err := q.WaitForJob(ctx, id, time.Second)
	if err == nil {
		t.Fatal("expected error waiting for a job that was never added")
	}
}

func TestReaperReclaimsExpiredLock(t *testing.T) {
	backend := newFakeBackend()
	q := newWithBackend(backend)
	ctx := context.Background()
	id := uuid.New()

	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	job, err := q.Claim(ctx, "dead-worker")
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}

	// Simulate a lease that expired a long time ago.
	backend.mu.Lock()
	backend.jobs[id].LockedAt = time.Now().Add(-time.Hour)
	backend.mu.Unlock()

	n, err := backend.ReapExpired(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job reaped, got %d", n)
	}

	after, err := q.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if after.Status != StatusQueued || after.Lock != "" {
		t.Fatalf("expected job reset to queued with no lock, got status=%s lock=%q", after.Status, after.Lock)
	}
}

func TestMetricsCountsByStatus(t *testing.T) {
	q := newWithBackend(newFakeBackend())
	ctx := context.Background()

	queuedID, activeID := uuid.New(), uuid.New()
	if _, err := q.Add(ctx, queuedID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Add(ctx, activeID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	counts, err := q.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if counts[StatusQueued]+counts[StatusActive] != 2 {
		t.Fatalf("expected 2 total jobs across queued+active, got %+v", counts)
	}
}
