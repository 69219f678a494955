package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestPostgresBackendLiveRoundTrip exercises the real SQL (FOR UPDATE
// SKIP LOCKED claim, trigger-fired NOTIFY) against a live database.
// Skipped unless NUQ_TEST_DATABASE_URL is set, so the default test run
// needs no infrastructure.
func TestPostgresBackendLiveRoundTrip(t *testing.T) {
	dsn := os.Getenv("NUQ_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NUQ_TEST_DATABASE_URL not set; skipping live Postgres test")
	}

	backend, err := newPostgresBackend(dsn)
	if err != nil {
		t.Fatalf("newPostgresBackend: %v", err)
	}

	ctx := context.Background()
	id := uuid.New()

	if err := backend.Add(ctx, id, json.RawMessage(`{"url":"https://example.com"}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer backend.Remove(ctx, id)

	job, err := backend.Claim(ctx, "worker-1")
	if err != nil || job == nil || job.ID != id {
		t.Fatalf("Claim: job=%v err=%v", job, err)
	}

	ok, err := backend.Finish(ctx, id, "worker-1", json.RawMessage(`{"status":200}`))
	if err != nil || !ok {
		t.Fatalf("Finish: ok=%v err=%v", ok, err)
	}

	got, err := backend.GetJob(ctx, id)
	if err != nil || got == nil || got.Status != StatusCompleted {
		t.Fatalf("GetJob after finish: got=%v err=%v", got, err)
	}
}

// TestNotifierLiveWaitForJob exercises LISTEN/NOTIFY end to end: a
// waiter subscribed before the trigger fires should be woken promptly.
func TestNotifierLiveWaitForJob(t *testing.T) {
	dsn := os.Getenv("NUQ_TEST_DATABASE_URL")
	listenDSN := os.Getenv("NUQ_TEST_DATABASE_URL_LISTEN")
	if dsn == "" || listenDSN == "" {
		t.Skip("NUQ_TEST_DATABASE_URL(_LISTEN) not set; skipping live notifier test")
	}

	q, err := New(dsn, listenDSN)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Start(ctx)

	id := uuid.New()
	if _, err := q.Add(ctx, id, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer q.Remove(ctx, id)

	if _, err := q.Claim(ctx, "worker-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		q.Finish(ctx, id, "worker-1", json.RawMessage(`{}`))
	}()

	status, err := q.WaitForJob(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForJob: %v", err)
	}
	if status != StatusCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
}
