package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	raitoerrors "raito/internal/errors"
)

// fakeBackend is an in-memory Backend used to exercise Queue's claim/
// finish/fail/renew semantics without a live Postgres instance.
type fakeBackend struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{jobs: make(map[uuid.UUID]*Job)}
}

func (f *fakeBackend) Add(ctx context.Context, id uuid.UUID, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.jobs[id]; exists {
		return raitoerrors.New(raitoerrors.DuplicateJob, "job "+id.String()+" already exists")
	}
	f.jobs[id] = &Job{ID: id, Status: StatusQueued, Data: data, CreatedAt: time.Now()}
	return nil
}

func (f *fakeBackend) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeBackend) GetJobs(ctx context.Context, ids []uuid.UUID) ([]Job, error) {
	return f.GetJobsWithStatuses(ctx, ids, nil)
}

func (f *fakeBackend) GetJobsWithStatuses(ctx context.Context, ids []uuid.UUID, statuses []Status) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []Job
	for _, id := range ids {
		j, ok := f.jobs[id]
		if !ok {
			continue
		}
		if len(statuses) > 0 && !want[j.Status] {
			continue
		}
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeBackend) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return false, nil
	}
	delete(f.jobs, id)
	return true, nil
}

func (f *fakeBackend) Claim(ctx context.Context, workerNonce string) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var oldest *Job
	for _, j := range f.jobs {
		if j.Status != StatusQueued {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = StatusActive
	oldest.Lock = workerNonce
	oldest.LockedAt = time.Now()
	cp := *oldest
	return &cp, nil
}

func (f *fakeBackend) RenewLock(ctx context.Context, id uuid.UUID, workerNonce string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != StatusActive || j.Lock != workerNonce {
		return false, nil
	}
	j.LockedAt = time.Now()
	return true, nil
}

func (f *fakeBackend) Finish(ctx context.Context, id uuid.UUID, workerNonce string, returnValue json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != StatusActive || j.Lock != workerNonce {
		return false, nil
	}
	j.Status = StatusCompleted
	j.ReturnValue = returnValue
	j.FinishedAt = time.Now()
	return true, nil
}

func (f *fakeBackend) Fail(ctx context.Context, id uuid.UUID, workerNonce string, failedReason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != StatusActive || j.Lock != workerNonce {
		return false, nil
	}
	j.Status = StatusFailed
	j.FailedReason = failedReason
	j.FinishedAt = time.Now()
	return true, nil
}

func (f *fakeBackend) ReapExpired(ctx context.Context, leaseDuration time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-leaseDuration)
	for _, j := range f.jobs {
		if j.Status == StatusActive && j.LockedAt.Before(cutoff) {
			j.Status = StatusQueued
			j.Lock = ""
			j.LockedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (f *fakeBackend) CountsByStatus(ctx context.Context) (map[Status]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[Status]int64{}
	for _, j := range f.jobs {
		out[j.Status]++
	}
	return out, nil
}
