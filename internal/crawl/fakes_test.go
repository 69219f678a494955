package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"raito/internal/queue"
)

// fakeStore is an in-memory Store, small enough to fake exactly rather
// than faking all of internal/kv.Store's wider surface.
type fakeStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	sets    map[string]map[string]bool
	lists   map[string][]string
	nxKeys  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]bool),
		lists:  make(map[string][]string),
		nxKeys: make(map[string]bool),
	}
}

func (s *fakeStore) SetJSON(_ context.Context, key string, v any, _ time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = data
	return nil
}

func (s *fakeStore) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	data, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (s *fakeStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.sets, k)
		delete(s.lists, k)
		delete(s.nxKeys, k)
	}
	return nil
}

func (s *fakeStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]bool)
	}
	var added int64
	for _, m := range members {
		if !s.sets[key][m] {
			s.sets[key][m] = true
			added++
		}
	}
	return added, nil
}

func (s *fakeStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, m := range members {
		if s.sets[key][m] {
			delete(s.sets[key], m)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *fakeStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeStore) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nxKeys[key] {
		return false, nil
	}
	s.nxKeys[key] = true
	return true, nil
}

func (s *fakeStore) LPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(values, s.lists[key]...)
	return nil
}

func (s *fakeStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.lists[key]
	if stop < 0 || int(stop) >= len(all) {
		stop = int64(len(all)) - 1
	}
	if start > stop || len(all) == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, all[start:stop+1])
	return out, nil
}

func (s *fakeStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

// fakeEnqueuer is an in-memory Enqueuer, mirroring
// internal/queue's own fakeBackend so crawl's orchestrator/worker
// logic can be tested without a live Postgres-backed Queue.
type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*queue.Job
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{jobs: make(map[uuid.UUID]*queue.Job)}
}

func (f *fakeEnqueuer) Add(_ context.Context, id uuid.UUID, data json.RawMessage) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &queue.Job{ID: id, Status: queue.StatusQueued, Data: data, CreatedAt: time.Now()}
	f.jobs[id] = j
	cp := *j
	return &cp, nil
}

func (f *fakeEnqueuer) Claim(_ context.Context, nonce string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *queue.Job
	for _, j := range f.jobs {
		if j.Status != queue.StatusQueued {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = queue.StatusActive
	oldest.Lock = nonce
	cp := *oldest
	return &cp, nil
}

func (f *fakeEnqueuer) RenewLock(_ context.Context, id uuid.UUID, nonce string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Lock != nonce {
		return false, nil
	}
	return true, nil
}

func (f *fakeEnqueuer) Finish(_ context.Context, id uuid.UUID, nonce string, ret json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Lock != nonce {
		return false, nil
	}
	j.Status = queue.StatusCompleted
	j.ReturnValue = ret
	return true, nil
}

func (f *fakeEnqueuer) Fail(_ context.Context, id uuid.UUID, nonce string, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Lock != nonce {
		return false, nil
	}
	j.Status = queue.StatusFailed
	j.FailedReason = reason
	return true, nil
}

func (f *fakeEnqueuer) Remove(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return false, nil
	}
	delete(f.jobs, id)
	return true, nil
}

func (f *fakeEnqueuer) GetJobsWithStatuses(_ context.Context, ids []uuid.UUID, statuses []queue.Status) ([]queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[queue.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []queue.Job
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

func (f *fakeEnqueuer) queuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, j := range f.jobs {
		if j.Status == queue.StatusQueued {
			n++
		}
	}
	return n
}

func (f *fakeEnqueuer) allData() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, j := range f.jobs {
		out = append(out, fmt.Sprintf("%s", j.Data))
	}
	return out
}
