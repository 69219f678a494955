package extractpipeline

import (
	"context"
	"fmt"
	"time"
)

// RecordKV is the slice of internal/kv.Store the record store needs.
// *kv.Store satisfies it directly.
type RecordKV interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
}

// Record is the KV-persisted outcome of an extract run, keyed as
// extract:<id> so GET /v2/extract/:id can serve results after the
// submitting request has returned.
type Record struct {
	ID          string                 `json:"id"`
	TeamID      string                 `json:"teamId,omitempty"`
	Status      string                 `json:"status"` // completed or failed
	Data        map[string]interface{} `json:"data,omitempty"`
	Sources     map[string][]string    `json:"sources,omitempty"`
	CreditsUsed int64                  `json:"creditsUsed,omitempty"`
	Warning     string                 `json:"warning,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   int64                  `json:"createdAt"`
	ExpiresAt   int64                  `json:"expiresAt"`
}

// RecordStore persists extract Records with a TTL (6h default).
type RecordStore struct {
	kv  RecordKV
	ttl time.Duration
}

func NewRecordStore(kv RecordKV, ttl time.Duration) *RecordStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RecordStore{kv: kv, ttl: ttl}
}

func recordKey(id string) string { return fmt.Sprintf("extract:%s", id) }

// TTL reports the configured record lifetime, used to stamp ExpiresAt.
func (s *RecordStore) TTL() time.Duration { return s.ttl }

func (s *RecordStore) Save(ctx context.Context, rec Record) error {
	return s.kv.SetJSON(ctx, recordKey(rec.ID), rec, s.ttl)
}

func (s *RecordStore) Get(ctx context.Context, id string) (*Record, bool, error) {
	var rec Record
	ok, err := s.kv.GetJSON(ctx, recordKey(id), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rec, true, nil
}
