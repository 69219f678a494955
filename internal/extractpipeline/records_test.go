package extractpipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeRecordKV struct {
	values map[string][]byte
	ttls   map[string]time.Duration
}

func newFakeRecordKV() *fakeRecordKV {
	return &fakeRecordKV{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRecordKV) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.values[key] = data
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRecordKV) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	data, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func TestRecordStoreRoundTrip(t *testing.T) {
	kv := newFakeRecordKV()
	store := NewRecordStore(kv, 0) // zero falls back to the 6h default
	ctx := context.Background()

	rec := Record{ID: "ex-1", Status: "completed", Data: map[string]interface{}{"title": "hi"}, CreditsUsed: 301}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if kv.ttls["extract:ex-1"] != 6*time.Hour {
		t.Fatalf("expected the 6h default TTL, got %v", kv.ttls["extract:ex-1"])
	}

	got, ok, err := store.Get(ctx, "ex-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Status != "completed" || got.CreditsUsed != 301 || got.Data["title"] != "hi" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRecordStoreMissingID(t *testing.T) {
	store := NewRecordStore(newFakeRecordKV(), time.Hour)
	_, ok, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected a missing record to report ok=false")
	}
}
