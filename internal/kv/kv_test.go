package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a real Redis instance. Skipped unless
// REDIS_TEST_URL is set, matching internal/queue's pattern of gating
// live-backend tests behind an env var rather than faking the entire
// redis.Cmdable surface.
func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set; skipping live Redis test")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	rdb := redis.NewClient(opt)
	return New(rdb), func() { rdb.Close() }
}

func TestSAddDedupAdmissionSignal(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()
	key := "kv_test:visited:" + time.Now().Format(time.RFC3339Nano)
	defer store.Del(ctx, key)

	added, err := store.SAdd(ctx, key, "https://example.com/a")
	if err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if added != 1 {
		t.Fatalf("first add of a new URL should increase cardinality by 1, got %d", added)
	}

	added, err = store.SAdd(ctx, key, "https://example.com/a")
	if err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	if added != 0 {
		t.Fatalf("re-adding the same URL should not increase cardinality, got %d", added)
	}
}

func TestSetNXCompletionElection(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()
	key := "kv_test:finish:" + time.Now().Format(time.RFC3339Nano)
	defer store.Del(ctx, key)

	won, err := store.SetNX(ctx, key, "yes", time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if !won {
		t.Fatal("first SetNX should win the election")
	}

	won, err = store.SetNX(ctx, key, "yes", time.Minute)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if won {
		t.Fatal("second SetNX should lose the election")
	}
}

func TestZCountFromSelfPrunes(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()
	key := "kv_test:activejobs:" + time.Now().Format(time.RFC3339Nano)
	defer store.Del(ctx, key)

	now := float64(time.Now().Unix())
	if err := store.ZAdd(ctx, key, now+60, "expires-soon"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}
	if err := store.ZAdd(ctx, key, now-60, "already-expired"); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	count, err := store.ZCountFrom(ctx, key, now)
	if err != nil {
		t.Fatalf("ZCountFrom: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected only the non-expired member to count, got %d", count)
	}
}

func TestSetJSONGetJSONRoundTrip(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()
	key := "kv_test:json:" + time.Now().Format(time.RFC3339Nano)
	defer store.Del(ctx, key)

	type payload struct {
		Name string `json:"name"`
	}
	in := payload{Name: "crawl-42"}
	if err := store.SetJSON(ctx, key, in, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out payload
	ok, err := store.GetJSON(ctx, key, &out)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if out.Name != in.Name {
		t.Fatalf("round trip mismatch: got %q, want %q", out.Name, in.Name)
	}
}

func TestSRemClearsPendingChildTracking(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()
	key := "kv_test:pending:" + time.Now().Format(time.RFC3339Nano)
	defer store.Del(ctx, key)

	if _, err := store.SAdd(ctx, key, "child-1", "child-2"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	removed, err := store.SRem(ctx, key, "child-1")
	if err != nil {
		t.Fatalf("SRem: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 member removed, got %d", removed)
	}
	card, err := store.SCard(ctx, key)
	if err != nil {
		t.Fatalf("SCard: %v", err)
	}
	if card != 1 {
		t.Fatalf("expected 1 remaining member, got %d", card)
	}
}

func TestGetJSONMissingKey(t *testing.T) {
	store, closeFn := newTestStore(t)
	defer closeFn()
	ctx := context.Background()

	var out map[string]any
	ok, err := store.GetJSON(ctx, "kv_test:does-not-exist", &out)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing key")
	}
}
