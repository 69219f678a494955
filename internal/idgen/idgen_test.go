package idgen

import "testing"

func TestNewProducesUniqueIDs(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewString()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewIsVersion7OrFallbackVersion4(t *testing.T) {
	id := New()
	v := id.Version()
	if v != 7 && v != 4 {
		t.Fatalf("expected uuid version 7 (or 4 fallback), got %d", v)
	}
}
