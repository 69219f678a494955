package crawl

import (
	"context"
	"testing"
)

func TestPathPolicyAllowsEverythingByDefault(t *testing.T) {
	p, err := compilePathPolicy(nil, nil, false)
	if err != nil {
		t.Fatalf("compilePathPolicy: %v", err)
	}
	if !p.allows("https://example.com/anything") {
		t.Fatal("expected no-policy to allow any URL")
	}
}

func TestPathPolicyExcludeWins(t *testing.T) {
	p, err := compilePathPolicy([]string{"/docs"}, []string{"/docs/internal"}, false)
	if err != nil {
		t.Fatalf("compilePathPolicy: %v", err)
	}
	if !p.allows("https://example.com/docs/guide") {
		t.Fatal("expected /docs/guide to be admitted")
	}
	if p.allows("https://example.com/docs/internal/secret") {
		t.Fatal("expected exclude to win over include")
	}
	if p.allows("https://example.com/blog/post") {
		t.Fatal("expected non-matching include path to be rejected")
	}
}

func TestPathPolicyMatchesFullURLWhenRequested(t *testing.T) {
	onPath, err := compilePathPolicy(nil, []string{"^https://"}, false)
	if err != nil {
		t.Fatalf("compilePathPolicy: %v", err)
	}
	if !onPath.allows("https://example.com/docs") {
		t.Fatal("expected a scheme-anchored exclude to miss when matching paths only")
	}

	onFull, err := compilePathPolicy(nil, []string{"^https://"}, true)
	if err != nil {
		t.Fatalf("compilePathPolicy: %v", err)
	}
	if onFull.allows("https://example.com/docs") {
		t.Fatal("expected a scheme-anchored exclude to hit when matching the full URL")
	}
}

func TestCompilePathPolicyRejectsInvalidRegex(t *testing.T) {
	if _, err := compilePathPolicy([]string{"["}, nil, false); err == nil {
		t.Fatal("expected invalid include pattern to fail to compile")
	}
	if _, err := compilePathPolicy(nil, []string{"("}, false); err == nil {
		t.Fatal("expected invalid exclude pattern to fail to compile")
	}
}

func TestTryAdmitURLDedupsByCanonicalForm(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	canon, admitted, err := tryAdmitURL(ctx, store, "crawl-1", "https://Example.com/Page#frag", false, 0)
	if err != nil {
		t.Fatalf("tryAdmitURL: %v", err)
	}
	if !admitted {
		t.Fatal("expected first sight of a URL to be admitted")
	}
	if canon != "https://example.com/Page" {
		t.Fatalf("unexpected canonical form: %q", canon)
	}

	_, admitted, err = tryAdmitURL(ctx, store, "crawl-1", "https://example.com/Page", false, 0)
	if err != nil {
		t.Fatalf("tryAdmitURL: %v", err)
	}
	if admitted {
		t.Fatal("expected a previously-seen canonical URL to be rejected as a duplicate")
	}
}

func TestTryAdmitURLLimitBoundary(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	const limit = 3

	for i, u := range []string{"https://a.test/", "https://a.test/blog"} {
		if _, admitted, err := tryAdmitURL(ctx, store, "crawl-1", u, false, limit); err != nil || !admitted {
			t.Fatalf("seed URL %d: admitted=%v err=%v", i, admitted, err)
		}
	}

	// |visited| == limit-1: exactly one more URL fits.
	_, admitted, err := tryAdmitURL(ctx, store, "crawl-1", "https://a.test/docs", false, limit)
	if err != nil {
		t.Fatalf("tryAdmitURL at limit-1: %v", err)
	}
	if !admitted {
		t.Fatal("expected the frontier to admit exactly one more URL at limit-1")
	}

	// The frontier is full now; the next URL is rejected.
	_, admitted, err = tryAdmitURL(ctx, store, "crawl-1", "https://a.test/about", false, limit)
	if err != nil {
		t.Fatalf("tryAdmitURL at limit: %v", err)
	}
	if admitted {
		t.Fatal("expected admission rejected once the frontier reached its limit")
	}
}

func TestTryAdmitURLRejectsUnparseableURL(t *testing.T) {
	store := newFakeStore()
	if _, _, err := tryAdmitURL(context.Background(), store, "crawl-1", "://bad", false, 0); err == nil {
		t.Fatal("expected an unparseable URL to fail admission")
	}
}
