package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	raitoerrors "raito/internal/errors"
	"raito/internal/scraper"
)

// fakeEngine returns a canned result/error and records whether it was
// invoked, so tests can assert which engines the pipeline actually
// tried.
type fakeEngine struct {
	name    string
	caps    Capabilities
	result  *scraper.Result
	err     error
	invoked bool
}

func (f *fakeEngine) Name() string               { return f.name }
func (f *fakeEngine) Capabilities() Capabilities { return f.caps }
func (f *fakeEngine) Scrape(ctx context.Context, req scraper.Request) (*scraper.Result, error) {
	f.invoked = true
	return f.result, f.err
}

func TestPipelineAcceptsOnBadStatusCodeWithoutTryingNextEngine(t *testing.T) {
	first := &fakeEngine{name: "http", result: &scraper.Result{Status: 404, Markdown: "", Engine: "http"}}
	second := &fakeEngine{name: "browser", result: &scraper.Result{Status: 200, Markdown: "this is plenty long enough to be accepted by the pipeline threshold check"}}

	p := NewPipeline([]Engine{first, second}, 100, time.Second)
	out, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com/missing"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Engine != "http" {
		t.Fatalf("expected the 404 to be accepted from the first engine, got %q", out.Engine)
	}
	if second.invoked {
		t.Fatal("a bad status code is authoritative; the second engine should not have been tried")
	}
}

func TestPipelineAcceptsOnRedirectStatusWithoutTryingNextEngine(t *testing.T) {
	first := &fakeEngine{name: "http", result: &scraper.Result{Status: 301, Markdown: "", Engine: "http"}}
	second := &fakeEngine{name: "browser", result: &scraper.Result{Status: 200, Markdown: "this is plenty long enough to be accepted by the pipeline threshold check"}}

	p := NewPipeline([]Engine{first, second}, 100, time.Second)
	out, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com/moved"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Engine != "http" {
		t.Fatalf("expected the 301 to be accepted from the first engine, got %q", out.Engine)
	}
	if second.invoked {
		t.Fatal("a 3xx status is authoritative; the second engine should not have been tried")
	}
}

func TestPipelineAcceptsOnLongEnoughMarkdown(t *testing.T) {
	longMarkdown := ""
	for i := 0; i < 120; i++ {
		longMarkdown += "a"
	}
	eng := &fakeEngine{name: "http", result: &scraper.Result{Status: 200, Markdown: longMarkdown}}

	p := NewPipeline([]Engine{eng}, 100, time.Second)
	out, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Engine != "http" {
		t.Fatalf("expected http engine result, got %q", out.Engine)
	}
}

func TestPipelineFallsThroughOnThinMarkdown(t *testing.T) {
	first := &fakeEngine{name: "http", result: &scraper.Result{Status: 200, Markdown: "too short"}}
	second := &fakeEngine{name: "browser", result: &scraper.Result{Status: 200, Markdown: "this is plenty long enough to be accepted by the pipeline threshold check"}}

	p := NewPipeline([]Engine{first, second}, 50, time.Second)
	out, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Engine != "browser" {
		t.Fatalf("expected fallthrough to browser engine, got %q", out.Engine)
	}
	if !first.invoked {
		t.Fatal("expected first engine to have been tried")
	}
	if len(out.Logs) != 2 {
		t.Fatalf("expected one log line per engine attempt, got %v", out.Logs)
	}
}

func TestPipelineExhaustionReturnsNoEnginesLeft(t *testing.T) {
	first := &fakeEngine{name: "http", err: errors.New("connection refused")}
	second := &fakeEngine{name: "browser", result: &scraper.Result{Status: 200, Markdown: "short"}}

	p := NewPipeline([]Engine{first, second}, 100, time.Second)
	_, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected an error when every engine is exhausted")
	}
	te, ok := raitoerrors.As(err)
	if !ok {
		t.Fatalf("expected a TransportableError, got %T: %v", err, err)
	}
	if te.Code != raitoerrors.NoEnginesLeft {
		t.Fatalf("expected NoEnginesLeft, got %s", te.Code)
	}
}

func TestPipelineSkipsErroringEngineAndTriesNext(t *testing.T) {
	first := &fakeEngine{name: "http", err: errors.New("timeout")}
	second := &fakeEngine{name: "browser", result: &scraper.Result{Status: 200, Markdown: "this is plenty long enough to be accepted by the pipeline threshold check"}}

	p := NewPipeline([]Engine{first, second}, 50, time.Second)
	out, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Engine != "browser" {
		t.Fatalf("expected browser engine to be used after http errored, got %q", out.Engine)
	}
}

func TestPipelineNoEnginesConfigured(t *testing.T) {
	p := NewPipeline(nil, 100, time.Second)
	_, err := p.Run(context.Background(), scraper.Request{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected an error with no engines configured")
	}
}
