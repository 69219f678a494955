package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"raito/internal/billing"
	"raito/internal/engine"
	"raito/internal/scraper"
)

type fakeProvider struct {
	results *Results
	err     error
}

func (f *fakeProvider) Search(_ context.Context, _ *Request) (*Results, error) {
	return f.results, f.err
}

// fakeEngine returns deterministic markdown keyed by URL so tests can
// assert per-item aggregation lines up with the originating result.
type fakeEngine struct{}

func (fakeEngine) Name() string                   { return "fake" }
func (fakeEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (fakeEngine) Scrape(_ context.Context, req scraper.Request) (*scraper.Result, error) {
	return &scraper.Result{URL: req.URL, Markdown: fmt.Sprintf("content for %s, long enough to pass the acceptance threshold check here", req.URL), Status: 200}, nil
}

type fakeDebiter struct {
	charged map[string]int64
}

func (f *fakeDebiter) DebitCredits(teamID string, n int64) bool {
	if f.charged == nil {
		f.charged = map[string]int64{}
	}
	f.charged[teamID] += n
	return true
}

func testPipeline() *engine.Pipeline {
	return engine.NewPipeline([]engine.Engine{fakeEngine{}}, 10, time.Second)
}

func TestOrchestratorRun_PreservesOrderAndAttachesDocuments(t *testing.T) {
	results := &Results{
		Web: []Result{
			{Title: "a", URL: "https://a.example"},
			{Title: "b", URL: "https://b.example"},
			{Title: "c", URL: "https://c.example"},
		},
	}
	provider := &fakeProvider{results: results}
	debiter := &fakeDebiter{}
	bill := billing.New(debiter)

	orch := NewOrchestrator(provider, testPipeline(), bill, 2, "test-agent")

	out, err := orch.Run(context.Background(), "team-1", &Request{Query: "q", Limit: 10}, &ScrapeSettings{Formats: []string{"markdown"}, TimeoutMs: 1000})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(out.Web) != 3 {
		t.Fatalf("expected 3 web results, got %d", len(out.Web))
	}
	for i, item := range out.Web {
		if item.URL != results.Web[i].URL {
			t.Fatalf("result %d out of order: expected %s, got %s", i, results.Web[i].URL, item.URL)
		}
		if item.Document == nil {
			t.Fatalf("result %d missing document", i)
		}
	}
	if debiter.charged["team-1"] == 0 {
		t.Fatalf("expected credits charged to team-1, got 0")
	}
}

func TestOrchestratorRun_ImagesAreNotScrapedButBilledFlatRate(t *testing.T) {
	results := &Results{
		Images: []Result{{Title: "img1", URL: "https://img.example/1.png"}},
	}
	provider := &fakeProvider{results: results}
	debiter := &fakeDebiter{}
	bill := billing.New(debiter)

	orch := NewOrchestrator(provider, testPipeline(), bill, 2, "test-agent")

	out, err := orch.Run(context.Background(), "team-1", &Request{Query: "q"}, &ScrapeSettings{TimeoutMs: 1000})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(out.Images) != 1 || out.Images[0].Document != nil {
		t.Fatalf("expected one unscraped image result, got %+v", out.Images)
	}
	if debiter.charged["team-1"] != billing.ImageFlatRate() {
		t.Fatalf("expected image flat rate %d charged, got %d", billing.ImageFlatRate(), debiter.charged["team-1"])
	}
}

func TestOrchestratorRun_NoScrapeSettingsSkipsScraping(t *testing.T) {
	results := &Results{Web: []Result{{Title: "a", URL: "https://a.example"}}}
	provider := &fakeProvider{results: results}
	orch := NewOrchestrator(provider, testPipeline(), nil, 2, "test-agent")

	out, err := orch.Run(context.Background(), "team-1", &Request{Query: "q"}, nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Web[0].Document != nil {
		t.Fatalf("expected no document attached when scrape settings are nil")
	}
}
