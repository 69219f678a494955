package crawl

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"raito/internal/engine"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/queue"
	"raito/internal/scraper"
)

// fakeScrapeEngine is a single-engine stand-in so Worker tests exercise
// the real engine.Pipeline without a live HTTP/browser scrape.
type fakeScrapeEngine struct {
	result *scraper.Result
	err    error
}

func (f *fakeScrapeEngine) Name() string                      { return "fake" }
func (f *fakeScrapeEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (f *fakeScrapeEngine) Scrape(ctx context.Context, req scraper.Request) (*scraper.Result, error) {
	return f.result, f.err
}

func newTestWorker(store *fakeStore, enq *fakeEnqueuer, eng *fakeScrapeEngine) *Worker {
	pipeline := engine.NewPipeline([]engine.Engine{eng}, 1, time.Second)
	return NewWorker(enq, store, pipeline, nil, nil, 1, time.Millisecond, time.Hour, nil)
}

// claimAs hands the oldest queued fake job to the worker's own nonce,
// the same way Worker.loop would have claimed it before dispatching.
func claimAs(t *testing.T, enq *fakeEnqueuer, w *Worker) *queue.Job {
	t.Helper()
	job, err := enq.Claim(context.Background(), w.nonce)
	if err != nil || job == nil {
		t.Fatalf("claim: job=%v err=%v", job, err)
	}
	return job
}

func TestHandleKickoffAdmitsOriginURLWhenDiscoveryFindsNothing(t *testing.T) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	eng := &fakeScrapeEngine{result: &scraper.Result{Status: 200, Markdown: "hello world", Engine: "fake"}}
	w := newTestWorker(store, enq, eng)
	ctx := context.Background()

	stored := model.StoredCrawl{ID: "crawl-1", OriginURL: "https://unroutable.invalid.example", Crawler: model.CrawlerOptions{Limit: 10}}
	if err := store.SetJSON(ctx, crawlKey(stored.ID), stored, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	mustAddKickoff(t, enq, stored.ID)
	job := claimAs(t, enq, w)
	w.handleKickoff(ctx, job.ID, job.Data)

	card, err := store.SCard(ctx, jobsKey(stored.ID))
	if err != nil {
		t.Fatalf("SCard: %v", err)
	}
	if card != 1 {
		t.Fatalf("expected the origin URL itself to be admitted to the frontier even when discovery finds nothing, got %d child jobs", card)
	}
	visited, _ := store.SCard(ctx, visitedKey(stored.ID))
	if visited != 1 {
		t.Fatalf("expected one visited URL, got %d", visited)
	}
}

func TestHandleKickoffSkipsCancelledCrawl(t *testing.T) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	eng := &fakeScrapeEngine{result: &scraper.Result{Status: 200, Markdown: "hello"}}
	w := newTestWorker(store, enq, eng)
	ctx := context.Background()

	stored := model.StoredCrawl{ID: "crawl-2", OriginURL: "https://example.com", Cancelled: true}
	if err := store.SetJSON(ctx, crawlKey(stored.ID), stored, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	mustAddKickoff(t, enq, stored.ID)
	job := claimAs(t, enq, w)
	w.handleKickoff(ctx, job.ID, job.Data)

	card, _ := store.SCard(ctx, jobsKey(stored.ID))
	if card != 0 {
		t.Fatalf("expected a cancelled crawl to admit no URLs, got %d", card)
	}
}

func TestHandleScrapeRecordsDocumentAndWinsFinishElection(t *testing.T) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	eng := &fakeScrapeEngine{result: &scraper.Result{Status: 200, Markdown: "plenty of markdown content here", Engine: "fake"}}
	w := newTestWorker(store, enq, eng)
	ctx := context.Background()

	stored := model.StoredCrawl{ID: "crawl-3", OriginURL: "https://example.com"}
	if err := store.SetJSON(ctx, crawlKey(stored.ID), stored, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	payload := scrapePayload{Type: "scrape", CrawlID: stored.ID, URL: "https://example.com"}
	jobID := mustAddScrape(t, enq, payload)
	if _, err := store.SAdd(ctx, jobsKey(stored.ID), jobID.String()); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	job := claimAs(t, enq, w)
	w.handleScrape(ctx, job.ID, job.Data)

	done, _ := store.SCard(ctx, jobsDoneKey(stored.ID))
	if done != 1 {
		t.Fatalf("expected the child job marked done, got %d", done)
	}
	docsLen, _ := store.LLen(ctx, docsKey(stored.ID))
	if docsLen != 1 {
		t.Fatalf("expected one document recorded, got %d", docsLen)
	}

	won, err := store.SetNX(ctx, finishLockKey(stored.ID), "done", time.Hour)
	if err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if won {
		t.Fatal("expected the worker to have already won the finish-lock election for the last pending job")
	}
}

func TestHandleScrapeFailsJobOnEngineExhaustion(t *testing.T) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	eng := &fakeScrapeEngine{result: &scraper.Result{Status: 200, Markdown: ""}}
	w := newTestWorker(store, enq, eng)
	ctx := context.Background()

	stored := model.StoredCrawl{ID: "crawl-4", OriginURL: "https://example.com"}
	if err := store.SetJSON(ctx, crawlKey(stored.ID), stored, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	payload := scrapePayload{Type: "scrape", CrawlID: stored.ID, URL: "https://example.com/thin"}
	jobID := mustAddScrape(t, enq, payload)
	if _, err := store.SAdd(ctx, jobsKey(stored.ID), jobID.String()); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	job := claimAs(t, enq, w)
	w.handleScrape(ctx, job.ID, job.Data)

	failed, err := enq.GetJobsWithStatuses(ctx, []uuid.UUID{jobID}, []queue.Status{queue.StatusFailed})
	if err != nil {
		t.Fatalf("GetJobsWithStatuses: %v", err)
	}
	if len(failed) != 1 {
		t.Fatal("expected thin/empty markdown to exhaust the (single-engine) pipeline and fail the NuQ job")
	}
	done, _ := store.SCard(ctx, jobsDoneKey(stored.ID))
	if done != 1 {
		t.Fatalf("expected the failed child still counted as done, got %d", done)
	}
}

func TestHandleScrapeDiscoversAndAdmitsInScopeLinks(t *testing.T) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	eng := &fakeScrapeEngine{result: &scraper.Result{
		Status:   200,
		Markdown: "plenty of markdown content for the root page here",
		Links: []string{
			"https://example.com/blog",
			"https://other.example.net/offsite",
		},
	}}
	w := newTestWorker(store, enq, eng)
	ctx := context.Background()

	stored := model.StoredCrawl{ID: "crawl-5", OriginURL: "https://example.com", Crawler: model.CrawlerOptions{Limit: 10}}
	if err := store.SetJSON(ctx, crawlKey(stored.ID), stored, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	payload := scrapePayload{Type: "scrape", CrawlID: stored.ID, URL: "https://example.com"}
	jobID := mustAddScrape(t, enq, payload)
	if _, err := store.SAdd(ctx, jobsKey(stored.ID), jobID.String()); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	job := claimAs(t, enq, w)
	w.handleScrape(ctx, job.ID, job.Data)

	// Only the same-host link is admitted; the off-site one is out of
	// scope with AllowExternal unset.
	card, _ := store.SCard(ctx, jobsKey(stored.ID))
	if card != 2 {
		t.Fatalf("expected original job plus one discovered child, got %d", card)
	}
	if enq.queuedCount() != 1 {
		t.Fatalf("expected exactly one new scrape job queued for the discovered link, got %d", enq.queuedCount())
	}
}

func TestHandleScrapeZeroDataRetentionRemovesTerminalRow(t *testing.T) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	eng := &fakeScrapeEngine{result: &scraper.Result{Status: 200, Markdown: "plenty of markdown content here"}}
	w := newTestWorker(store, enq, eng)
	ctx := context.Background()

	stored := model.StoredCrawl{ID: "crawl-6", OriginURL: "https://example.com"}
	stored.Internal.ZeroDataRetention = true
	if err := store.SetJSON(ctx, crawlKey(stored.ID), stored, time.Hour); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	payload := scrapePayload{Type: "scrape", CrawlID: stored.ID, URL: "https://example.com"}
	jobID := mustAddScrape(t, enq, payload)
	if _, err := store.SAdd(ctx, jobsKey(stored.ID), jobID.String()); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	job := claimAs(t, enq, w)
	w.handleScrape(ctx, job.ID, job.Data)

	remaining, err := enq.GetJobsWithStatuses(ctx, []uuid.UUID{jobID}, nil)
	if err != nil {
		t.Fatalf("GetJobsWithStatuses: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatal("expected the ZDR job's terminal queue row to be removed eagerly")
	}
}

func mustAddKickoff(t *testing.T, enq *fakeEnqueuer, crawlID string) uuid.UUID {
	t.Helper()
	data := mustMarshal(t, kickoffPayload{Type: "kickoff", CrawlID: crawlID})
	job, err := enq.Add(context.Background(), idgen.New(), data)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return job.ID
}

func mustAddScrape(t *testing.T, enq *fakeEnqueuer, payload scrapePayload) uuid.UUID {
	t.Helper()
	job, err := enq.Add(context.Background(), idgen.New(), mustMarshal(t, payload))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return job.ID
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
