package crawl

import (
	"context"
	"testing"
	"time"

	raitoerrors "raito/internal/errors"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/queue"
)

func newTestOrchestrator() (*Orchestrator, *fakeStore, *fakeEnqueuer) {
	store := newFakeStore()
	enq := newFakeEnqueuer()
	o := New(store, enq, time.Hour, 1000, 10_000_000)
	return o, store, enq
}

func TestSubmitRejectsEmptyURL(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	if _, err := o.Submit(context.Background(), Request{}); err == nil {
		t.Fatal("expected empty origin URL to be rejected")
	} else if !raitoerrors.IsCode(err, raitoerrors.BadRequest) {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}

func TestSubmitRejectsInvalidPathPattern(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	req := Request{OriginURL: "https://example.com"}
	req.Crawler.IncludePaths = []string{"["}
	if _, err := o.Submit(context.Background(), req); err == nil {
		t.Fatal("expected invalid include pattern to be rejected")
	}
}

func TestSubmitClampsLimitToHardMax(t *testing.T) {
	o, store, enq := newTestOrchestrator()
	req := Request{
		OriginURL: "https://example.com",
		Crawler:   model.CrawlerOptions{Limit: 50_000},
	}
	id, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var stored model.StoredCrawl
	ok, err := store.GetJSON(context.Background(), crawlKey(id), &stored)
	if err != nil || !ok {
		t.Fatalf("expected crawl record to be persisted, ok=%v err=%v", ok, err)
	}
	if stored.Crawler.Limit != 1000 {
		t.Fatalf("expected limit clamped to hardMaxLimit 1000, got %d", stored.Crawler.Limit)
	}
	if enq.queuedCount() != 1 {
		t.Fatalf("expected one kickoff job queued, got %d", enq.queuedCount())
	}
}

func TestSubmitSitemapOnlySentinelAlsoClampsToHardMax(t *testing.T) {
	o, store, _ := newTestOrchestrator()
	req := Request{
		OriginURL: "https://example.com",
		Crawler:   model.CrawlerOptions{Limit: 10_000_000, SitemapMode: "only"},
	}
	id, err := o.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var stored model.StoredCrawl
	_, _ = store.GetJSON(context.Background(), crawlKey(id), &stored)
	if stored.Crawler.Limit != 1000 {
		t.Fatalf("expected sitemap-only sentinel to still clamp to hardMaxLimit, got %d", stored.Crawler.Limit)
	}
}

func TestStatusReportsPendingDocsAndErrorsCounts(t *testing.T) {
	o, store, enq := newTestOrchestrator()
	id, err := o.Submit(context.Background(), Request{OriginURL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx := context.Background()

	// Two children enqueued; one fails, one is still pending.
	failedJob, err := enq.Add(ctx, idgen.New(), mustMarshal(t, scrapePayload{Type: "scrape", CrawlID: id, URL: "https://example.com/b"}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	pendingJob, err := enq.Add(ctx, idgen.New(), mustMarshal(t, scrapePayload{Type: "scrape", CrawlID: id, URL: "https://example.com/a"}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, _ = store.SAdd(ctx, jobsKey(id), failedJob.ID.String(), pendingJob.ID.String())
	_, _ = store.SAdd(ctx, jobsDoneKey(id), failedJob.ID.String())
	enq.mu.Lock()
	enq.jobs[failedJob.ID].Status = queue.StatusFailed
	enq.jobs[failedJob.ID].FailedReason = `{"code":"SCRAPE_TIMEOUT","message":"deadline exceeded"}`
	enq.mu.Unlock()
	_ = store.LPush(ctx, docsKey(id), `{"markdown":"hi"}`)

	status, err := o.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PendingJobs != 1 || status.DocsCount != 1 || status.ErrorsCount != 1 {
		t.Fatalf("unexpected status counts: %+v", status)
	}
}

func TestStatusUnknownCrawlReturnsJobNotFound(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	if _, err := o.Status(context.Background(), "nope"); !raitoerrors.IsCode(err, raitoerrors.JobNotFound) {
		t.Fatalf("expected JOB_NOT_FOUND, got %v", err)
	}
}

func TestErrorsParsesTransportableFailedReason(t *testing.T) {
	o, store, enq := newTestOrchestrator()
	id, err := o.Submit(context.Background(), Request{OriginURL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx := context.Background()

	child, err := enq.Add(ctx, idgen.New(), mustMarshal(t, scrapePayload{Type: "scrape", CrawlID: id, URL: "https://example.com/x"}))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, _ = store.SAdd(ctx, jobsKey(id), child.ID.String())
	_ = store.LPush(ctx, jobsDoneOrderedKey(id), child.ID.String())
	enq.mu.Lock()
	enq.jobs[child.ID].Status = queue.StatusFailed
	enq.jobs[child.ID].FailedReason = `{"code":"URL_BLOCKED","message":"robots.txt disallows"}`
	enq.mu.Unlock()
	_, _ = store.SAdd(ctx, robotsBlockedKey(id), "https://example.com/private")

	res, err := o.Errors(ctx, id, 0, -1)
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected one error entry, got %d", len(res.Errors))
	}
	entry := res.Errors[0]
	if entry.ID != child.ID.String() || entry.Code != "URL_BLOCKED" || entry.Error != "robots.txt disallows" || entry.URL != "https://example.com/x" {
		t.Fatalf("unexpected error entry: %+v", entry)
	}
	if len(res.RobotsBlocked) != 1 || res.RobotsBlocked[0] != "https://example.com/private" {
		t.Fatalf("unexpected robotsBlocked: %v", res.RobotsBlocked)
	}
}

func TestSubmitBatchEnqueuesOneChildPerUniqueURL(t *testing.T) {
	o, store, enq := newTestOrchestrator()
	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/a#frag", // canonical duplicate of /a
	}
	id, err := o.SubmitBatch(context.Background(), Request{TeamID: "team-1"}, urls)
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}

	ctx := context.Background()
	card, _ := store.SCard(ctx, jobsKey(id))
	if card != 2 {
		t.Fatalf("expected 2 unique child jobs, got %d", card)
	}
	if enq.queuedCount() != 2 {
		t.Fatalf("expected 2 queued scrape jobs (no kickoff), got %d", enq.queuedCount())
	}
}

func TestSubmitBatchRejectsEmptyURLList(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	if _, err := o.SubmitBatch(context.Background(), Request{}, nil); !raitoerrors.IsCode(err, raitoerrors.BadRequest) {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}

func TestCancelMarksStoredCrawlCancelled(t *testing.T) {
	o, store, _ := newTestOrchestrator()
	id, err := o.Submit(context.Background(), Request{OriginURL: "https://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := o.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	var stored model.StoredCrawl
	if _, err := store.GetJSON(context.Background(), crawlKey(id), &stored); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !stored.Cancelled {
		t.Fatal("expected crawl to be marked cancelled")
	}
}
