package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"raito/internal/admission"
	"raito/internal/crawler"
	"raito/internal/engine"
	raitoerrors "raito/internal/errors"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/scraper"
)

// scrapePayload is the NuQ job data for one child-page scrape.
type scrapePayload struct {
	Type    string              `json:"type"`
	CrawlID string              `json:"crawlId"`
	TeamID  string              `json:"teamId"`
	URL     string              `json:"url"`
	Scrape  model.ScrapeOptions `json:"scrapeOptions"`
	// Mode is the admission class this child is billed and limited
	// under: "crawl" for discovered pages, "scrape" for batch URLs.
	Mode         string `json:"mode,omitempty"`
	CurrentDepth int    `json:"currentDiscoveryDepth"`
}

// admissionMode maps the payload's mode onto an admission.Mode,
// defaulting to crawl for payloads enqueued before the field existed.
func (p scrapePayload) admissionMode() admission.Mode {
	if p.Mode != "" {
		return admission.Mode(p.Mode)
	}
	return admission.ModeCrawl
}

// Worker claims NuQ jobs and dispatches them: "kickoff" jobs discover
// a crawl's URLs and fan out "scrape" jobs for each admitted one;
// "scrape" jobs run the engine fallback pipeline for a single URL,
// record the outcome, and recursively admit any new links the page
// itself linked to.
type Worker struct {
	queue       Enqueuer
	store       Store
	pipeline    *engine.Pipeline
	admission   *admission.Controller
	webhooks    WebhookSender
	nonce       string
	concurrency int
	pollInterval time.Duration
	renewInterval time.Duration
	defaultTTL  time.Duration
	logger      *slog.Logger
}

func NewWorker(q Enqueuer, store Store, pipeline *engine.Pipeline, ctrl *admission.Controller, webhooks WebhookSender, concurrency int, pollInterval, defaultTTL time.Duration, logger *slog.Logger) *Worker {
	if webhooks == nil {
		webhooks = &LogWebhookSender{}
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:         q,
		store:         store,
		pipeline:      pipeline,
		admission:     ctrl,
		webhooks:      webhooks,
		nonce:         idgen.NewString(),
		concurrency:   concurrency,
		pollInterval:  pollInterval,
		renewInterval: 20 * time.Second,
		defaultTTL:    defaultTTL,
		logger:        logger,
	}
}

// SetRenewInterval overrides how often the worker renews a claimed
// job's lock while processing it. Workers must renew well inside the
// reaper's lease (lease/3 by convention) or a long scrape gets
// reclaimed and double-dispatched.
func (w *Worker) SetRenewInterval(d time.Duration) {
	if d > 0 {
		w.renewInterval = d
	}
}

// Run claims and dispatches jobs with a bounded pool of concurrency
// goroutines until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		job, err := w.queue.Claim(ctx, w.nonce)
		if err != nil {
			w.logger.Error("crawl worker: claim failed", "error", err)
		} else if job != nil {
			w.dispatch(ctx, job.ID, job.Data)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, jobID uuid.UUID, data json.RawMessage) {
	// Renew the claim's lock in the background for as long as this job
	// is being processed, so the reaper doesn't reclaim it mid-scrape.
	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go func() {
		ticker := time.NewTicker(w.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if ok, err := w.queue.RenewLock(renewCtx, jobID, w.nonce); err == nil && !ok {
					return
				}
			}
		}
	}()

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		_, _ = w.queue.Fail(ctx, jobID, w.nonce, fmt.Sprintf("invalid job payload: %v", err))
		return
	}
	switch kind.Type {
	case "kickoff":
		w.handleKickoff(ctx, jobID, data)
	case "scrape":
		w.handleScrape(ctx, jobID, data)
	default:
		_, _ = w.queue.Fail(ctx, jobID, w.nonce, "unknown job type: "+kind.Type)
	}
}

func (w *Worker) handleKickoff(ctx context.Context, jobID uuid.UUID, data json.RawMessage) {
	var payload kickoffPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		_, _ = w.queue.Fail(ctx, jobID, w.nonce, fmt.Sprintf("invalid kickoff payload: %v", err))
		return
	}

	var stored model.StoredCrawl
	ok, err := w.store.GetJSON(ctx, crawlKey(payload.CrawlID), &stored)
	if err != nil || !ok {
		_, _ = w.queue.Fail(ctx, jobID, w.nonce, "crawl record missing")
		return
	}
	if stored.Cancelled {
		_, _ = w.queue.Finish(ctx, jobID, w.nonce, json.RawMessage(`{"cancelled":true}`))
		return
	}

	// Discovery failures (robots/sitemap fetch errors, etc) are not
	// fatal: discoverURLs always includes the origin URL itself, so the
	// crawl still produces at least one document.
	discovered, blocked, err := w.discoverURLs(ctx, stored)
	if err != nil {
		w.logger.Error("crawl worker: discovery failed, falling back to origin URL only", "crawl_id", payload.CrawlID, "error", err)
	}
	if len(blocked) > 0 {
		if _, err := w.store.SAdd(ctx, robotsBlockedKey(payload.CrawlID), blocked...); err != nil {
			w.logger.Error("crawl worker: record robots-blocked urls failed", "crawl_id", payload.CrawlID, "error", err)
		}
	}

	// A crawl is failed only when its kickoff fails; child scrape
	// failures surface through the errors endpoint instead.
	policy, err := compilePathPolicy(stored.Crawler.IncludePaths, stored.Crawler.ExcludePaths, stored.Crawler.RegexOnFullURL)
	if err != nil {
		_, _ = w.queue.Fail(ctx, jobID, w.nonce, fmt.Sprintf("invalid path policy: %v", err))
		w.webhooks.Send(ctx, stored.Internal.WebhookURL, "crawl.failed", map[string]string{"id": payload.CrawlID, "error": err.Error()})
		return
	}

	admitted := 0
	for _, rawURL := range discovered {
		if stored.Crawler.Limit > 0 && admitted >= stored.Crawler.Limit {
			break
		}
		if !policy.allows(rawURL) {
			continue
		}
		canon, isNew, err := tryAdmitURL(ctx, w.store, payload.CrawlID, rawURL, stored.Crawler.IgnoreQueryParams, stored.Crawler.Limit)
		if err != nil || !isNew {
			continue
		}
		if err := w.enqueueScrape(ctx, stored, canon, 0); err != nil {
			w.logger.Error("crawl worker: enqueue scrape failed", "crawl_id", payload.CrawlID, "url", canon, "error", err)
			continue
		}
		admitted++
	}

	if admitted == 0 {
		w.finalizeIfDone(ctx, payload.CrawlID, stored)
	}
	_, _ = w.queue.Finish(ctx, jobID, w.nonce, json.RawMessage(fmt.Sprintf(`{"discovered":%d}`, admitted)))
}

// discoverURLs always includes the origin URL itself so single-page
// sites still produce a document, then adds whatever crawler.Map
// finds. Links robots.txt disallowed are returned separately so the
// caller can record them rather than silently dropping them.
func (w *Worker) discoverURLs(ctx context.Context, stored model.StoredCrawl) ([]string, []string, error) {
	urls := []string{stored.OriginURL}
	mapResult, err := crawler.Map(ctx, crawler.MapOptions{
		URL:               stored.OriginURL,
		Limit:             stored.Crawler.Limit,
		IncludeSubdomains: stored.Crawler.AllowSubdomains,
		IgnoreQueryParams: stored.Crawler.IgnoreQueryParams,
		AllowExternal:     stored.Crawler.AllowExternal,
		SitemapMode:       stored.Crawler.SitemapMode,
		RespectRobots:     true,
	})
	if err != nil {
		return urls, nil, err
	}
	for _, link := range mapResult.Links {
		urls = append(urls, link.URL)
	}
	return urls, mapResult.Blocked, nil
}

func (w *Worker) enqueueScrape(ctx context.Context, stored model.StoredCrawl, url string, depth int) error {
	return enqueueScrapeJob(ctx, w.store, w.queue, stored, url, depth, admission.ModeCrawl)
}

// enqueueScrapeJob adds one child-page scrape to NuQ and records its id
// in the crawl's jobs set. Shared by the worker's discovery fan-out and
// the orchestrator's batch submission.
func enqueueScrapeJob(ctx context.Context, store Store, q Enqueuer, stored model.StoredCrawl, url string, depth int, mode admission.Mode) error {
	payload, err := json.Marshal(scrapePayload{
		Type:         "scrape",
		CrawlID:      stored.ID,
		TeamID:       stored.Internal.TeamID,
		URL:          url,
		Scrape:       stored.Scrape,
		Mode:         string(mode),
		CurrentDepth: depth,
	})
	if err != nil {
		return err
	}
	id := idgen.New()
	if _, err := q.Add(ctx, id, payload); err != nil {
		return err
	}
	if _, err := store.SAdd(ctx, jobsKey(stored.ID), id.String()); err != nil {
		return err
	}
	return nil
}

func (w *Worker) handleScrape(ctx context.Context, jobID uuid.UUID, data json.RawMessage) {
	var payload scrapePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		_, _ = w.queue.Fail(ctx, jobID, w.nonce, fmt.Sprintf("invalid scrape payload: %v", err))
		return
	}

	var stored model.StoredCrawl
	ok, err := w.store.GetJSON(ctx, crawlKey(payload.CrawlID), &stored)
	if err != nil || !ok || stored.Cancelled {
		w.finishChild(ctx, jobID, payload)
		return
	}

	if w.admission != nil && payload.TeamID != "" {
		decision, err := w.admission.AdmitWithCeiling(ctx, payload.TeamID, payload.admissionMode(), jobID.String(), 1, stored.MaxConcurrency)
		if err != nil {
			w.failChild(ctx, jobID, payload, err)
			return
		}
		if decision.Deferred {
			// Parked by the admission controller until capacity frees.
			// Persist the payload so the Promoter's Requeue callback (see
			// Worker.Requeue) can re-add this job to NuQ later. The row
			// itself is removed, not finished: a terminal row with this id
			// would make the later re-Add collide with DuplicateJob. The
			// crawl's own job/done bookkeeping is untouched since the work
			// itself hasn't happened yet.
			if err := w.store.SetJSON(ctx, deferredPayloadKey(jobID.String()), data, 24*time.Hour); err != nil {
				w.logger.Error("crawl worker: persist deferred payload failed", "job_id", jobID, "error", err)
			}
			_, _ = w.queue.Remove(ctx, jobID)
			return
		}
	}

	timeout := time.Duration(payload.Scrape.TimeoutMs) * time.Millisecond
	req := scraper.Request{
		URL:     payload.URL,
		Headers: payload.Scrape.Headers,
		Timeout: timeout,
		Mobile:  payload.Scrape.Mobile,
		Stealth: payload.Scrape.Proxy == "stealth",
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	outcome, err := w.pipeline.Run(runCtx, req)
	if err != nil {
		if w.admission != nil {
			_ = w.admission.Release(ctx, payload.TeamID, jobID.String())
		}
		w.failChild(ctx, jobID, payload, err)
		return
	}

	doc := model.Document{
		Markdown: outcome.Result.Markdown,
		HTML:     outcome.Result.HTML,
		Links:    outcome.Result.Links,
		Engine:   outcome.Engine,
	}
	raw, err := json.Marshal(doc)
	if err == nil {
		_ = w.store.LPush(ctx, docsKey(payload.CrawlID), string(raw))
	}
	w.webhooks.Send(ctx, stored.Internal.WebhookURL, "crawl.page", map[string]string{"url": payload.URL})

	w.admitDiscoveredLinks(ctx, stored, payload, outcome.Result.Links)

	if w.admission != nil {
		_ = w.admission.Release(ctx, payload.TeamID, jobID.String())
	}
	w.finishChild(ctx, jobID, payload)
}

// admitDiscoveredLinks recursively grows the frontier on child
// completion: every link the page itself linked to is canonicalized,
// checked against the crawl's origin/subdomain scope and
// include/exclude path policy, and, if still within maxDiscoveryDepth
// and the crawl's overall limit, fanned out as a new scrape job one
// level deeper than the page that found it.
func (w *Worker) admitDiscoveredLinks(ctx context.Context, stored model.StoredCrawl, payload scrapePayload, links []string) {
	if stored.Cancelled || len(links) == 0 {
		return
	}
	nextDepth := payload.CurrentDepth + 1
	if stored.Crawler.MaxDiscoveryDepth > 0 && nextDepth > stored.Crawler.MaxDiscoveryDepth {
		return
	}
	policy, err := compilePathPolicy(stored.Crawler.IncludePaths, stored.Crawler.ExcludePaths, stored.Crawler.RegexOnFullURL)
	if err != nil {
		return
	}
	admittedCount, err := w.store.SCard(ctx, jobsKey(payload.CrawlID))
	if err != nil {
		return
	}
	for _, link := range links {
		if stored.Crawler.Limit > 0 && admittedCount >= int64(stored.Crawler.Limit) {
			break
		}
		if !inScope(stored.OriginURL, link, stored.Crawler.AllowSubdomains, stored.Crawler.AllowExternal) {
			continue
		}
		if !policy.allows(link) {
			continue
		}
		canon, isNew, err := tryAdmitURL(ctx, w.store, payload.CrawlID, link, stored.Crawler.IgnoreQueryParams, stored.Crawler.Limit)
		if err != nil || !isNew {
			continue
		}
		if err := w.enqueueScrape(ctx, stored, canon, nextDepth); err != nil {
			w.logger.Error("crawl worker: enqueue discovered link failed", "crawl_id", payload.CrawlID, "url", canon, "error", err)
			continue
		}
		admittedCount++
	}
}

func deferredPayloadKey(jobID string) string {
	return fmt.Sprintf("crawl:deferred-payload:%s", jobID)
}

// Requeue implements admission.Requeue: it re-adds a job the admission
// Promoter has decided has room for, using the payload Worker stashed
// when it was first deferred.
func (w *Worker) Requeue(ctx context.Context, teamID, jobID string) error {
	var raw json.RawMessage
	ok, err := w.store.GetJSON(ctx, deferredPayloadKey(jobID), &raw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("deferred payload for job %s not found", jobID)
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		return err
	}
	_, err = w.queue.Add(ctx, id, raw)
	return err
}

// finishChild marks jobID completed in NuQ and records it in the
// crawl's done-job bookkeeping.
func (w *Worker) finishChild(ctx context.Context, jobID uuid.UUID, payload scrapePayload) {
	_, _ = w.queue.Finish(ctx, jobID, w.nonce, json.RawMessage(`{}`))
	w.completeChild(ctx, jobID, payload)
}

// failChild marks jobID failed in NuQ with a JSON-encoded
// TransportableError as failedreason (so Orchestrator.Errors can parse
// it back out), and records it in the crawl's done-job bookkeeping.
func (w *Worker) failChild(ctx context.Context, jobID uuid.UUID, payload scrapePayload, cause error) {
	te, ok := raitoerrors.As(cause)
	if !ok {
		if errors.Is(cause, context.DeadlineExceeded) {
			te = raitoerrors.New(raitoerrors.ScrapeTimeout, "scrape did not finish within its deadline")
		} else {
			te = raitoerrors.Wrap(raitoerrors.EngineError, cause)
		}
	}
	reason, err := json.Marshal(te)
	if err != nil {
		reason = []byte(cause.Error())
	}
	_, _ = w.queue.Fail(ctx, jobID, w.nonce, string(reason))
	w.completeChild(ctx, jobID, payload)
}

// completeChild is the bookkeeping shared by finishChild/failChild: it
// records jobID as done (both the dedup set and the completion-order
// list backing paginated status/errors lookups) and checks whether the
// crawl as a whole is now finished.
func (w *Worker) completeChild(ctx context.Context, jobID uuid.UUID, payload scrapePayload) {
	_, _ = w.store.SAdd(ctx, jobsDoneKey(payload.CrawlID), jobID.String())
	_ = w.store.LPush(ctx, jobsDoneOrderedKey(payload.CrawlID), jobID.String())

	var stored model.StoredCrawl
	if ok, err := w.store.GetJSON(ctx, crawlKey(payload.CrawlID), &stored); err == nil && ok {
		if stored.Internal.ZeroDataRetention {
			// ZDR teams forbid persisting scraped content: drop the
			// terminal queue row (and its returnvalue/failedreason)
			// eagerly instead of waiting for retention cleanup.
			_, _ = w.queue.Remove(ctx, jobID)
		}
		w.finalizeIfDone(ctx, payload.CrawlID, stored)
	}
}

// finalizeIfDone fires the crawl.completed webhook exactly once, from
// the first worker to observe every admitted job done and win the
// finish lock election.
func (w *Worker) finalizeIfDone(ctx context.Context, crawlID string, stored model.StoredCrawl) {
	total, err := w.store.SCard(ctx, jobsKey(crawlID))
	if err != nil {
		return
	}
	done, err := w.store.SCard(ctx, jobsDoneKey(crawlID))
	if err != nil || done < total {
		return
	}
	won, err := w.store.SetNX(ctx, finishLockKey(crawlID), "done", time.Hour)
	if err != nil || !won {
		return
	}
	w.webhooks.Send(ctx, stored.Internal.WebhookURL, "crawl.completed", map[string]string{"id": crawlID})
}
