// Package crawl implements the crawl orchestrator: it turns a
// submitted origin URL into a frontier of discovered child URLs,
// dispatches each through the engine fallback pipeline, and tracks
// completion against a KV-persisted record, so state lives in Redis
// and work lives on the NuQ queue rather than in any one process.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"raito/internal/admission"
	raitoerrors "raito/internal/errors"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/queue"
)

// Store is the slice of internal/kv.Store the crawl orchestrator and
// worker need, kept narrow (like internal/admission.RateStore) so
// tests can fake it in-memory rather than faking all of redis.Cmdable.
// *kv.Store satisfies this directly.
type Store interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// Enqueuer is the slice of internal/queue.Queue the orchestrator and
// worker need to hand work to and claim work from NuQ. *queue.Queue
// satisfies this directly.
type Enqueuer interface {
	Add(ctx context.Context, id uuid.UUID, data json.RawMessage) (*queue.Job, error)
	Claim(ctx context.Context, workerNonce string) (*queue.Job, error)
	RenewLock(ctx context.Context, id uuid.UUID, workerNonce string) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, workerNonce string, returnValue json.RawMessage) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, workerNonce string, failedReason string) (bool, error)
	Remove(ctx context.Context, id uuid.UUID) (bool, error)
	GetJobsWithStatuses(ctx context.Context, ids []uuid.UUID, statuses []queue.Status) ([]queue.Job, error)
}

// WebhookSender delivers crawl lifecycle events (started, page,
// completed, failed) to a caller-supplied URL. LogWebhookSender stands
// in for a real HTTP delivery client in deployments that don't
// configure one.
type WebhookSender interface {
	Send(ctx context.Context, url string, event string, payload any)
}

// LogWebhookSender logs events instead of delivering them, used when a
// crawl has no webhookUrl configured or as a local/dev default.
type LogWebhookSender struct {
	Logger *slog.Logger
}

func (s *LogWebhookSender) Send(ctx context.Context, url string, event string, payload any) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return
	}
	logger.Debug("crawl webhook", "url", url, "event", event)
}

// Request is the validated input to Submit.
type Request struct {
	OriginURL         string
	TeamID            string
	Crawler           model.CrawlerOptions
	Scrape            model.ScrapeOptions
	WebhookURL        string
	MaxConcurrency    int
	ZeroDataRetention bool
}

// RobotsFetcher retrieves the raw robots.txt for a crawl's origin so
// Submit can persist it on the StoredCrawl. Failures are non-fatal.
type RobotsFetcher func(ctx context.Context, originURL string) (string, error)

// Orchestrator submits, tracks, and reports on crawls. It persists
// crawl state in Store and dispatches discovery/scrape work onto an
// Enqueuer (NuQ); a separate Worker (worker.go) claims and executes
// that work.
type Orchestrator struct {
	store      Store
	queue      Enqueuer
	webhooks   WebhookSender
	admission  *admission.Controller
	robots     RobotsFetcher
	defaultTTL time.Duration
	hardMaxLimit int
	sitemapOnlySentinel int
	now func() time.Time
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

func WithWebhookSender(w WebhookSender) Option {
	return func(o *Orchestrator) { o.webhooks = w }
}

func WithNowFunc(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAdmission wires the per-team admission controller into Submit:
// the rate-limit/credit gate applies to crawl submission itself, not
// only to each child scrape dispatch.
func WithAdmission(ctrl *admission.Controller) Option {
	return func(o *Orchestrator) { o.admission = ctrl }
}

// WithRobotsFetcher makes Submit fetch and persist the origin's raw
// robots.txt on the crawl record. Left unset (tests, offline runs),
// Submit skips the fetch and StoredCrawl.Robots stays empty.
func WithRobotsFetcher(f RobotsFetcher) Option {
	return func(o *Orchestrator) { o.robots = f }
}

// New builds an Orchestrator. hardMaxLimit caps Crawler.Limit even
// under the sitemapOnlySentinel "unbounded" escape hatch; defaultTTL
// bounds how long a crawl's KV record is retained.
func New(store Store, queue Enqueuer, defaultTTL time.Duration, hardMaxLimit, sitemapOnlySentinel int, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:                store,
		queue:                queue,
		webhooks:             &LogWebhookSender{},
		defaultTTL:           defaultTTL,
		hardMaxLimit:         hardMaxLimit,
		sitemapOnlySentinel:  sitemapOnlySentinel,
		now:                  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// kickoffPayload is the NuQ job data for the one "discover this site's
// URLs" job each crawl starts with.
type kickoffPayload struct {
	Type    string `json:"type"`
	CrawlID string `json:"crawlId"`
}

// Submit validates req, persists a StoredCrawl record, and enqueues
// the kickoff job that discovers and fans out child URLs.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if req.OriginURL == "" {
		return "", raitoerrors.New(raitoerrors.BadRequest, "url is required")
	}
	if _, err := Canonicalize(req.OriginURL, false); err != nil {
		return "", raitoerrors.Wrap(raitoerrors.BadRequest, err)
	}
	if _, err := compilePathPolicy(req.Crawler.IncludePaths, req.Crawler.ExcludePaths, req.Crawler.RegexOnFullURL); err != nil {
		return "", raitoerrors.Wrap(raitoerrors.BadRequest, err)
	}

	// The credit gate sees the team's originally requested limit,
	// before it gets clamped to the hard ceiling below.
	minCredits := int64(req.Crawler.Limit)
	if minCredits <= 0 {
		minCredits = 1
	}
	if o.admission != nil && req.TeamID != "" {
		if err := o.admission.CheckBudget(ctx, req.TeamID, admission.ModeCrawl, minCredits); err != nil {
			return "", err
		}
	}

	limit := req.Crawler.Limit
	// sitemapMode=="only" with the sentinel limit means "as many URLs
	// as the sitemap has", but a hard ceiling still applies so a
	// malicious or enormous sitemap can't exhaust the queue.
	if limit <= 0 || limit == o.sitemapOnlySentinel {
		limit = o.hardMaxLimit
	}
	if o.hardMaxLimit > 0 && limit > o.hardMaxLimit {
		limit = o.hardMaxLimit
	}
	req.Crawler.Limit = limit

	jobID := idgen.New()
	id := jobID.String()
	stored := o.newStoredCrawl(ctx, id, req)
	if err := o.store.SetJSON(ctx, crawlKey(id), stored, o.defaultTTL); err != nil {
		return "", fmt.Errorf("persist crawl record: %w", err)
	}

	payload, err := json.Marshal(kickoffPayload{Type: "kickoff", CrawlID: id})
	if err != nil {
		return "", fmt.Errorf("marshal kickoff payload: %w", err)
	}
	if _, err := o.queue.Add(ctx, jobID, payload); err != nil {
		return "", fmt.Errorf("enqueue kickoff job: %w", err)
	}

	o.webhooks.Send(ctx, req.WebhookURL, "crawl.started", map[string]string{"id": id})
	return id, nil
}

func (o *Orchestrator) newStoredCrawl(ctx context.Context, id string, req Request) model.StoredCrawl {
	stored := model.StoredCrawl{
		ID:        id,
		OriginURL: req.OriginURL,
		Crawler:   req.Crawler,
		Scrape:    req.Scrape,
		Internal: model.InternalOptions{
			WebhookURL:        req.WebhookURL,
			TeamID:            req.TeamID,
			ZeroDataRetention: req.ZeroDataRetention,
		},
		MaxConcurrency: req.MaxConcurrency,
		CreatedAt:      o.now().Unix(),
	}
	if o.robots != nil {
		if raw, err := o.robots(ctx, req.OriginURL); err == nil {
			stored.Robots = raw
		}
	}
	return stored
}

// SubmitBatch persists a crawl-shaped record over a fixed URL list and
// enqueues one child scrape per URL, skipping discovery entirely: a
// batch scrape is a crawl whose frontier is handed to it up front.
// Status, documents, errors, and cancellation reuse the same endpoints
// a discovered crawl does.
func (o *Orchestrator) SubmitBatch(ctx context.Context, req Request, urls []string) (string, error) {
	if len(urls) == 0 {
		return "", raitoerrors.New(raitoerrors.BadRequest, "urls are required")
	}
	for _, u := range urls {
		if _, err := Canonicalize(u, false); err != nil {
			return "", raitoerrors.Wrap(raitoerrors.BadRequest, err)
		}
	}
	if o.admission != nil && req.TeamID != "" {
		if err := o.admission.CheckBudget(ctx, req.TeamID, admission.ModeScrape, int64(len(urls))); err != nil {
			return "", err
		}
	}

	id := idgen.NewString()
	req.OriginURL = urls[0]
	req.Crawler.Limit = len(urls)
	stored := o.newStoredCrawl(ctx, id, req)
	if err := o.store.SetJSON(ctx, crawlKey(id), stored, o.defaultTTL); err != nil {
		return "", fmt.Errorf("persist batch record: %w", err)
	}

	for _, u := range urls {
		canon, isNew, err := tryAdmitURL(ctx, o.store, id, u, req.Crawler.IgnoreQueryParams, req.Crawler.Limit)
		if err != nil || !isNew {
			continue
		}
		if err := enqueueScrapeJob(ctx, o.store, o.queue, stored, canon, 0, admission.ModeScrape); err != nil {
			return "", fmt.Errorf("enqueue batch scrape: %w", err)
		}
	}

	o.webhooks.Send(ctx, req.WebhookURL, "crawl.started", map[string]string{"id": id})
	return id, nil
}

// Status reports a crawl's current record plus how many documents and
// errors have accumulated so far.
type Status struct {
	Crawl       model.StoredCrawl
	PendingJobs int64
	DocsCount   int64
	ErrorsCount int64
}

func (o *Orchestrator) Status(ctx context.Context, crawlID string) (*Status, error) {
	var stored model.StoredCrawl
	ok, err := o.store.GetJSON(ctx, crawlKey(crawlID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, raitoerrors.New(raitoerrors.JobNotFound, "crawl "+crawlID+" not found")
	}
	total, err := o.store.SCard(ctx, jobsKey(crawlID))
	if err != nil {
		return nil, err
	}
	done, err := o.store.SCard(ctx, jobsDoneKey(crawlID))
	if err != nil {
		return nil, err
	}
	pending := total - done
	if pending < 0 {
		pending = 0
	}
	docs, err := o.store.LLen(ctx, docsKey(crawlID))
	if err != nil {
		return nil, err
	}
	failedJobs, err := o.failedJobs(ctx, crawlID)
	if err != nil {
		return nil, err
	}
	return &Status{Crawl: stored, PendingJobs: pending, DocsCount: docs, ErrorsCount: int64(len(failedJobs))}, nil
}

// Documents returns the crawl's accumulated documents, newest first.
func (o *Orchestrator) Documents(ctx context.Context, crawlID string, start, stop int64) ([]model.Document, error) {
	raw, err := o.store.LRange(ctx, docsKey(crawlID), start, stop)
	if err != nil {
		return nil, err
	}
	docs := make([]model.Document, 0, len(raw))
	for _, r := range raw {
		var d model.Document
		if err := json.Unmarshal([]byte(r), &d); err != nil {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// ErrorEntry is one failed child scrape, recovered from NuQ's failed
// job record rather than a separately-maintained error log.
type ErrorEntry struct {
	ID        string `json:"id"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error"`
}

// ErrorsResult is the crawl's accumulated failures: per-job scrape
// errors plus the set of URLs robots.txt withheld from discovery.
type ErrorsResult struct {
	Errors        []ErrorEntry `json:"errors"`
	RobotsBlocked []string     `json:"robotsBlocked"`
}

// failedJobs resolves every job this crawl ever enqueued (scrape jobs
// tracked in jobsKey) that NuQ currently reports as failed.
func (o *Orchestrator) failedJobs(ctx context.Context, crawlID string) ([]queue.Job, error) {
	ids, err := o.store.SMembers(ctx, jobsKey(crawlID))
	if err != nil {
		return nil, err
	}
	uuids := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		if id, err := uuid.Parse(s); err == nil {
			uuids = append(uuids, id)
		}
	}
	if len(uuids) == 0 {
		return nil, nil
	}
	return o.queue.GetJobsWithStatuses(ctx, uuids, []queue.Status{queue.StatusFailed})
}

// Errors returns a page of the crawl's failed child jobs (ordered by
// completion, newest first, per jobsDoneOrderedKey) plus the full
// robots-blocked set.
func (o *Orchestrator) Errors(ctx context.Context, crawlID string, start, stop int64) (*ErrorsResult, error) {
	orderedIDs, err := o.store.LRange(ctx, jobsDoneOrderedKey(crawlID), start, stop)
	if err != nil {
		return nil, err
	}
	inWindow := make(map[string]bool, len(orderedIDs))
	order := make([]string, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		if !inWindow[id] {
			order = append(order, id)
		}
		inWindow[id] = true
	}

	failed, err := o.failedJobs(ctx, crawlID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]queue.Job, len(failed))
	for _, j := range failed {
		byID[j.ID.String()] = j
	}

	entries := make([]ErrorEntry, 0, len(order))
	for _, id := range order {
		if job, ok := byID[id]; ok {
			entries = append(entries, errorEntryFromJob(job))
		}
	}

	blocked, err := o.store.SMembers(ctx, robotsBlockedKey(crawlID))
	if err != nil {
		return nil, err
	}
	return &ErrorsResult{Errors: entries, RobotsBlocked: blocked}, nil
}

// errorEntryFromJob recovers the failed job's URL (from its own
// payload) and TransportableError code (from failedreason, JSON
// round-tripped per internal/errors) for the errors surface.
func errorEntryFromJob(job queue.Job) ErrorEntry {
	entry := ErrorEntry{ID: job.ID.String(), Error: job.FailedReason}
	if !job.FinishedAt.IsZero() {
		entry.Timestamp = job.FinishedAt.Unix()
	}
	var p scrapePayload
	if err := json.Unmarshal(job.Data, &p); err == nil {
		entry.URL = p.URL
	}
	var te raitoerrors.TransportableError
	if err := json.Unmarshal([]byte(job.FailedReason), &te); err == nil && te.Code != "" {
		entry.Code = string(te.Code)
		entry.Error = te.Message
	}
	return entry
}

// Cancel marks a crawl cancelled. In-flight and already-enqueued child
// jobs check this flag (via Worker) and stop discovering/scraping
// further rather than being forcibly killed.
func (o *Orchestrator) Cancel(ctx context.Context, crawlID string) error {
	var stored model.StoredCrawl
	ok, err := o.store.GetJSON(ctx, crawlKey(crawlID), &stored)
	if err != nil {
		return err
	}
	if !ok {
		return raitoerrors.New(raitoerrors.JobNotFound, "crawl "+crawlID+" not found")
	}
	stored.Cancelled = true
	return o.store.SetJSON(ctx, crawlKey(crawlID), stored, o.defaultTTL)
}
