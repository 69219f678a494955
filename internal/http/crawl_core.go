package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"raito/internal/admission"
	"raito/internal/billing"
	"raito/internal/config"
	"raito/internal/crawl"
	"raito/internal/crawler"
	"raito/internal/engine"
	"raito/internal/extractpipeline"
	"raito/internal/kv"
	"raito/internal/llm"
	"raito/internal/model"
	"raito/internal/queue"
	"raito/internal/search"
	"raito/internal/store"
)

// CoreCrawlSubsystem bundles the NuQ-backed crawl core: queue,
// admission control, engine fallback pipeline, and the crawl/search/
// extract orchestrators built on top of them. It exists so handlers
// and the /metrics endpoint can reach these pieces without threading a
// dozen parameters through NewServer.
type CoreCrawlSubsystem struct {
	Queue          *queue.Queue
	Admission      *admission.Controller
	Orchestrator   *crawl.Orchestrator
	Identities     *admission.StaticIdentityProvider
	Billing        billing.Billing
	Search         *search.Orchestrator
	Extract        *extractpipeline.Service
	ExtractRecords *extractpipeline.RecordStore
	// LLMExtract is the raw per-document extractor behind Extract,
	// used by /v2/scrape's json format for one-shot extraction.
	LLMExtract extractpipeline.LLMExtractor
	// Pipeline is the same engine fallback chain the crawl worker
	// dispatches scrapes through; the synchronous /v2/scrape and
	// /v2/map handlers call it directly instead of round-tripping
	// through NuQ, since a lone scrape returns its Document inline.
	Pipeline *engine.Pipeline
	UserAgent string
}

// StartCoreCrawlSubsystem wires NuQ, the per-team admission
// controller, the engine fallback pipeline, and the crawl
// orchestrator/worker together, then starts their background loops
// (queue LISTEN/NOTIFY, reaper, worker pool, admission promoter) under
// ctx.
func StartCoreCrawlSubsystem(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*CoreCrawlSubsystem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	kvStore := kv.New(rdb)

	q, err := queue.New(cfg.NuQ.DatabaseURL, cfg.NuQ.DatabaseURLListen)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := q.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("nuq listener stopped", "error", err)
		}
	}()

	lease := time.Duration(cfg.NuQ.LeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 60 * time.Second
	}
	reapInterval := time.Duration(cfg.NuQ.ReaperIntervalSeconds) * time.Second
	if reapInterval <= 0 {
		reapInterval = 30 * time.Second
	}
	reaper := queue.NewReaper(q, lease, reapInterval, logger)
	go reaper.Run(ctx)

	maxJobDuration := time.Duration(cfg.Admission.MaxJobDurationSeconds) * time.Second
	// With USE_DB_AUTHENTICATION unset, every tenant is an implicitly
	// unlimited self-hosted team; set to "true", only teams present in
	// the identity provider are admitted, and it is built here with no
	// seeded teams.
	var unlimitedDefault *model.Identity
	if !cfg.Preview.UseDBAuthentication {
		unlimitedDefault = &model.Identity{Unlimited: true}
	}
	identities := admission.NewStaticIdentityProvider(nil, unlimitedDefault)
	var combinator admission.Combinator
	if cfg.Admission.ConcurrencyCombinator == "" || cfg.Admission.ConcurrencyCombinator == "max" {
		combinator = admission.MaxCombinator
	}
	ctrl := admission.New(kvStore, identities, combinator, maxJobDuration)

	promoterInterval := time.Duration(cfg.Admission.PromoterIntervalMs) * time.Millisecond
	if promoterInterval <= 0 {
		promoterInterval = 5 * time.Second
	}

	engines := buildEngines(cfg)
	minMarkdown := cfg.Engine.MinAcceptableMarkdown
	if minMarkdown <= 0 {
		minMarkdown = 100
	}
	perEngineTimeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
	if perEngineTimeout <= 0 {
		perEngineTimeout = 30 * time.Second
	}
	pipeline := engine.NewPipeline(engines, minMarkdown, perEngineTimeout)

	webhookTimeout := time.Duration(cfg.CrawlCore.WebhookTimeoutSeconds) * time.Second
	webhooks := crawl.NewHTTPWebhookSender(webhookTimeout, logger)

	defaultTTL := time.Duration(cfg.CrawlCore.DefaultTTLHours) * time.Hour
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	hardMax := cfg.CrawlCore.HardMaxLimit
	if hardMax <= 0 {
		hardMax = 10000
	}
	sentinel := cfg.CrawlCore.SitemapOnlySentinel
	if sentinel <= 0 {
		sentinel = 10_000_000
	}
	robotsTimeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
	if robotsTimeout <= 0 {
		robotsTimeout = 10 * time.Second
	}
	robotsFetcher := func(ctx context.Context, originURL string) (string, error) {
		return crawler.FetchRobotsRaw(ctx, originURL, robotsTimeout, cfg.Scraper.UserAgent)
	}
	orchestrator := crawl.New(kvStore, q, defaultTTL, hardMax, sentinel,
		crawl.WithWebhookSender(webhooks),
		crawl.WithAdmission(ctrl),
		crawl.WithRobotsFetcher(robotsFetcher))

	concurrency := cfg.Worker.MaxConcurrentURLsPerJob
	pollInterval := time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond
	worker := crawl.NewWorker(q, kvStore, pipeline, ctrl, webhooks, concurrency, pollInterval, defaultTTL, logger)
	if cfg.NuQ.RenewIntervalSeconds > 0 {
		worker.SetRenewInterval(time.Duration(cfg.NuQ.RenewIntervalSeconds) * time.Second)
	}
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("crawl worker pool stopped", "error", err)
		}
	}()

	promoterBatch := int64(cfg.Admission.PromoterBatchSize)
	promoter := admission.NewPromoter(ctrl, st.ListTenantIDs, worker.Requeue, promoterInterval, promoterBatch, logger)
	go promoter.Run(ctx)

	bill := billing.New(identities)

	var searchOrch *search.Orchestrator
	if cfg.Search.Enabled {
		provider, err := search.NewProviderFromConfig(cfg)
		if err != nil {
			logger.Error("search provider unavailable, /v2/search disabled", "error", err)
		} else {
			searchOrch = search.NewOrchestrator(provider, pipeline, bill, cfg.Search.MaxConcurrentScrapes, cfg.Scraper.UserAgent)
		}
	}

	extractClientFactory := func() (llm.Client, llm.Provider, string, error) {
		return llm.NewClientFromConfig(cfg, "", "")
	}
	resolverTimeout := time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond
	if resolverTimeout <= 0 {
		resolverTimeout = 30 * time.Second
	}
	resolver := extractpipeline.NewMapResolver(resolverTimeout, cfg.Scraper.UserAgent)
	extractor := extractpipeline.NewLLMExtractor(extractClientFactory)

	requestTimeout := time.Duration(cfg.ExtractPipeline.RequestTimeoutSeconds) * time.Second
	docTimeout := time.Duration(cfg.ExtractPipeline.DocumentTimeoutSeconds) * time.Second
	extractSvc := extractpipeline.New(resolver, extractor, pipeline, bill, cfg.ExtractPipeline.ChunkSize, docTimeout, requestTimeout, cfg.Scraper.UserAgent)
	extractRecords := extractpipeline.NewRecordStore(kvStore, 6*time.Hour)

	if cfg.Preview.GCSBucketName != "" {
		logger.Info("scrape result persistence enabled", "bucket", cfg.Preview.GCSBucketName)
	}

	return &CoreCrawlSubsystem{
		Queue:          q,
		Admission:      ctrl,
		Orchestrator:   orchestrator,
		Identities:     identities,
		Billing:        bill,
		Search:         searchOrch,
		Extract:        extractSvc,
		ExtractRecords: extractRecords,
		LLMExtract:     extractor,
		Pipeline:       pipeline,
		UserAgent:      cfg.Scraper.UserAgent,
	}, nil
}

// buildEngines constructs the engine fallback chain in the order
// cfg.Engine.FallbackOrder names, defaulting to http-then-browser when
// unset.
func buildEngines(cfg *config.Config) []engine.Engine {
	order := cfg.Engine.FallbackOrder
	if len(order) == 0 {
		order = []string{"http", "browser"}
	}
	httpTimeout := time.Duration(cfg.Engine.HTTPTimeoutMs) * time.Millisecond
	if httpTimeout <= 0 {
		httpTimeout = 15 * time.Second
	}
	browserTimeout := time.Duration(cfg.Engine.BrowserTimeoutMs) * time.Millisecond
	if browserTimeout <= 0 {
		browserTimeout = 30 * time.Second
	}

	engines := make([]engine.Engine, 0, len(order))
	for _, name := range order {
		switch name {
		case "http":
			engines = append(engines, engine.NewHTTPEngine(httpTimeout))
		case "browser":
			if cfg.Rod.Enabled {
				engines = append(engines, engine.NewBrowserEngine(browserTimeout))
			}
		}
	}
	if len(engines) == 0 {
		engines = append(engines, engine.NewHTTPEngine(httpTimeout))
	}
	return engines
}
