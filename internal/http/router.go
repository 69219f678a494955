package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"raito/internal/config"
	"raito/internal/metrics"
	"raito/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	logger *slog.Logger
	core   *CoreCrawlSubsystem
}

func NewServer(cfg *config.Config, st *store.Store, logger *slog.Logger, core *CoreCrawlSubsystem) *Server {
	app := fiber.New()

	// Inject config, store, and the core crawl subsystem into context
	// for handlers.
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		c.Locals("core", core)
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			attrs := []any{
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			}
			if provVal := c.Locals("llm_provider"); provVal != nil {
				attrs = append(attrs, "llm_provider", provVal)
			}
			if modelVal := c.Locals("llm_model"); modelVal != nil {
				attrs = append(attrs, "llm_model", modelVal)
			}
			logger.Info("request", attrs...)
		}

		return err
	})

	// Redis client for rate limiting and health checks
	var rdb *redis.Client
	if cfg.Auth.Enabled && cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			rdb = redis.NewClient(opt)
		}
	}

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		// Deep health: check DB and Redis connectivity, and rod configuration.
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		dbStatus := "ok"
		if err := st.DB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		rodStatus := "disabled"
		if cfg.Rod.Enabled {
			// For now, just report that rod is enabled; a full browser connectivity
			// check would be more expensive and is left as a future enhancement.
			rodStatus = "enabled"
		}

		status := "ok"
		if dbStatus != "ok" || redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
			"rod":    rodStatus,
		})
	})

	authMw := authMiddleware(cfg, st)
	var rateMw fiber.Handler
	if rdb != nil {
		rateMw = rateLimitMiddleware(cfg, rdb)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	if core != nil {
		v2 := app.Group("/v2", authMw, rateMw)
		registerV2Routes(v2)
	}

	admin := app.Group("/admin", authMw, adminOnlyMiddleware)
	admin.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		out := metrics.Export()
		if core != nil {
			ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
			defer cancel()
			if rendered, err := core.Queue.RenderMetrics(ctx); err == nil {
				out += rendered
			}
			if teamIDs, err := st.ListTenantIDs(ctx); err == nil {
				if rendered, err := core.Admission.RenderMetrics(ctx, teamIDs); err == nil {
					out += rendered
				}
			}
		}
		return c.SendString(out)
	})
	admin.Post("/api-keys", adminCreateAPIKeyHandler)
	admin.Get("/api-keys", adminListAPIKeysHandler)
	admin.Delete("/api-keys/:id", adminRevokeAPIKeyHandler)
	admin.Post("/tenants", adminCreateTenantHandler)

	return &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
		core:   core,
	}
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// registerV2Routes wires every public operation onto the NuQ-backed
// crawl core (queue, admission control, engine fallback pipeline):
// synchronous scrape/map reach the engine pipeline directly, crawl and
// extract go through the queue-backed orchestrators, and the
// team-facing read endpoints report the same admission/billing state
// those paths consult before admitting work.
func registerV2Routes(group fiber.Router) {
	group.Post("/scrape", crawlCoreScrapeHandler)
	group.Post("/batch/scrape", crawlCoreBatchScrapeHandler)
	group.Post("/map", crawlCoreMapHandler)
	group.Post("/crawl", crawlCoreSubmitHandler)
	group.Get("/crawl/:id", crawlCoreStatusHandler)
	group.Get("/crawl/:id/documents", crawlCoreDocumentsHandler)
	group.Get("/crawl/:id/errors", crawlCoreErrorsHandler)
	group.Delete("/crawl/:id", crawlCoreCancelHandler)
	group.Post("/search", crawlCoreSearchHandler)
	group.Post("/extract", crawlCoreExtractHandler)
	group.Get("/extract/:id", crawlCoreExtractStatusHandler)
	group.Get("/concurrency-check", crawlCoreConcurrencyCheckHandler)
	group.Get("/team/credit-usage", crawlCoreCreditUsageHandler)
}
