package http

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"raito/internal/config"
	"raito/internal/crawl"
	raitoerrors "raito/internal/errors"
	"raito/internal/model"
)

// teamIDFromPrincipal extracts the calling tenant's ID from the
// request's Principal, the same identity admission gates on.
func teamIDFromPrincipal(c *fiber.Ctx) string {
	val := c.Locals("principal")
	p, ok := val.(Principal)
	if !ok || p.TenantID == nil {
		return ""
	}
	return p.TenantID.String()
}

// crawlCoreErrorResponse maps a TransportableError (or any error) onto
// the shared CrawlResponse envelope, so callers see one consistent
// error shape regardless of which endpoint they hit.
func crawlCoreErrorResponse(c *fiber.Ctx, err error) error {
	if te, ok := raitoerrors.As(err); ok {
		return c.Status(raitoerrors.HTTPStatus(te.Code)).JSON(CrawlResponse{
			Success: false,
			Code:    string(te.Code),
			Error:   te.Message,
		})
	}
	return c.Status(http.StatusInternalServerError).JSON(CrawlResponse{
		Success: false,
		Code:    "INTERNAL_ERROR",
		Error:   err.Error(),
	})
}

func crawlCoreSubmitHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)

	var reqBody CrawlRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}
	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	req := crawl.Request{
		OriginURL:  reqBody.URL,
		TeamID:     teamIDFromPrincipal(c),
		WebhookURL: reqBody.Webhook,
		Crawler: model.CrawlerOptions{
			IncludePaths:      reqBody.IncludePaths,
			ExcludePaths:      reqBody.ExcludePaths,
			SitemapMode:       reqBody.Sitemap,
			IgnoreQueryParams: boolValue(reqBody.IgnoreQueryParams),
			RegexOnFullURL:    boolValue(reqBody.RegexOnFullURL),
			AllowExternal:     boolValue(reqBody.AllowExternalLinks),
			AllowSubdomains:   boolValue(reqBody.AllowSubdomains),
		},
	}
	if reqBody.Limit != nil {
		req.Crawler.Limit = *reqBody.Limit
	}
	cfg := c.Locals("config").(*config.Config)
	req.Crawler.MaxDiscoveryDepth = cfg.CrawlCore.MaxDiscoveryDepth
	if reqBody.MaxDiscoveryDepth != nil {
		req.Crawler.MaxDiscoveryDepth = *reqBody.MaxDiscoveryDepth
	}
	req.ZeroDataRetention = boolValue(reqBody.ZeroDataRetention)
	if reqBody.MaxConcurrency != nil {
		req.MaxConcurrency = *reqBody.MaxConcurrency
	}
	if reqBody.ScrapeOptions != nil {
		req.Scrape = model.ScrapeOptions{
			Headers:    reqBody.ScrapeOptions.Headers,
			UseBrowser: boolValue(reqBody.ScrapeOptions.UseBrowser),
			Mobile:     boolValue(reqBody.ScrapeOptions.Mobile),
			Proxy:      reqBody.ScrapeOptions.Proxy,
		}
		if reqBody.ScrapeOptions.Timeout != nil {
			req.Scrape.TimeoutMs = *reqBody.ScrapeOptions.Timeout
		}
	}

	id, err := core.Orchestrator.Submit(c.Context(), req)
	if err != nil {
		return crawlCoreErrorResponse(c, err)
	}

	protocol := c.Protocol()
	host := c.Hostname()
	return c.Status(http.StatusOK).JSON(CrawlResponse{
		Success: true,
		ID:      id,
		URL:     protocol + "://" + host + "/v2/crawl/" + id,
	})
}

func boolValue(b *bool) bool { return b != nil && *b }

func crawlCoreStatusHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	id := c.Params("id")

	status, err := core.Orchestrator.Status(c.Context(), id)
	if err != nil {
		return crawlCoreErrorResponse(c, err)
	}

	resp := CrawlResponse{
		Success: true,
		ID:      status.Crawl.ID,
		URL:     status.Crawl.OriginURL,
		Total:   int(status.DocsCount),
	}
	if status.Crawl.Cancelled {
		resp.Status = CrawlStatus("cancelled")
	} else if status.PendingJobs > 0 {
		resp.Status = CrawlStatus("scraping")
	} else {
		resp.Status = CrawlStatus("completed")
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func crawlCoreDocumentsHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	id := c.Params("id")
	start, stop := parseRange(c)

	docs, err := core.Orchestrator.Documents(c.Context(), id, start, stop)
	if err != nil {
		return crawlCoreErrorResponse(c, err)
	}
	return c.Status(http.StatusOK).JSON(CrawlResponse{Success: true, ID: id, Data: docs, Total: len(docs)})
}

func crawlCoreErrorsHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	id := c.Params("id")
	start, stop := parseRange(c)

	errs, err := core.Orchestrator.Errors(c.Context(), id, start, stop)
	if err != nil {
		return crawlCoreErrorResponse(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":       true,
		"id":            id,
		"errors":        errs.Errors,
		"robotsBlocked": errs.RobotsBlocked,
	})
}

func crawlCoreCancelHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	id := c.Params("id")

	if err := core.Orchestrator.Cancel(c.Context(), id); err != nil {
		return crawlCoreErrorResponse(c, err)
	}
	return c.Status(http.StatusOK).JSON(CrawlResponse{Success: true, ID: id})
}

func parseRange(c *fiber.Ctx) (int64, int64) {
	start := int64(0)
	stop := int64(-1)
	if v := c.Query("start"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			start = n
		}
	}
	if v := c.Query("stop"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stop = n
		}
	}
	return start, stop
}
