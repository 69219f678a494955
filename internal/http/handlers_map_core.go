package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"raito/internal/admission"
	"raito/internal/config"
	"raito/internal/crawler"
)

// crawlCoreMapHandler implements POST /v2/map: discover the set of
// URLs a site exposes without scraping any of them, using the same
// internal/crawler.Map the crawl orchestrator's frontier seeding uses.
func crawlCoreMapHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	cfg := c.Locals("config").(*config.Config)

	var reqBody MapRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(MapResponse{
			Success: false,
			Links:   []MapLink{},
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}
	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(MapResponse{
			Success: false,
			Links:   []MapLink{},
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	teamID := teamIDFromPrincipal(c)
	if core.Admission != nil {
		if err := core.Admission.CheckBudget(c.Context(), teamID, admission.ModeMap, 1); err != nil {
			return crawlCoreErrorResponse(c, err)
		}
	}

	timeoutMs := cfg.Scraper.TimeoutMs
	if reqBody.Timeout != nil && *reqBody.Timeout > 0 {
		timeoutMs = *reqBody.Timeout
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := cfg.Crawler.MaxPagesDefault
	if reqBody.Limit != nil && *reqBody.Limit > 0 {
		limit = *reqBody.Limit
	}
	sitemapMode := reqBody.Sitemap
	if sitemapMode == "" {
		sitemapMode = "include"
	}

	ctx, cancel := context.WithTimeout(c.Context(), timeout)
	defer cancel()

	res, err := crawler.Map(ctx, crawler.MapOptions{
		URL:               reqBody.URL,
		Limit:             limit,
		Search:            reqBody.Search,
		IncludeSubdomains: boolValue(reqBody.IncludeSubdomains),
		IgnoreQueryParams: boolValue(reqBody.IgnoreQueryParams),
		AllowExternal:     boolValue(reqBody.AllowExternal),
		SitemapMode:       sitemapMode,
		Timeout:           timeout,
		RespectRobots:     cfg.Robots.Respect,
		UserAgent:         cfg.Scraper.UserAgent,
	})
	if err != nil {
		return c.Status(http.StatusBadGateway).JSON(MapResponse{
			Success: false,
			Links:   []MapLink{},
			Code:    "MAP_FAILED",
			Error:   err.Error(),
		})
	}

	links := make([]MapLink, 0, len(res.Links))
	for _, l := range res.Links {
		links = append(links, MapLink{URL: l.URL, Title: l.Title, Description: l.Description})
	}

	return c.Status(http.StatusOK).JSON(MapResponse{
		Success: true,
		Links:   links,
		Warning: res.Warning,
	})
}
