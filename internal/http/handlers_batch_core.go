package http

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"raito/internal/crawl"
	"raito/internal/model"
)

// crawlCoreBatchScrapeHandler implements POST /v2/batch/scrape: the
// URL list becomes a pre-seeded crawl frontier (no discovery), each URL
// dispatched through the same NuQ child-scrape path a crawl uses, so
// status/documents/errors/cancel are served by the /v2/crawl/:id
// endpoints.
func crawlCoreBatchScrapeHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)

	var reqBody BatchScrapeRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}
	if len(reqBody.URLs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(CrawlResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'urls'",
		})
	}

	urls := make([]string, 0, len(reqBody.URLs))
	for _, u := range reqBody.URLs {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}

	req := crawl.Request{
		TeamID:            teamIDFromPrincipal(c),
		WebhookURL:        reqBody.Webhook,
		ZeroDataRetention: boolValue(reqBody.ZeroDataRetention),
		Scrape: model.ScrapeOptions{
			Formats:    stringFormats(reqBody.Formats),
			Headers:    reqBody.Headers,
			UseBrowser: boolValue(reqBody.UseBrowser),
			Mobile:     boolValue(reqBody.Mobile),
			Proxy:      reqBody.Proxy,
		},
	}
	if reqBody.Timeout != nil {
		req.Scrape.TimeoutMs = *reqBody.Timeout
	}

	id, err := core.Orchestrator.SubmitBatch(c.Context(), req, urls)
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
