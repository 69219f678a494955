package http

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"raito/internal/admission"
	"raito/internal/config"
	"raito/internal/formats"
	"raito/internal/metrics"
	"raito/internal/search"
)

// crawlCoreSearchHandler exposes internal/search.Orchestrator at
// POST /v2/search: scraping fans out across a bounded worker pool and
// each scraped result is billed to the calling team.
func crawlCoreSearchHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	if core.Search == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(SearchResponse{
			Success: false,
			Code:    "SEARCH_DISABLED",
			Error:   "search is disabled in server configuration",
		})
	}

	var reqBody SearchRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(SearchResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}
	if strings.TrimSpace(reqBody.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(SearchResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'query'",
		})
	}

	if reqBody.ScrapeOptions != nil {
		if err := formats.ValidateFormatsForEndpoint("search", reqBody.ScrapeOptions.Formats); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(SearchResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   err.Error(),
			})
		}
	}

	sources := reqBody.Sources
	if len(sources) == 0 {
		sources = []string{"web"}
	}

	limit := 0
	if reqBody.Limit != nil {
		limit = *reqBody.Limit
	}
	timeoutMs := 0
	if reqBody.Timeout != nil {
		timeoutMs = *reqBody.Timeout
	}
	ignoreInvalid := false
	if reqBody.IgnoreInvalidURLs != nil {
		ignoreInvalid = *reqBody.IgnoreInvalidURLs
	}

	searchReq := &search.Request{
		Query:            reqBody.Query,
		Sources:          sources,
		Limit:            limit,
		Country:          reqBody.Country,
		Location:         reqBody.Location,
		TBS:              reqBody.TBS,
		IgnoreInvalidURL: ignoreInvalid,
	}

	var scrapeSettings *search.ScrapeSettings
	if reqBody.ScrapeOptions != nil {
		scrapeSettings = &search.ScrapeSettings{
			Formats:    stringFormats(reqBody.ScrapeOptions.Formats),
			Headers:    reqBody.ScrapeOptions.Headers,
			UseBrowser: boolValue(reqBody.ScrapeOptions.UseBrowser),
			TimeoutMs:  timeoutMs,
			Mobile:     boolValue(reqBody.ScrapeOptions.Mobile),
			Proxy:      reqBody.ScrapeOptions.Proxy,
		}
		if reqBody.ScrapeOptions.Timeout != nil {
			scrapeSettings.TimeoutMs = *reqBody.ScrapeOptions.Timeout
		}
	}

	teamID := teamIDFromPrincipal(c)
	// Internal previews (matching SEARCH_PREVIEW_TOKEN) run unattributed,
	// so billing's team-keyed debit is a no-op.
	cfg := c.Locals("config").(*config.Config)
	if tok := cfg.Preview.SearchPreviewToken; tok != "" && c.Get("X-Preview-Token") == tok {
		teamID = ""
	}
	if core.Admission != nil && teamID != "" {
		minCredits := int64(1)
		if limit > 0 {
			minCredits = int64(limit)
		}
		if err := core.Admission.CheckBudget(c.Context(), teamID, admission.ModeSearch, minCredits); err != nil {
			return crawlCoreErrorResponse(c, err)
		}
	}
	results, err := core.Search.Run(c.Context(), teamID, searchReq, scrapeSettings)
	if err != nil {
		return crawlCoreErrorResponse(c, err)
	}

	scraped := 0
	total := len(results.Web) + len(results.News) + len(results.Images)
	for _, item := range append(append([]search.ResultItem{}, results.Web...), results.News...) {
		if item.Document != nil {
			scraped++
		}
	}
	metrics.RecordSearch(cfg.Search.Provider, scrapeSettings != nil, total, scraped)

	return c.Status(http.StatusOK).JSON(SearchResponse{
		Success: true,
		Data: &SearchData{
			Web:    toSearchWebResults(results.Web),
			News:   toSearchWebResults(results.News),
			Images: toSearchWebResults(results.Images),
		},
	})
}

// stringFormats flattens a formats array (which may carry plain
// strings or {"type": "..."} objects) down to the plain names the
// scrape paths apply per-document.
func stringFormats(raw []interface{}) []string {
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		switch v := f.(type) {
		case string:
			out = append(out, v)
		case map[string]interface{}:
			if t, ok := v["type"].(string); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func toSearchWebResults(items []search.ResultItem) []SearchWebResult {
	out := make([]SearchWebResult, 0, len(items))
	for _, item := range items {
		w := SearchWebResult{
			Title:       item.Title,
			Description: item.Description,
			URL:         item.URL,
		}
		if item.Document != nil {
			w.Document = item.Document
			w.Engine = item.Document.Engine
			w.Metadata = item.Document.Metadata
		}
		out = append(out, w)
	}
	return out
}
