package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"raito/internal/admission"
	"raito/internal/billing"
	"raito/internal/config"
	"raito/internal/extractpipeline"
	"raito/internal/formats"
	"raito/internal/llm"
	"raito/internal/scraper"
	"raito/internal/scrapeutil"
	"raito/internal/search"
)

// crawlCoreScrapeHandler implements the synchronous POST /v2/scrape:
// run the request straight through the admission
// gates and the engine fallback pipeline, returning the Document
// inline rather than enqueuing a NuQ job (unlike a crawl's child
// pages, a lone scrape has no frontier or completion election to
// coordinate, so there is nothing the queue buys it).
func crawlCoreScrapeHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	cfg := c.Locals("config").(*config.Config)

	var reqBody ScrapeRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ScrapeResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}
	if reqBody.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ScrapeResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'url'",
		})
	}

	teamID := teamIDFromPrincipal(c)
	if core.Admission != nil {
		if err := core.Admission.CheckBudget(c.Context(), teamID, admission.ModeScrape, 1); err != nil {
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

	reqOpts := scraper.RequestOptions{
		URL:       reqBody.URL,
		Headers:   reqBody.Headers,
		TimeoutMs: timeoutMs,
		UserAgent: core.UserAgent,
		Mobile:    boolValue(reqBody.Mobile),
		Proxy:     reqBody.Proxy,
	}
	if reqBody.Location != nil {
		reqOpts.Location = &scraper.LocationOptions{
			Country:   reqBody.Location.Country,
			Languages: reqBody.Location.Languages,
		}
	}
	req := scraper.BuildRequestFromOptions(reqOpts)

	ctx, cancel := context.WithTimeout(c.Context(), timeout)
	defer cancel()

	outcome, err := core.Pipeline.Run(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.Status(http.StatusRequestTimeout).JSON(ScrapeResponse{
				Success: false,
				Code:    "SCRAPE_TIMEOUT",
				Error:   "scrape did not finish within the requested timeout",
			})
		}
		return crawlCoreErrorResponse(c, err)
	}

	doc := search.DocumentFromScrape(outcome, stringFormats(reqBody.Formats))
	doc.Links = scrapeutil.FilterLinks(doc.Links, reqBody.URL, cfg.Scraper.LinksSameDomainOnly, cfg.Scraper.LinksMaxPerDocument)

	if formats.HasFormat(reqBody.Formats, "images") {
		doc.Images = scraper.ExtractImages(outcome.Result.RawHTML, reqBody.URL)
	}

	if wantShot, fullPage := getScreenshotFormatConfig(reqBody.Formats); wantShot && cfg.Rod.Enabled {
		if png, err := scraper.CaptureScreenshot(ctx, reqBody.URL, timeout, fullPage); err == nil {
			doc.Screenshot = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		}
	}

	if wantJSON, jsonPrompt, jsonSchema := scrapeutil.GetJSONFormatConfig(reqBody.Formats); wantJSON && core.LLMExtract != nil {
		fields := extractpipeline.FieldsFromSchema(jsonSchema)
		if len(fields) == 0 {
			fields = []llm.FieldSpec{{Name: "result", Type: "object", Description: jsonPrompt}}
		}
		if values, err := core.LLMExtract.Extract(ctx, reqBody.URL, outcome.Result.Markdown, fields, jsonPrompt, timeout); err == nil {
			doc.JSON = values
		}
	}

	if core.Billing != nil {
		credits := core.Billing.CalculateCreditsToBeBilled(billing.ScrapeCostInput{
			Formats:    stringFormats(reqBody.Formats),
			NumPages:   1,
			UseBrowser: boolValue(reqBody.UseBrowser),
		})
		_ = core.Billing.Charge(c.Context(), teamID, credits)
	}

	return c.Status(http.StatusOK).JSON(ScrapeResponse{
		Success: true,
		Data:    doc,
	})
}
