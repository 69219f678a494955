package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"raito/internal/admission"
	"raito/internal/config"
	"raito/internal/extractpipeline"
	"raito/internal/idgen"
	"raito/internal/metrics"
)

// crawlCoreExtractHandler exposes internal/extractpipeline.Service at
// POST /v2/extract: it resolves `/*` wildcard URLs, classifies
// single-answer vs multi-entity, and merges/dedups multi-entity
// results before billing the team. The outcome is persisted under
// extract:<id> so GET /v2/extract/:id can serve it until the record's
// TTL lapses.
func crawlCoreExtractHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	cfg := c.Locals("config").(*config.Config)
	if core.Extract == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(ExtractResponse{
			Success: false,
			Code:    "EXTRACT_DISABLED",
			Error:   "extract pipeline is not configured",
		})
	}

	var reqBody ExtractRequest
	if err := c.BodyParser(&reqBody); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ExtractResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	urls := reqBody.URLs
	if len(urls) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ExtractResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Missing required field 'urls'",
		})
	}
	for i, u := range urls {
		urls[i] = strings.TrimSpace(u)
	}

	teamID := teamIDFromPrincipal(c)
	if core.Admission != nil {
		if err := core.Admission.CheckBudget(c.Context(), teamID, admission.ModeExtract, int64(len(urls))); err != nil {
			return crawlCoreErrorResponse(c, err)
		}
	}

	req := extractpipeline.Request{
		URLs:               urls,
		Schema:             reqBody.Schema,
		Prompt:             reqBody.Prompt,
		AllowExternalLinks: boolValue(reqBody.AllowExternalLinks),
		ShowSources:        boolValue(reqBody.ShowSources),
		Provider:           reqBody.Provider,
		Model:              reqBody.Model,
	}

	id := idgen.NewString()
	now := time.Now()
	rec := extractpipeline.Record{
		ID:        id,
		TeamID:    teamID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(core.ExtractRecords.TTL()).Unix(),
	}

	provider := reqBody.Provider
	if provider == "" {
		provider = cfg.LLM.DefaultProvider
	}

	result, err := core.Extract.Run(c.Context(), teamID, req)
	if err != nil {
		rec.Status = string(ExtractStatusFailed)
		rec.Error = err.Error()
		_ = core.ExtractRecords.Save(c.Context(), rec)
		metrics.RecordExtractJob(provider, reqBody.Model, "failed")
		metrics.RecordLLMExtract(provider, reqBody.Model, false)
		return c.Status(http.StatusBadGateway).JSON(ExtractResponse{
			Success: false,
			Code:    "EXTRACT_FAILED",
			Error:   err.Error(),
		})
	}

	rec.Status = string(ExtractStatusCompleted)
	rec.Data = result.Data
	rec.Sources = result.Sources
	rec.CreditsUsed = result.CreditsCharged
	rec.Warning = result.Warning
	_ = core.ExtractRecords.Save(c.Context(), rec)
	metrics.RecordExtractJob(provider, reqBody.Model, "completed")
	metrics.RecordLLMExtract(provider, reqBody.Model, true)

	resp := fiber.Map{
		"success": true,
		"id":      id,
		"data":    result.Data,
	}
	if len(result.Sources) > 0 {
		resp["sources"] = result.Sources
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// crawlCoreExtractStatusHandler serves GET /v2/extract/:id from the
// extract:<id> KV record. An unknown id is indistinguishable from an
// expired one, so both surface as 404.
func crawlCoreExtractStatusHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	id := c.Params("id")

	rec, ok, err := core.ExtractRecords.Get(c.Context(), id)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(ExtractStatusResponse{
			Success: false,
			Code:    "INTERNAL",
			Error:   err.Error(),
		})
	}
	if !ok {
		return c.Status(http.StatusNotFound).JSON(ExtractStatusResponse{
			Success: false,
			Code:    "JOB_NOT_FOUND",
			Error:   "extract job not found or expired",
		})
	}

	resp := ExtractStatusResponse{
		Success:     rec.Status == string(ExtractStatusCompleted),
		Status:      ExtractJobStatus(rec.Status),
		Data:        rec.Data,
		ExpiresAt:   time.Unix(rec.ExpiresAt, 0).UTC().Format(time.RFC3339),
		CreditsUsed: int(rec.CreditsUsed),
	}
	if rec.Error != "" {
		resp.Error = rec.Error
	}
	return c.Status(http.StatusOK).JSON(resp)
}
