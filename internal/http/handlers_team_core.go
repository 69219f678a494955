package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"raito/internal/admission"
)

// ConcurrencyCheckResponse is the GET /v2/concurrency-check body.
type ConcurrencyCheckResponse struct {
	Success        bool  `json:"success"`
	Concurrency    int64 `json:"concurrency"`
	MaxConcurrency int   `json:"maxConcurrency"`
}

// crawlCoreConcurrencyCheckHandler reports the calling team's live
// concurrency usage against its ceiling, the same counters
// admission.Controller.Admit reads before admitting a job.
func crawlCoreConcurrencyCheckHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	teamID := teamIDFromPrincipal(c)

	identity, err := core.Identities.Get(c.Context(), teamID, admission.ModeScrape)
	if err != nil || identity == nil {
		return c.Status(http.StatusForbidden).JSON(ErrorResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "unknown team",
		})
	}

	inUse, err := core.Admission.ConcurrencyInUse(c.Context(), teamID)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL",
			Error:   err.Error(),
		})
	}

	return c.Status(http.StatusOK).JSON(ConcurrencyCheckResponse{
		Success:        true,
		Concurrency:    inUse,
		MaxConcurrency: identity.Concurrency,
	})
}

// CreditUsageResponse is the GET /v2/team/credit-usage body.
type CreditUsageResponse struct {
	Success          bool  `json:"success"`
	RemainingCredits int64 `json:"remainingCredits"`
}

// crawlCoreCreditUsageHandler reports the calling team's remaining
// credit balance from the same Identity billing debits against.
func crawlCoreCreditUsageHandler(c *fiber.Ctx) error {
	core := c.Locals("core").(*CoreCrawlSubsystem)
	teamID := teamIDFromPrincipal(c)

	identity, err := core.Identities.Get(c.Context(), teamID, admission.ModeStatus)
	if err != nil || identity == nil {
		return c.Status(http.StatusForbidden).JSON(ErrorResponse{
			Success: false,
			Code:    "FORBIDDEN",
			Error:   "unknown team",
		})
	}

	return c.Status(http.StatusOK).JSON(CreditUsageResponse{
		Success:          true,
		RemainingCredits: identity.CreditsRemaining,
	})
}
