// Package billing implements the credit-cost formulas: per-scrape cost
// factoring formats, PDF page count, proxy type, and ZDR/agent usage,
// plus the extract pipeline's final-cost formula. It is the single
// place that decides *how much* to debit, leaving *whether* a team can
// afford it to admission.
package billing

import (
	"context"
	"strings"
)

// ScrapeCostInput carries the factors CalculateCreditsToBeBilled needs
// for a single scrape.
type ScrapeCostInput struct {
	Formats        []string
	NumPages       int  // PDF page count; 0 treated as 1
	UseBrowser     bool // stealth/rendering proxy costs more than plain HTTP
	ZeroDataRetain bool // ZDR jobs carry a small per-job premium
	AgentUsed      bool // LLM-assisted extraction ran alongside the scrape
}

// Billing computes and records credit charges, backed by admission's
// in-memory ledger rather than an external invoicing service.
type Billing interface {
	CalculateCreditsToBeBilled(input ScrapeCostInput) int64
	CalculateExtractCost(serializedLength int) int64
	Charge(ctx context.Context, teamID string, credits int64) error
}

// Debiter is the narrow slice of admission.StaticIdentityProvider
// billing needs: subtract credits from a team's balance.
type Debiter interface {
	DebitCredits(teamID string, n int64) bool
}

const (
	baseScrapeCredits   int64 = 1
	perExtraPageCredits int64 = 1
	browserSurcharge    int64 = 4
	zdrSurcharge        int64 = 1
	agentSurcharge      int64 = 5
	imageFlatRate       int64 = 1
	jsonFormatSurcharge int64 = 3
)

type service struct {
	debiter Debiter
}

// New returns the default Billing, debiting through debiter (typically
// an *admission.StaticIdentityProvider).
func New(debiter Debiter) Billing {
	return &service{debiter: debiter}
}

// CalculateCreditsToBeBilled prices one scrape. Base cost is 1 credit;
// PDFs add 1 credit per page beyond the first; browser-rendered
// (stealth/JS) scrapes carry a surcharge over plain HTTP; structured
// JSON extraction, ZDR, and agent-assisted scrapes each add their own
// surcharge. The formula is additive rather than multiplicative so a
// caller can reason about a bill as a sum of line items.
func (s *service) CalculateCreditsToBeBilled(input ScrapeCostInput) int64 {
	cost := baseScrapeCredits

	pages := input.NumPages
	if pages > 1 {
		cost += int64(pages-1) * perExtraPageCredits
	}

	if input.UseBrowser {
		cost += browserSurcharge
	}
	if input.ZeroDataRetain {
		cost += zdrSurcharge
	}
	if input.AgentUsed {
		cost += agentSurcharge
	}
	for _, f := range input.Formats {
		if strings.EqualFold(f, "json") {
			cost += jsonFormatSurcharge
			break
		}
	}

	return cost
}

// ImageFlatRate is the fixed per-image-result charge, separate from
// scrape pricing: image results are never fetched, only listed.
func ImageFlatRate() int64 { return imageFlatRate }

// CalculateExtractCost implements the extract final-cost formula:
// ceil(serialized_length/4) + 300 tokens, billed 1:1 as credits (the
// simplest possible token-to-credit rate, since no tiered pricing
// table exists in this system).
func (s *service) CalculateExtractCost(serializedLength int) int64 {
	if serializedLength < 0 {
		serializedLength = 0
	}
	tokens := (serializedLength + 3) / 4 // ceil(serializedLength/4)
	return int64(tokens) + 300
}

// Charge debits credits from teamID's balance. A nil debiter (billing
// disabled / self-hosted-unlimited mode) is a no-op success.
func (s *service) Charge(_ context.Context, teamID string, credits int64) error {
	if s.debiter == nil || credits <= 0 {
		return nil
	}
	s.debiter.DebitCredits(teamID, credits)
	return nil
}
