package billing

import (
	"context"
	"testing"
)

type fakeDebiter struct {
	teamID  string
	credits int64
}

func (f *fakeDebiter) DebitCredits(teamID string, n int64) bool {
	f.teamID = teamID
	f.credits += n
	return true
}

func TestCalculateCreditsToBeBilled_BaseCost(t *testing.T) {
	b := New(nil)
	got := b.CalculateCreditsToBeBilled(ScrapeCostInput{})
	if got != baseScrapeCredits {
		t.Fatalf("expected base cost %d, got %d", baseScrapeCredits, got)
	}
}

func TestCalculateCreditsToBeBilled_SurchargesStack(t *testing.T) {
	b := New(nil)
	got := b.CalculateCreditsToBeBilled(ScrapeCostInput{
		NumPages:       3,
		UseBrowser:     true,
		ZeroDataRetain: true,
		AgentUsed:      true,
		Formats:        []string{"json"},
	})
	want := baseScrapeCredits + 2*perExtraPageCredits + browserSurcharge + zdrSurcharge + agentSurcharge + jsonFormatSurcharge
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestCalculateExtractCost(t *testing.T) {
	b := New(nil)
	got := b.CalculateExtractCost(1000)
	want := int64(250 + 300)
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestCharge_DebitsThroughDebiter(t *testing.T) {
	d := &fakeDebiter{}
	b := New(d)
	if err := b.Charge(context.Background(), "team-1", 42); err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if d.teamID != "team-1" || d.credits != 42 {
		t.Fatalf("expected team-1 charged 42, got team=%s credits=%d", d.teamID, d.credits)
	}
}

func TestCharge_NilDebiterIsNoop(t *testing.T) {
	b := New(nil)
	if err := b.Charge(context.Background(), "team-1", 42); err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
}
