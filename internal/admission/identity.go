package admission

import (
	"context"
	"sync"

	"raito/internal/model"
)

// StaticIdentityProvider is an in-memory IdentityProvider standing in
// for an external billing store: teams are seeded at construction (or
// added with Upsert) with a fixed concurrency/rate-limit ceiling and,
// optionally, a credit balance that callers can debit.
type StaticIdentityProvider struct {
	mu        sync.RWMutex
	teams     map[string]*model.Identity
	unlimited model.Identity
}

// NewStaticIdentityProvider seeds the provider with the given
// identities, keyed by TeamID. Unknown teams not present in seed fall
// back to unlimitedDefault when it is non-nil (useful for an
// open/self-hosted deployment where every tenant is implicitly
// unlimited), or are reported as unknown otherwise.
func NewStaticIdentityProvider(seed []model.Identity, unlimitedDefault *model.Identity) *StaticIdentityProvider {
	p := &StaticIdentityProvider{teams: make(map[string]*model.Identity, len(seed))}
	for i := range seed {
		id := seed[i]
		p.teams[id.TeamID] = &id
	}
	if unlimitedDefault != nil {
		p.unlimited = *unlimitedDefault
		p.unlimited.Unlimited = true
	}
	return p
}

// Get resolves teamID's ACUC for the given mode: the per-mode rate
// limit and concurrency overrides, when present, replace the team-wide
// defaults in the returned copy.
func (p *StaticIdentityProvider) Get(_ context.Context, teamID string, mode Mode) (*model.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id, ok := p.teams[teamID]; ok {
		cp := *id
		if v, ok := id.RateLimitsPerMode[string(mode)]; ok {
			cp.RateLimitPerMinute = v
		}
		if v, ok := id.ConcurrencyPerMode[string(mode)]; ok {
			cp.Concurrency = v
		}
		return &cp, nil
	}
	if p.unlimited.TeamID != "" || p.unlimited.Unlimited {
		cp := p.unlimited
		cp.TeamID = teamID
		return &cp, nil
	}
	return nil, nil
}

// Upsert adds or replaces a team's identity record.
func (p *StaticIdentityProvider) Upsert(identity model.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teams[identity.TeamID] = &identity
}

// DebitCredits subtracts n credits from teamID's balance, floored at
// zero. Returns false if the team is unknown.
func (p *StaticIdentityProvider) DebitCredits(teamID string, n int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.teams[teamID]
	if !ok {
		return false
	}
	id.CreditsRemaining -= n
	if id.CreditsRemaining < 0 {
		id.CreditsRemaining = 0
	}
	return true
}
