// Package admission implements the per-team rate limit, credit, and
// concurrency gates a job must pass before NuQ will accept it: a
// fixed-window request counter, a credit balance check, and a
// three-gate admission decision backed by Redis sorted sets for the
// live concurrency estimate.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	raitoerrors "raito/internal/errors"
	"raito/internal/model"
)

// RateStore is the narrow slice of internal/kv.Store admission needs.
// Keeping it this small (rather than depending on kv.Store directly)
// lets tests substitute an in-memory fake instead of faking the full
// ~100-method redis.Cmdable surface kv.Store wraps.
type RateStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZCountFrom(ctx context.Context, key string, min float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZPopMinN(ctx context.Context, key string, n int64) ([]redis.Z, error)
}

// Mode is the operation class an admission decision is made for. Rate
// limits are tracked per mode, and the concurrency ceiling for crawl
// and extract work folds in the complementary mode's ceiling so the
// two long-running job classes share capacity reasonably.
type Mode string

const (
	ModeScrape  Mode = "scrape"
	ModeCrawl   Mode = "crawl"
	ModeMap     Mode = "map"
	ModeSearch  Mode = "search"
	ModeExtract Mode = "extract"
	ModeStatus  Mode = "status"
)

// Complement returns the paired mode whose ACUC ceiling is combined
// with m's when computing the effective concurrency ceiling: crawl and
// extract complement each other; every other mode stands alone.
func (m Mode) Complement() Mode {
	switch m {
	case ModeCrawl:
		return ModeExtract
	case ModeExtract:
		return ModeCrawl
	}
	return ""
}

// IdentityProvider resolves a team ID to its current ACUC record for a
// given operation mode: the returned Identity carries that mode's rate
// limit and concurrency ceiling.
type IdentityProvider interface {
	Get(ctx context.Context, teamID string, mode Mode) (*model.Identity, error)
}

// Combinator reduces a set of concurrency ceilings (e.g. the team's
// own plus any override) into the single ceiling enforced for an
// admission decision. The default is max(); it is a pluggable func so
// a future caller combining more than one ceiling source isn't locked
// into one policy.
type Combinator func(ceilings ...int) int

// MaxCombinator is the default rule: the effective ceiling is the
// maximum of all applicable concurrency limits.
func MaxCombinator(ceilings ...int) int {
	max := 0
	for _, c := range ceilings {
		if c > max {
			max = c
		}
	}
	return max
}

// Controller gates job admission per team and tracks active job
// leases so concurrency can be measured live rather than estimated.
type Controller struct {
	store      RateStore
	identities IdentityProvider
	combinator Combinator
	// maxJobDuration bounds how long an active-jobs register entry is
	// trusted before it self-prunes (concurrency counts only entries
	// whose expiry score is still in the future), protecting against a
	// leaked Release call leaving a phantom slot occupied forever.
	maxJobDuration time.Duration
}

func New(store RateStore, identities IdentityProvider, combinator Combinator, maxJobDuration time.Duration) *Controller {
	if combinator == nil {
		combinator = MaxCombinator
	}
	if maxJobDuration <= 0 {
		maxJobDuration = 10 * time.Minute
	}
	return &Controller{store: store, identities: identities, combinator: combinator, maxJobDuration: maxJobDuration}
}

// The active-jobs register is concurrency-limiter:<teamId>, scored by
// expiry time in milliseconds; the deferred queue is
// concurrency-limit-queue:<teamId>, scored by enqueue time.
func activeJobsKey(teamID string) string { return fmt.Sprintf("concurrency-limiter:%s", teamID) }
func deferredKey(teamID string) string   { return fmt.Sprintf("concurrency-limit-queue:%s", teamID) }
func rateLimitKey(teamID string, mode Mode, window string) string {
	return fmt.Sprintf("rate-limit:%s:%s:%s", teamID, mode, window)
}

// Decision is the outcome of Admit.
type Decision struct {
	Admitted bool
	Deferred bool // true if the job was parked on the concurrency-limit-queue for later promotion
}

// Admit runs the rate limit, credit, and concurrency gates for jobID
// belonging to teamID, in that order — cheapest checks first, so a
// clearly-over-budget team never reaches the Redis round trip for
// concurrency. minCredits is the request's minimum ask (its limit, or
// its URL count, or 1); the credit gate requires remaining credits >=
// minCredits, not merely > 0, so a team with a single credit can't be
// admitted into a crawl or batch requesting thousands of URLs. Values
// <= 0 are treated as 1. On success it registers the job in the
// active-jobs set so Release can later free its slot; on concurrency
// exhaustion it parks the job in the deferred sorted set instead of
// rejecting outright, so the Promoter can admit it once capacity frees.
func (c *Controller) Admit(ctx context.Context, teamID string, mode Mode, jobID string, minCredits int64) (Decision, error) {
	return c.AdmitWithCeiling(ctx, teamID, mode, jobID, minCredits, 0)
}

// AdmitWithCeiling is Admit with an additional ceiling source folded in
// through the Combinator — e.g. a crawl's own maxConcurrency request
// alongside the team's ceiling. A zero extraCeiling contributes
// nothing.
func (c *Controller) AdmitWithCeiling(ctx context.Context, teamID string, mode Mode, jobID string, minCredits int64, extraCeiling int) (Decision, error) {
	identity, err := c.checkBudget(ctx, teamID, mode, minCredits)
	if err != nil {
		return Decision{}, err
	}

	ceiling, err := c.effectiveCeiling(ctx, identity, teamID, mode, extraCeiling)
	if err != nil {
		return Decision{}, err
	}
	if ceiling <= 0 {
		return Decision{Admitted: true}, c.registerActive(ctx, teamID, jobID)
	}

	now := float64(time.Now().UnixMilli())
	active, err := c.store.ZCountFrom(ctx, activeJobsKey(teamID), now)
	if err != nil {
		return Decision{}, err
	}
	if active >= int64(ceiling) {
		if err := c.store.ZAdd(ctx, deferredKey(teamID), now, jobID); err != nil {
			return Decision{}, err
		}
		return Decision{Deferred: true}, nil
	}

	if err := c.registerActive(ctx, teamID, jobID); err != nil {
		return Decision{}, err
	}
	return Decision{Admitted: true}, nil
}

// effectiveCeiling combines every applicable concurrency ceiling for a
// decision: the resolved mode's own, the complementary mode's (crawl
// and extract share capacity), and any per-request extra source.
func (c *Controller) effectiveCeiling(ctx context.Context, identity *model.Identity, teamID string, mode Mode, extraCeiling int) (int, error) {
	ceilings := []int{identity.Concurrency, extraCeiling}
	if other := mode.Complement(); other != "" {
		otherIdentity, err := c.identities.Get(ctx, teamID, other)
		if err != nil {
			return 0, err
		}
		if otherIdentity != nil {
			ceilings = append(ceilings, otherIdentity.Concurrency)
		}
	}
	return c.combinator(ceilings...), nil
}

// checkBudget runs the rate-limit and credit gates shared by Admit and
// CheckBudget, returning the resolved identity so callers that also
// need the concurrency ceiling (Admit) don't re-fetch it.
func (c *Controller) checkBudget(ctx context.Context, teamID string, mode Mode, minCredits int64) (*model.Identity, error) {
	if minCredits <= 0 {
		minCredits = 1
	}

	identity, err := c.identities.Get(ctx, teamID, mode)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, raitoerrors.New(raitoerrors.Forbidden, "unknown team")
	}

	if !identity.Unlimited && identity.RateLimitPerMinute > 0 {
		window := time.Now().UTC().Format("200601021504")
		count, err := c.store.Incr(ctx, rateLimitKey(teamID, mode, window), time.Minute)
		if err != nil {
			return nil, err
		}
		if count > int64(identity.RateLimitPerMinute) {
			return nil, raitoerrors.New(raitoerrors.RateLimited, "rate limit exceeded")
		}
	}

	if !identity.Unlimited && identity.CreditsRemaining < minCredits {
		return nil, raitoerrors.New(raitoerrors.InsufficientCredits, "no credits remaining")
	}

	return identity, nil
}

// CheckBudget runs only the rate-limit and credit gates, without
// touching the concurrency ledger. Top-level entry points that don't dispatch
// individual NuQ jobs of their own — crawl.Orchestrator.Submit, and the
// search and extract HTTP handlers before they call
// search.Orchestrator.Run and extractpipeline.Service.Run — use this
// instead of Admit: concurrency accounting for the actual scrape work
// those operations fan out into is already owned by each child
// scrape's own Admit/Release pair (internal/crawl/worker.go), so a
// second, outer concurrency reservation held for the operation's
// entire lifetime would double-book the same budget.
func (c *Controller) CheckBudget(ctx context.Context, teamID string, mode Mode, minCredits int64) error {
	_, err := c.checkBudget(ctx, teamID, mode, minCredits)
	return err
}

func (c *Controller) registerActive(ctx context.Context, teamID, jobID string) error {
	expiry := float64(time.Now().Add(c.maxJobDuration).UnixMilli())
	return c.store.ZAdd(ctx, activeJobsKey(teamID), expiry, jobID)
}

// Release frees jobID's active-jobs slot, called when NuQ finishes or
// fails the job. It is safe to call even if the job was never
// registered (e.g. it was deferred, never admitted).
func (c *Controller) Release(ctx context.Context, teamID, jobID string) error {
	return c.store.ZRem(ctx, activeJobsKey(teamID), jobID)
}

// ConcurrencyInUse returns the live count of non-expired active-jobs
// entries for teamID — the same query Admit uses, exposed for the
// concurrency_limit_queue_job_count metric and admin inspection.
func (c *Controller) ConcurrencyInUse(ctx context.Context, teamID string) (int64, error) {
	return c.store.ZCountFrom(ctx, activeJobsKey(teamID), float64(time.Now().UnixMilli()))
}

// DeferredCount returns how many jobs are currently parked in teamID's
// concurrency-limit-queue.
func (c *Controller) DeferredCount(ctx context.Context, teamID string) (int64, error) {
	return c.store.ZCard(ctx, deferredKey(teamID))
}
