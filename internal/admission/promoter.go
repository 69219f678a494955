package admission

import (
	"context"
	"log/slog"
	"time"
)

// Requeue is called by the Promoter for each deferred job it decides
// to admit, so the caller can push the job back onto NuQ (or whatever
// dispatch mechanism originally deferred it).
type Requeue func(ctx context.Context, teamID, jobID string) error

// Promoter periodically re-admits deferred jobs for every team that
// has room, oldest enqueue-time first, once concurrency capacity
// frees up.
type Promoter struct {
	controller *Controller
	teams      func(ctx context.Context) ([]string, error)
	requeue    Requeue
	interval   time.Duration
	batchSize  int64
	logger     *slog.Logger
}

// NewPromoter builds a Promoter. teams returns the team IDs whose
// deferred queues are swept on each tick.
func NewPromoter(controller *Controller, teams func(ctx context.Context) ([]string, error), requeue Requeue, interval time.Duration, batchSize int64, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Promoter{controller: controller, teams: teams, requeue: requeue, interval: interval, batchSize: batchSize, logger: logger}
}

// Run ticks until ctx is cancelled, promoting deferred jobs each tick.
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Promoter) sweepOnce(ctx context.Context) {
	teamIDs, err := p.teams(ctx)
	if err != nil {
		p.logger.Error("admission promoter: list teams failed", "error", err)
		return
	}
	for _, teamID := range teamIDs {
		if err := p.promoteTeam(ctx, teamID); err != nil {
			p.logger.Error("admission promoter: promote team failed", "team_id", teamID, "error", err)
		}
	}
}

func (p *Promoter) promoteTeam(ctx context.Context, teamID string) error {
	// Deferred jobs are crawl-class work, so room is measured against
	// the same crawl-plus-complement ceiling Admit enforced when it
	// parked them.
	identity, err := p.controller.identities.Get(ctx, teamID, ModeCrawl)
	if err != nil || identity == nil {
		return err
	}
	ceiling, err := p.controller.effectiveCeiling(ctx, identity, teamID, ModeCrawl, 0)
	if err != nil {
		return err
	}
	if ceiling <= 0 {
		ceiling = int(p.batchSize) // unlimited concurrency still bounds a single sweep's batch
	}

	active, err := p.controller.ConcurrencyInUse(ctx, teamID)
	if err != nil {
		return err
	}
	room := int64(ceiling) - active
	if room <= 0 {
		return nil
	}
	if room > p.batchSize {
		room = p.batchSize
	}

	popped, err := p.controller.store.ZPopMinN(ctx, deferredKey(teamID), room)
	if err != nil {
		return err
	}
	for _, z := range popped {
		jobID, ok := z.Member.(string)
		if !ok {
			continue
		}
		// The slot is NOT reserved here: the promoted job re-enters the
		// queue and its own Admit takes the slot when a worker picks it
		// up. Reserving now would make that Admit count the job against
		// itself and defer it again.
		if err := p.requeue(ctx, teamID, jobID); err != nil {
			p.logger.Error("admission promoter: requeue failed", "team_id", teamID, "job_id", jobID, "error", err)
			if zerr := p.controller.store.ZAdd(ctx, deferredKey(teamID), z.Score, jobID); zerr != nil {
				p.logger.Error("admission promoter: re-park failed", "team_id", teamID, "job_id", jobID, "error", zerr)
			}
		}
	}
	return nil
}
