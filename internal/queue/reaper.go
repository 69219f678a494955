package queue

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically resets jobs that a worker abandoned: rows still
// status=active whose lock was last renewed more than lease ago. This
// is the only writer to queue rows besides the worker holding the
// matching nonce.
type Reaper struct {
	backend  Backend
	lease    time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper builds a Reaper. lease is how long a worker may go without
// renewing before its claim is considered abandoned; interval is how
// often the reaper sweeps.
func NewReaper(q *Queue, lease, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{backend: q.backend, lease: lease, interval: interval, logger: logger}
}

// Run sweeps on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	n, err := r.backend.ReapExpired(ctx, r.lease)
	if err != nil {
		r.logger.Error("nuq reaper sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("nuq reaper reclaimed abandoned jobs", "count", n)
	}
}
