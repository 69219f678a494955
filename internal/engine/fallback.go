package engine

import (
	"context"
	"fmt"
	"time"

	raitoerrors "raito/internal/errors"
	"raito/internal/scraper"
)

// Pipeline tries each engine in order until one produces an acceptable
// result.
type Pipeline struct {
	engines               []Engine
	minAcceptableMarkdown int
	perEngineTimeout      time.Duration
}

// NewPipeline builds a fallback pipeline over engines, tried in the
// given order. minAcceptableMarkdown is the isLongEnough threshold
// (default 100 characters); perEngineTimeout bounds each
// individual engine attempt so one slow engine can't starve the rest
// of the chain.
func NewPipeline(engines []Engine, minAcceptableMarkdown int, perEngineTimeout time.Duration) *Pipeline {
	if minAcceptableMarkdown <= 0 {
		minAcceptableMarkdown = 100
	}
	return &Pipeline{engines: engines, minAcceptableMarkdown: minAcceptableMarkdown, perEngineTimeout: perEngineTimeout}
}

// Outcome is the result of running the pipeline: the accepted scrape
// result, which engine produced it, and the per-engine attempt log in
// the order attempts were made.
type Outcome struct {
	Result *scraper.Result
	Engine string
	Logs   []string
}

// Run dispatches req across the engine chain, accepting the first
// result that is either an authoritative bad status code (the page
// itself returned an error; retrying a different engine would not
// change that) or long enough markdown. Engines that error out
// (timeout, connection refused, render crash) are skipped, not
// retried. If every engine is exhausted without an acceptable result,
// Run returns a NoEnginesLeft TransportableError.
func (p *Pipeline) Run(ctx context.Context, req scraper.Request) (*Outcome, error) {
	if len(p.engines) == 0 {
		return nil, raitoerrors.New(raitoerrors.NoEnginesLeft, "no engines configured")
	}

	engines := p.eligibleEngines(req)
	if len(engines) == 0 {
		return nil, raitoerrors.New(raitoerrors.NoEnginesLeft, "no configured engine satisfies the requested capabilities (mobile/stealth)")
	}

	var lastErr error
	var logs []string
	for _, eng := range engines {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.perEngineTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.perEngineTimeout)
		}
		res, err := eng.Scrape(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			lastErr = err
			logs = append(logs, fmt.Sprintf("engine %s: error: %v", eng.Name(), err))
			continue
		}

		if p.accept(res) {
			logs = append(logs, fmt.Sprintf("engine %s: accepted status=%d markdown_len=%d", eng.Name(), res.Status, len(res.Markdown)))
			return &Outcome{Result: res, Engine: eng.Name(), Logs: logs}, nil
		}
		logs = append(logs, fmt.Sprintf("engine %s: rejected status=%d markdown_len=%d", eng.Name(), res.Status, len(res.Markdown)))
	}

	msg := "all configured engines were exhausted without an acceptable result"
	if lastErr != nil {
		return nil, raitoerrors.Wrap(raitoerrors.NoEnginesLeft, lastErr)
	}
	return nil, raitoerrors.New(raitoerrors.NoEnginesLeft, msg)
}

// eligibleEngines narrows p.engines to those whose Capabilities satisfy
// req's options: mobile requests keep only mobile-capable engines,
// proxy=stealth keeps only stealth-capable ones. Order is preserved so
// the configured fallback order still applies among the survivors.
func (p *Pipeline) eligibleEngines(req scraper.Request) []Engine {
	if !req.Mobile && !req.Stealth {
		return p.engines
	}
	filtered := make([]Engine, 0, len(p.engines))
	for _, eng := range p.engines {
		caps := eng.Capabilities()
		if req.Mobile && !caps.Mobile {
			continue
		}
		if req.Stealth && !caps.Stealth {
			continue
		}
		filtered = append(filtered, eng)
	}
	return filtered
}

// accept decides whether res is good enough to stop the fallback
// chain. Any status of 300 or above is authoritative: the target
// itself answered (redirect, client error, server error), and a
// different engine would get the same answer, so don't burn another
// attempt on it.
func (p *Pipeline) accept(res *scraper.Result) bool {
	if res.Status >= 300 {
		return true
	}
	return p.isLongEnough(res.Markdown)
}

func (p *Pipeline) isLongEnough(markdown string) bool {
	return len(markdown) >= p.minAcceptableMarkdown
}
