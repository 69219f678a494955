// Package engine adapts the concrete scrapers in internal/scraper into
// the capability-tagged Engine interface the fallback pipeline
// dispatches across.
package engine

import (
	"context"
	"time"

	"raito/internal/scraper"
)

// Capabilities describes what an engine can do, used by the fallback
// pipeline to skip engines that can't satisfy a request (a mobile
// request skips engines without Mobile; Render is not used for
// filtering). Neither
// engine built here advertises Stealth: there is no stealth-proxy
// engine in this build, so a proxy=stealth request is rejected with
// NoEnginesLeft rather than silently served by a non-stealth engine.
type Capabilities struct {
	Mobile  bool
	Stealth bool
	Render  bool // executes JavaScript / renders the page in a browser
}

// Engine is one entry in the fallback chain.
type Engine interface {
	Name() string
	Capabilities() Capabilities
	Scrape(ctx context.Context, req scraper.Request) (*scraper.Result, error)
}

// httpEngine wraps scraper.HTTPScraper: fast, no JS rendering.
type httpEngine struct {
	timeout time.Duration
}

// NewHTTPEngine returns the plain net/http + goquery engine.
func NewHTTPEngine(timeout time.Duration) Engine {
	return &httpEngine{timeout: timeout}
}

func (e *httpEngine) Name() string { return "http" }

func (e *httpEngine) Capabilities() Capabilities {
	return Capabilities{Mobile: true, Stealth: false, Render: false}
}

func (e *httpEngine) Scrape(ctx context.Context, req scraper.Request) (*scraper.Result, error) {
	if req.Timeout == 0 {
		req.Timeout = e.timeout
	}
	return scraper.NewHTTPScraper(e.timeout).Scrape(ctx, req)
}

// browserEngine wraps the go-rod powered scraper.RodScraper: slower,
// renders JavaScript, needed for pages whose content is assembled
// client-side.
type browserEngine struct {
	timeout time.Duration
}

// NewBrowserEngine returns the go-rod headless-Chromium engine.
func NewBrowserEngine(timeout time.Duration) Engine {
	return &browserEngine{timeout: timeout}
}

func (e *browserEngine) Name() string { return "browser" }

func (e *browserEngine) Capabilities() Capabilities {
	return Capabilities{Mobile: true, Stealth: false, Render: true}
}

func (e *browserEngine) Scrape(ctx context.Context, req scraper.Request) (*scraper.Result, error) {
	if req.Timeout == 0 {
		req.Timeout = e.timeout
	}
	return scraper.NewRodScraper(e.timeout).Scrape(ctx, req)
}
