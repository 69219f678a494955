package search

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"raito/internal/billing"
	"raito/internal/engine"
	"raito/internal/model"
	"raito/internal/scraper"
)

// ResultItem is one search hit after the orchestrator has attached its
// scraped document, or left it unscraped for image results which are
// never fetched.
type ResultItem struct {
	Result
	SourceType string // "web", "news", "images"
	Document   *model.Document
	ScrapeErr  string
}

// OrchestratedResults is the Search→Scrape Orchestrator's output:
// every requested source type's results, in original provider order,
// each optionally carrying a scraped Document.
type OrchestratedResults struct {
	Web            []ResultItem
	News           []ResultItem
	Images         []ResultItem
	CreditsCharged int64
}

// ScrapeSettings mirrors the subset of model.ScrapeOptions the
// orchestrator applies uniformly to every non-image result it scrapes.
type ScrapeSettings struct {
	Formats    []string
	Headers    map[string]string
	UseBrowser bool
	TimeoutMs  int
	Mobile     bool
	Proxy      string
}

// Orchestrator runs the search-then-scrape flow: query a Provider, fan
// out concurrent scrapes across the results via an engine.Pipeline,
// and bill the team per scrape. Fan-out is a bounded worker pool, not
// a goroutine per URL.
type Orchestrator struct {
	provider      Provider
	pipeline      *engine.Pipeline
	billing       billing.Billing
	maxConcurrent int
	userAgent     string
}

// NewOrchestrator builds a search orchestrator. maxConcurrent bounds
// how many scrapes run at once; values <= 0 fall back to a
// conservative default.
func NewOrchestrator(provider Provider, pipeline *engine.Pipeline, bill billing.Billing, maxConcurrent int, userAgent string) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Orchestrator{
		provider:      provider,
		pipeline:      pipeline,
		billing:       bill,
		maxConcurrent: maxConcurrent,
		userAgent:     userAgent,
	}
}

// typeCap bounds how many results of a given source type are kept
// after the provider returns results.
func typeCap(results []Result, cap int) []Result {
	if cap <= 0 || len(results) <= cap {
		return results
	}
	return results[:cap]
}

// Run executes the full search→scrape pipeline for teamID: search,
// fan out scrapes over non-image results, aggregate by stable input
// position, and charge credits.
func (o *Orchestrator) Run(ctx context.Context, teamID string, req *Request, scrape *ScrapeSettings) (*OrchestratedResults, error) {
	results, err := o.provider.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	perTypeCap := req.Limit
	web := typeCap(results.Web, perTypeCap)
	news := typeCap(results.News, perTypeCap)
	images := typeCap(results.Images, perTypeCap)

	out := &OrchestratedResults{
		Web:    make([]ResultItem, len(web)),
		News:   make([]ResultItem, len(news)),
		Images: make([]ResultItem, len(images)),
	}
	for i, r := range images {
		out.Images[i] = ResultItem{Result: r, SourceType: "images"}
	}

	// Image results are never scraped; they bill at the flat rate.
	var totalCredits int64
	for range images {
		totalCredits += billing.ImageFlatRate()
	}

	if scrape == nil {
		for i, r := range web {
			out.Web[i] = ResultItem{Result: r, SourceType: "web"}
		}
		for i, r := range news {
			out.News[i] = ResultItem{Result: r, SourceType: "news"}
		}
		if o.billing != nil && totalCredits > 0 {
			_ = o.billing.Charge(ctx, teamID, totalCredits)
		}
		out.CreditsCharged = totalCredits
		return out, nil
	}

	type job struct {
		bucket *[]ResultItem
		idx    int
		result Result
		typ    string
	}
	jobs := make([]job, 0, len(web)+len(news))
	for i, r := range web {
		jobs = append(jobs, job{bucket: &out.Web, idx: i, result: r, typ: "web"})
	}
	for i, r := range news {
		jobs = append(jobs, job{bucket: &out.News, idx: i, result: r, typ: "news"})
	}

	timeout := time.Duration(scrape.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	creditsPerJob := make([]int64, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrent)

	for i := range jobs {
		j := jobs[i]
		idx := i
		g.Go(func() error {
			item := ResultItem{Result: j.result, SourceType: j.typ}
			if strings.TrimSpace(j.result.URL) == "" {
				item.ScrapeErr = "missing url"
				(*j.bucket)[j.idx] = item
				return nil
			}

			sreq := scraper.Request{
				URL:       j.result.URL,
				Headers:   scrape.Headers,
				Timeout:   timeout,
				UserAgent: o.userAgent,
				Mobile:    scrape.Mobile,
				Stealth:   scrape.Proxy == "stealth",
			}
			attemptCtx, cancel := context.WithTimeout(gctx, timeout)
			outcome, err := o.pipeline.Run(attemptCtx, sreq)
			cancel()
			if err != nil {
				item.ScrapeErr = err.Error()
				(*j.bucket)[j.idx] = item
				return nil
			}

			doc := DocumentFromScrape(outcome, scrape.Formats)
			item.Document = doc
			(*j.bucket)[j.idx] = item

			if o.billing != nil {
				creditsPerJob[idx] = o.billing.CalculateCreditsToBeBilled(billing.ScrapeCostInput{
					Formats:    scrape.Formats,
					NumPages:   doc.NumPages,
					UseBrowser: scrape.UseBrowser,
				})
			}
			return nil
		})
	}
	// errgroup.Wait's only error path here is ctx cancellation; per-job
	// scrape failures are recorded on the ResultItem, not propagated.
	_ = g.Wait()

	for _, c := range creditsPerJob {
		totalCredits += c
	}
	if o.billing != nil && totalCredits > 0 {
		_ = o.billing.Charge(ctx, teamID, totalCredits)
	}
	out.CreditsCharged = totalCredits

	return out, nil
}

// DocumentFromScrape maps an accepted engine.Outcome onto a
// model.Document honoring the requested formats. It is exported so the
// synchronous /v2/scrape handler builds responses the same way a
// search result's per-URL scrape does.
func DocumentFromScrape(outcome *engine.Outcome, formats []string) *model.Document {
	res := outcome.Result
	doc := &model.Document{
		Links:    res.Links,
		Engine:   outcome.Engine,
		NumPages: 1,
		Metadata: model.Metadata{SourceURL: res.URL, StatusCode: res.Status},
	}
	for _, f := range formats {
		switch strings.ToLower(f) {
		case "html":
			doc.HTML = res.HTML
		case "rawhtml":
			doc.RawHTML = res.RawHTML
		case "markdown", "":
			doc.Markdown = res.Markdown
		}
	}
	if len(formats) == 0 {
		doc.Markdown = res.Markdown
	}
	for _, lm := range res.LinkMetadata {
		doc.LinkMetadata = append(doc.LinkMetadata, model.LinkMetadata{URL: lm.URL, Text: lm.Text, Rel: lm.Rel})
	}
	return doc
}
