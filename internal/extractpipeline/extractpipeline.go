// Package extractpipeline implements the multi-document extract
// orchestrator: URL resolution (including `/*` expansion through the
// map subsystem), optional schema generation,
// single-answer-vs-multi-entity schema analysis, chunked parallel
// extraction, and merge/dedup of multi-entity results. It builds on
// the single-document `internal/llm` + `internal/extract` pair,
// generalizing their sequential scrape-then-extract-once shape into
// the full pipeline.
package extractpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"raito/internal/billing"
	"raito/internal/crawler"
	"raito/internal/engine"
	"raito/internal/llm"
	"raito/internal/scraper"
)

// SchemaAnalysis is the result of classifying a schema as single-answer
// vs multi-entity.
type SchemaAnalysis struct {
	IsMultiEntity   bool
	MultiEntityKeys []string
	Reasoning       string
}

// LLMExtractor is the narrow LLM surface the pipeline needs beyond
// plain field extraction: schema generation from a prompt, and
// single-vs-multi-entity classification. Both are implemented in
// terms of the same underlying llm.Client.ExtractFields call the
// single-document extractor already makes, just with different field
// specs and prompts, so no new provider-specific HTTP code is needed.
type LLMExtractor interface {
	GenerateSchemaFromPrompt(ctx context.Context, prompt string) (map[string]interface{}, error)
	AnalyzeSchema(ctx context.Context, schema map[string]interface{}) (SchemaAnalysis, error)
	Extract(ctx context.Context, url string, markdown string, fields []llm.FieldSpec, prompt string, timeout time.Duration) (map[string]interface{}, error)
}

// URLResolver expands a `/*`-suffixed URL into the set of URLs to
// scrape. The default implementation delegates to internal/crawler.Map.
type URLResolver interface {
	Resolve(ctx context.Context, baseURL string, allowExternal bool, limit int) ([]string, error)
}

type mapResolver struct {
	timeout   time.Duration
	userAgent string
}

// NewMapResolver returns the default URLResolver, backed by the same
// internal/crawler.Map that serves /v2/map.
func NewMapResolver(timeout time.Duration, userAgent string) URLResolver {
	return &mapResolver{timeout: timeout, userAgent: userAgent}
}

func (r *mapResolver) Resolve(ctx context.Context, baseURL string, allowExternal bool, limit int) ([]string, error) {
	res, err := crawler.Map(ctx, crawler.MapOptions{
		URL:           baseURL,
		Limit:         limit,
		AllowExternal: allowExternal,
		Timeout:       r.timeout,
		RespectRobots: true,
		UserAgent:     r.userAgent,
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Links))
	for _, l := range res.Links {
		out = append(out, l.URL)
	}
	return out, nil
}

// Request is the input to a single extract pipeline run.
type Request struct {
	URLs               []string
	Schema             map[string]interface{}
	Prompt             string
	AllowExternalLinks bool
	ShowSources        bool
	Provider           string
	Model              string
}

// Result is the extract pipeline's output: the merged object shape,
// optionally the per-key source URLs, and the credits charged.
type Result struct {
	Data           map[string]interface{}
	Sources        map[string][]string
	CreditsCharged int64
	Warning        string
}

// Service runs the full §4.H pipeline.
type Service struct {
	resolver       URLResolver
	extractor      LLMExtractor
	pipeline       *engine.Pipeline
	billing        billing.Billing
	chunkSize      int
	docTimeout     time.Duration
	requestTimeout time.Duration
	userAgent      string
}

// New builds a Service. chunkSize/docTimeout/requestTimeout fall back
// to their defaults (50, 45s, 60s) when zero.
func New(resolver URLResolver, extractor LLMExtractor, pipeline *engine.Pipeline, bill billing.Billing, chunkSize int, docTimeout, requestTimeout time.Duration, userAgent string) *Service {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	if docTimeout <= 0 {
		docTimeout = 45 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Service{
		resolver:       resolver,
		extractor:      extractor,
		pipeline:       pipeline,
		billing:        bill,
		chunkSize:      chunkSize,
		docTimeout:     docTimeout,
		requestTimeout: requestTimeout,
		userAgent:      userAgent,
	}
}

type scrapedDoc struct {
	URL      string
	Markdown string
	Err      error
}

// Run executes the pipeline end to end for teamID.
func (s *Service) Run(ctx context.Context, teamID string, req Request) (*Result, error) {
	urls, err := s.resolveURLs(ctx, req.URLs, req.AllowExternalLinks)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no urls resolved for extraction")
	}

	schema := req.Schema
	if len(schema) == 0 && strings.TrimSpace(req.Prompt) != "" {
		generated, err := s.extractor.GenerateSchemaFromPrompt(ctx, req.Prompt)
		if err != nil {
			return nil, fmt.Errorf("generate schema from prompt: %w", err)
		}
		schema = generated
	}

	analysis, err := s.extractor.AnalyzeSchema(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("analyze schema: %w", err)
	}

	multiFields, singleFields := partitionFields(schema, analysis.MultiEntityKeys)

	// Per-URL scrape timeout is 70% of the overall request timeout,
	// leaving the rest of the budget for the extract calls.
	perURLTimeout := time.Duration(float64(s.requestTimeout) * 0.7)
	docs := s.scrapeAll(ctx, urls, perURLTimeout)

	final := map[string]interface{}{}
	sources := map[string][]string{}

	if analysis.IsMultiEntity && len(multiFields) > 0 {
		items, itemSources, err := s.extractMultiEntity(ctx, docs, multiFields, req.Prompt)
		if err != nil {
			return nil, err
		}
		merged, mergedSources := mergeEntities(items, itemSources, multiFields)
		final["items"] = merged
		if req.ShowSources {
			sources["items"] = mergedSources
		}
	}

	if len(singleFields) > 0 {
		singleResult, err := s.extractSingleAnswer(ctx, docs, singleFields, req.Prompt)
		if err != nil {
			return nil, err
		}
		for k, v := range singleResult {
			final[k] = v
		}
		if req.ShowSources {
			for k := range singleResult {
				sources[k] = allDocURLs(docs)
			}
		}
	}

	serialized, _ := json.Marshal(final)
	cost := int64(0)
	if s.billing != nil {
		cost = s.billing.CalculateExtractCost(len(serialized))
		_ = s.billing.Charge(ctx, teamID, cost)
	}

	result := &Result{Data: final, CreditsCharged: cost}
	if req.ShowSources {
		result.Sources = sources
	}
	return result, nil
}

// resolveURLs expands `/*`-suffixed URLs via the map subsystem;
// everything else is used as-is.
func (s *Service) resolveURLs(ctx context.Context, urls []string, allowExternal bool) ([]string, error) {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		trimmed := strings.TrimSpace(u)
		if strings.HasSuffix(trimmed, "/*") {
			base := strings.TrimSuffix(trimmed, "/*")
			expanded, err := s.resolver.Resolve(ctx, base, allowExternal, 0)
			if err != nil {
				return nil, fmt.Errorf("resolve wildcard url %q: %w", trimmed, err)
			}
			out = append(out, expanded...)
			continue
		}
		out = append(out, trimmed)
	}
	return out, nil
}

// scrapeAll scrapes every URL through the engine fallback pipeline
// concurrently, bounded by the chunk size rather than a goroutine per
// URL.
func (s *Service) scrapeAll(ctx context.Context, urls []string, perURLTimeout time.Duration) []scrapedDoc {
	docs := make([]scrapedDoc, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.chunkSize)

	for i, u := range urls {
		idx, url := i, u
		g.Go(func() error {
			attemptCtx, cancel := context.WithTimeout(gctx, perURLTimeout)
			defer cancel()
			outcome, err := s.pipeline.Run(attemptCtx, scraper.Request{URL: url, Timeout: perURLTimeout, UserAgent: s.userAgent})
			if err != nil {
				docs[idx] = scrapedDoc{URL: url, Err: err}
				return nil
			}
			docs[idx] = scrapedDoc{URL: url, Markdown: outcome.Result.Markdown}
			return nil
		})
	}
	_ = g.Wait()
	return docs
}

type entity struct {
	fields map[string]interface{}
}

// extractMultiEntity processes documents in chunks, each chunk's
// documents extracted in parallel with a per-document timeout. One
// entity is produced per document; merge/dedup happens afterward in
// mergeEntities.
func (s *Service) extractMultiEntity(ctx context.Context, docs []scrapedDoc, fields []llm.FieldSpec, prompt string) ([]entity, [][]string, error) {
	entities := make([]entity, len(docs))
	entitySources := make([][]string, len(docs))

	for start := 0; start < len(docs); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for i := range chunk {
			idx := start + i
			doc := chunk[i]
			g.Go(func() error {
				if doc.Err != nil {
					return nil
				}
				docCtx, cancel := context.WithTimeout(gctx, s.docTimeout)
				defer cancel()
				fieldsMap, err := s.extractor.Extract(docCtx, doc.URL, doc.Markdown, fields, prompt, s.docTimeout)
				if err != nil {
					return nil
				}
				entities[idx] = entity{fields: fieldsMap}
				entitySources[idx] = []string{doc.URL}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	return entities, entitySources, nil
}

// extractSingleAnswer makes a single extract call over the
// concatenation of every scraped document.
func (s *Service) extractSingleAnswer(ctx context.Context, docs []scrapedDoc, fields []llm.FieldSpec, prompt string) (map[string]interface{}, error) {
	var combined strings.Builder
	firstURL := ""
	for i, d := range docs {
		if d.Err != nil {
			continue
		}
		if firstURL == "" {
			firstURL = d.URL
		}
		if i > 0 {
			combined.WriteString("\n\n---\n\n")
		}
		combined.WriteString(fmt.Sprintf("URL: %s\n\n", d.URL))
		combined.WriteString(d.Markdown)
	}
	return s.extractor.Extract(ctx, firstURL, combined.String(), fields, prompt, s.requestTimeout)
}

// FieldsFromSchema flattens a JSON-schema-shaped map's top-level
// properties into field specs, for callers running a one-shot
// extraction outside the full pipeline (e.g. the scrape handler's
// json format).
func FieldsFromSchema(schema map[string]interface{}) []llm.FieldSpec {
	_, single := partitionFields(schema, nil)
	return single
}

// partitionFields splits a JSON-schema-shaped map's top-level
// "properties" into multi-entity field specs (those named in
// multiKeys) and single-answer field specs (everything else).
func partitionFields(schema map[string]interface{}, multiKeys []string) (multi []llm.FieldSpec, single []llm.FieldSpec) {
	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		props = schema
	}
	multiSet := make(map[string]struct{}, len(multiKeys))
	for _, k := range multiKeys {
		multiSet[k] = struct{}{}
	}
	for name, raw := range props {
		spec := llm.FieldSpec{Name: name}
		if m, ok := raw.(map[string]interface{}); ok {
			if t, ok := m["type"].(string); ok {
				spec.Type = t
			}
			if d, ok := m["description"].(string); ok {
				spec.Description = d
			}
		}
		if _, ok := multiSet[name]; ok {
			multi = append(multi, spec)
		} else {
			single = append(single, spec)
		}
	}
	return multi, single
}

// mergeEntities dedups extracted entities: entities are mergeable if
// they agree on the first multi-entity field (the identity field);
// merged items adopt the union of non-null values, and sources are
// the union of source URLs.
func mergeEntities(entities []entity, entitySources [][]string, fields []llm.FieldSpec) ([]map[string]interface{}, []string) {
	if len(fields) == 0 {
		return nil, nil
	}
	identityKey := fields[0].Name

	type bucket struct {
		fields  map[string]interface{}
		sources map[string]struct{}
	}
	order := make([]string, 0, len(entities))
	buckets := make(map[string]*bucket)
	var noIdentity []*bucket

	for i, e := range entities {
		if e.fields == nil {
			continue
		}
		idVal, hasIdentity := e.fields[identityKey]
		key := fmt.Sprintf("%v", idVal)

		b, ok := buckets[key]
		if hasIdentity && idVal != nil && ok {
			for k, v := range e.fields {
				if v == nil {
					continue
				}
				if existing, has := b.fields[k]; !has || existing == nil {
					b.fields[k] = v
				}
			}
		} else {
			b = &bucket{fields: cloneFields(e.fields), sources: map[string]struct{}{}}
			if hasIdentity && idVal != nil {
				buckets[key] = b
				order = append(order, key)
			} else {
				noIdentity = append(noIdentity, b)
			}
		}
		for _, src := range entitySources[i] {
			b.sources[src] = struct{}{}
		}
	}

	merged := make([]map[string]interface{}, 0, len(order)+len(noIdentity))
	var allSources []string
	for _, key := range order {
		b := buckets[key]
		merged = append(merged, b.fields)
		allSources = append(allSources, sortedKeys(b.sources)...)
	}
	for _, b := range noIdentity {
		merged = append(merged, b.fields)
		allSources = append(allSources, sortedKeys(b.sources)...)
	}

	return merged, dedupStrings(allSources)
}

func cloneFields(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func allDocURLs(docs []scrapedDoc) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Err == nil {
			out = append(out, d.URL)
		}
	}
	return out
}
