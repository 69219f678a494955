package extractpipeline

import (
	"context"
	"testing"
	"time"

	"raito/internal/billing"
	"raito/internal/engine"
	"raito/internal/llm"
	"raito/internal/scraper"
)

type fakeResolver struct {
	urls []string
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, _ bool, _ int) ([]string, error) {
	return f.urls, nil
}

type fakeExtractor struct {
	analysis    SchemaAnalysis
	perDocValue func(url string) string
}

func (f *fakeExtractor) GenerateSchemaFromPrompt(_ context.Context, _ string) (map[string]interface{}, error) {
	return map[string]interface{}{"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}}}, nil
}

func (f *fakeExtractor) AnalyzeSchema(_ context.Context, _ map[string]interface{}) (SchemaAnalysis, error) {
	return f.analysis, nil
}

func (f *fakeExtractor) Extract(_ context.Context, url string, _ string, fields []llm.FieldSpec, _ string, _ time.Duration) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, field := range fields {
		if field.Name == "name" && f.perDocValue != nil {
			out["name"] = f.perDocValue(url)
			continue
		}
		out[field.Name] = "value-" + field.Name
	}
	return out, nil
}

type fakeEngine struct{}

func (fakeEngine) Name() string                      { return "fake" }
func (fakeEngine) Capabilities() engine.Capabilities { return engine.Capabilities{} }
func (fakeEngine) Scrape(_ context.Context, req scraper.Request) (*scraper.Result, error) {
	return &scraper.Result{URL: req.URL, Markdown: "some reasonably long markdown content for " + req.URL, Status: 200}, nil
}

func testPipeline() *engine.Pipeline {
	return engine.NewPipeline([]engine.Engine{fakeEngine{}}, 5, time.Second)
}

func TestRun_SingleAnswer(t *testing.T) {
	resolver := &fakeResolver{}
	extractor := &fakeExtractor{analysis: SchemaAnalysis{IsMultiEntity: false}}
	svc := New(resolver, extractor, testPipeline(), billing.New(nil), 10, time.Second, 5*time.Second, "test-agent")

	req := Request{
		URLs:   []string{"https://a.example"},
		Schema: map[string]interface{}{"properties": map[string]interface{}{"title": map[string]interface{}{"type": "string"}}},
	}
	res, err := svc.Run(context.Background(), "team-1", req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.Data["title"] != "value-title" {
		t.Fatalf("expected single-answer field populated, got %+v", res.Data)
	}
	if _, ok := res.Data["items"]; ok {
		t.Fatalf("did not expect multi-entity items for single-answer schema")
	}
}

func TestRun_MultiEntityMergesByIdentity(t *testing.T) {
	resolver := &fakeResolver{}
	extractor := &fakeExtractor{
		analysis: SchemaAnalysis{IsMultiEntity: true, MultiEntityKeys: []string{"name"}},
		perDocValue: func(url string) string {
			if url == "https://a.example" || url == "https://b.example" {
				return "shared"
			}
			return "unique"
		},
	}
	svc := New(resolver, extractor, testPipeline(), billing.New(nil), 10, time.Second, 5*time.Second, "test-agent")

	req := Request{
		URLs:        []string{"https://a.example", "https://b.example", "https://c.example"},
		Schema:      map[string]interface{}{"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}}},
		ShowSources: true,
	}
	res, err := svc.Run(context.Background(), "team-1", req)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	items, ok := res.Data["items"].([]map[string]interface{})
	if !ok {
		t.Fatalf("expected items to be a []map[string]interface{}, got %T", res.Data["items"])
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 merged entities (shared + unique), got %d: %+v", len(items), items)
	}
	sources, ok := res.Sources["items"]
	if !ok || len(sources) != 3 {
		t.Fatalf("expected 3 union source URLs, got %v", sources)
	}
}

func TestRun_NoURLsResolved(t *testing.T) {
	resolver := &fakeResolver{}
	extractor := &fakeExtractor{}
	svc := New(resolver, extractor, testPipeline(), billing.New(nil), 10, time.Second, 5*time.Second, "test-agent")

	_, err := svc.Run(context.Background(), "team-1", Request{URLs: []string{}})
	if err == nil {
		t.Fatalf("expected error when no urls are provided")
	}
}

func TestPartitionFields(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"title": map[string]interface{}{"type": "string"},
			"name":  map[string]interface{}{"type": "string"},
		},
	}
	multi, single := partitionFields(schema, []string{"name"})
	if len(multi) != 1 || multi[0].Name != "name" {
		t.Fatalf("expected multi to contain only 'name', got %+v", multi)
	}
	if len(single) != 1 || single[0].Name != "title" {
		t.Fatalf("expected single to contain only 'title', got %+v", single)
	}
}
