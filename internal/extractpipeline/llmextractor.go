package extractpipeline

import (
	"context"
	"fmt"
	"time"

	"raito/internal/extract"
	"raito/internal/llm"
)

// clientExtractor implements LLMExtractor by reusing
// llm.Client.ExtractFields for all three LLM call shapes the pipeline
// needs (schema generation, schema analysis, and plain extraction) —
// each is just a different field spec and prompt over the same
// "return a JSON object with these keys" primitive, so no new
// provider-specific HTTP code is needed alongside openAIClient/
// anthropicClient/googleClient.
type clientExtractor struct {
	factory func() (llm.Client, llm.Provider, string, error)
	single  *extract.Service
}

// NewLLMExtractor builds the default LLMExtractor from the same
// client factory internal/extract.Service takes; plain per-document
// extraction delegates to that service.
func NewLLMExtractor(factory func() (llm.Client, llm.Provider, string, error)) LLMExtractor {
	return &clientExtractor{factory: factory, single: extract.NewService(factory)}
}

func (c *clientExtractor) client() (llm.Client, error) {
	client, _, _, err := c.factory()
	return client, err
}

// GenerateSchemaFromPrompt asks the LLM to propose a JSON-schema
// "properties" object from a natural-language description of what to
// extract.
func (c *clientExtractor) GenerateSchemaFromPrompt(ctx context.Context, prompt string) (map[string]interface{}, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	metaPrompt := "You design JSON extraction schemas. Given a natural-language description of " +
		"what to extract, respond with a single field named \"properties\" whose value is a JSON " +
		"object mapping each field name to {\"type\": ..., \"description\": ...}. Description: " + prompt

	res, err := client.ExtractFields(ctx, llm.ExtractRequest{
		Fields: []llm.FieldSpec{{
			Name:        "properties",
			Type:        "object",
			Description: "JSON schema properties object describing the fields to extract",
		}},
		Prompt:  metaPrompt,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	props, ok := res.Fields["properties"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("schema generation: model did not return a properties object")
	}
	return map[string]interface{}{"properties": props}, nil
}

// AnalyzeSchema classifies a schema as single-answer vs multi-entity.
func (c *clientExtractor) AnalyzeSchema(ctx context.Context, schema map[string]interface{}) (SchemaAnalysis, error) {
	client, err := c.client()
	if err != nil {
		return SchemaAnalysis{}, err
	}

	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		props = schema
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}

	if len(names) == 0 {
		return SchemaAnalysis{}, nil
	}

	metaPrompt := fmt.Sprintf(
		"Given the following extraction field names: %v, decide whether the data being "+
			"extracted is naturally a single answer (one object) or a list of repeated entities "+
			"(e.g. a list of products, articles, people). Respond with isMultiEntity (boolean), "+
			"multiEntityKeys (array of the field names that belong to each repeated entity, empty "+
			"if isMultiEntity is false), and reasoning (a short string).", names)

	res, err := client.ExtractFields(ctx, llm.ExtractRequest{
		Fields: []llm.FieldSpec{
			{Name: "isMultiEntity", Type: "boolean", Description: "whether the result is a list of repeated entities"},
			{Name: "multiEntityKeys", Type: "array", Description: "field names that belong to each repeated entity"},
			{Name: "reasoning", Type: "string", Description: "brief justification"},
		},
		Prompt:  metaPrompt,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return SchemaAnalysis{}, err
	}

	analysis := SchemaAnalysis{}
	if v, ok := res.Fields["isMultiEntity"].(bool); ok {
		analysis.IsMultiEntity = v
	}
	if v, ok := res.Fields["reasoning"].(string); ok {
		analysis.Reasoning = v
	}
	if raw, ok := res.Fields["multiEntityKeys"].([]interface{}); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				analysis.MultiEntityKeys = append(analysis.MultiEntityKeys, s)
			}
		}
	}

	return analysis, nil
}

// Extract is plain per-document field extraction, delegated to the
// single-document extract service.
func (c *clientExtractor) Extract(ctx context.Context, url string, markdown string, fields []llm.FieldSpec, prompt string, timeout time.Duration) (map[string]interface{}, error) {
	return c.single.Extract(ctx, url, markdown, fields, prompt, timeout)
}
