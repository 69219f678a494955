package scrapeutil

import "testing"

func TestFilterLinks(t *testing.T) {
	links := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://other.com/x",
		"",
	}

	// sameDomainOnly=true should keep only example.com links.
	filtered := FilterLinks(links, "https://example.com/base", true, 0)
	if len(filtered) != 2 {
		t.Fatalf("expected 2 filtered links, got %d (%v)", len(filtered), filtered)
	}
	for _, l := range filtered {
		if l[:19] != "https://example.com" {
			t.Fatalf("expected same-domain link, got %q", l)
		}
	}

	// maxPerDocument should cap the number of returned links.
	filtered = FilterLinks(links, "https://example.com/base", false, 1)
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered link with maxPerDocument=1, got %d", len(filtered))
	}
}

func TestWantsFormat(t *testing.T) {
	formats := []interface{}{
		"markdown",
		map[string]interface{}{"type": "json", "prompt": "extract the title"},
	}
	if !WantsFormat(formats, "markdown") {
		t.Fatal("expected plain string format to be recognized")
	}
	if !WantsFormat(formats, "json") {
		t.Fatal("expected object format to be recognized by its type")
	}
	if WantsFormat(formats, "screenshot") {
		t.Fatal("did not expect an unrequested format to be reported")
	}
}

func TestGetJSONFormatConfig(t *testing.T) {
	_, prompt, schema := GetJSONFormatConfig([]interface{}{
		map[string]interface{}{
			"type":   "json",
			"prompt": "extract product info",
			"schema": map[string]interface{}{"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}}},
		},
	})
	if prompt != "extract product info" || schema == nil {
		t.Fatalf("unexpected json format config: prompt=%q schema=%v", prompt, schema)
	}

	ok, _, _ := GetJSONFormatConfig([]interface{}{"markdown"})
	if ok {
		t.Fatal("did not expect a json config without a json format entry")
	}
}
