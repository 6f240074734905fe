package search

import (
	"reflect"
	"testing"
)

func docs(texts ...string) []Doc {
	out := make([]Doc, len(texts))
	for i, t := range texts {
		out[i] = Doc{ID: string(rune('a' + i)), Text: t}
	}
	return out
}

// ---------- Options + defaultConfig ----------
func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.minRunes != 0 || def.stopwords != nil || def.maxDocs != 0 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithMinRunes(10)(&cfg)
	WithMinRunes(-5)(&cfg) // no-op
	if cfg.minRunes != 10 {
		t.Fatalf("WithMinRunes = %d; want 10", cfg.minRunes)
	}

	WithStopwords([]string{"  The ", "", "AN"})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("missing 'the': %#v", cfg.stopwords)
	}
	if _, ok := cfg.stopwords["an"]; !ok {
		t.Fatalf("missing 'an': %#v", cfg.stopwords)
	}

	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}

	WithMaxDocs(2)(&cfg)
	WithMaxDocs(0)(&cfg) // no-op
	if cfg.maxDocs != 2 {
		t.Fatalf("WithMaxDocs = %d; want 2", cfg.maxDocs)
	}
}

// ---------- NewIndex filters ----------
func TestNewIndex_FiltersAndMaxDocs(t *testing.T) {
	in := docs(
		"",           // skipped
		" \t \r  ",   // skipped
		"short",      // filtered by min runes
		"The and a",  // all stopwords
		"Keep this message",
		"Another message with words",
	)
	idx := NewIndex(in, WithMinRunes(6), WithStopwords([]string{"the", "and", "a"}))
	if idx.Len() != 2 {
		t.Fatalf("Len = %d; want 2", idx.Len())
	}

	capped := NewIndex(in, WithMaxDocs(1))
	if capped.Len() != 1 {
		t.Fatalf("maxDocs cap failed, got %d", capped.Len())
	}
}

// ---------- TopK ----------
func TestTopK_BranchesAndSorting(t *testing.T) {
	if res := NewIndex(nil).TopK("x", 3); res != nil {
		t.Fatalf("empty index should return nil")
	}
	idx := NewIndex(docs("alpha beta", "alpha beta gamma"))
	if out := idx.TopK("   ", 2); out != nil {
		t.Fatalf("blank query should return nil")
	}
	stop := NewIndex(docs("alpha beta gamma"), WithStopwords([]string{"alpha", "beta"}))
	if out := stop.TopK("alpha beta", 2); out != nil {
		t.Fatalf("query made only of stop words should yield nil")
	}

	idx2 := NewIndex([]Doc{
		{ID: "m1", Text: "alpha beta"},
		{ID: "m2", Text: "alpha beta gamma"},
		{ID: "m0", Text: "beta alpha"},
		{ID: "m3", Text: "delta epsilon"},
	})
	got := idx2.TopK("Alpha BETA", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 results (k default), got %d", len(got))
	}
	// equal score and length: lower id first
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if !reflect.DeepEqual(ids, []string{"m0", "m1", "m2"}) {
		t.Fatalf("unexpected order: %#v", got)
	}
	if got[0].Score != 1 || got[2].Score >= 1 {
		t.Fatalf("unexpected scores: %#v", got)
	}
	if got[2].Snippet != "alpha beta gamma" {
		t.Fatalf("snippet = %q", got[2].Snippet)
	}
}

func TestTopK_ShorterMessageWinsTie(t *testing.T) {
	idx := NewIndex([]Doc{
		{ID: "a", Text: "alpha beta!!"},
		{ID: "b", Text: "alpha beta"},
	})
	out := idx.TopK("alpha beta", 10)
	if len(out) != 2 || out[0].ID != "b" || out[1].ID != "a" {
		t.Fatalf("length tie-break failed: %#v", out)
	}
}

func TestTopK_NoOverlap(t *testing.T) {
	idx := NewIndex(docs("delta epsilon", "zeta eta theta"))
	if out := idx.TopK("alpha", 5); out != nil {
		t.Fatalf("expected nil, got %+v", out)
	}
}

// ---------- helpers ----------
func TestTokenize(t *testing.T) {
	got := Tokenize("Hello HELLO 123 wörld, Straße!")
	want := []string{"hello", "hello", "123", "wörld", "strasse"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokenize = %#v; want %#v", got, want)
	}
	if toks := tokenSet("$$$ !!!", nil); toks != nil {
		t.Fatalf("tokenSet should be nil when no words")
	}
	toks := tokenSet("Hello world", map[string]struct{}{"hello": {}})
	if _, ok := toks["hello"]; ok {
		t.Fatalf("stop word kept: %#v", toks)
	}
}

func TestOverlapAndWhitespace(t *testing.T) {
	if overlap(nil, map[string]struct{}{"a": {}}) != 0 {
		t.Fatalf("overlap with nil should be 0")
	}
	a := map[string]struct{}{"a": {}, "b": {}, "c": {}}
	b := map[string]struct{}{"a": {}}
	if overlap(a, b) != 1 || overlap(b, a) != 1 {
		t.Fatalf("overlap count wrong")
	}
	if got := normalizeWhitespace("alpha\t beta\r\n  gamma"); got != "alpha beta gamma" {
		t.Fatalf("normalizeWhitespace = %q", got)
	}
}

func TestSuggest(t *testing.T) {
	texts := []string{
		"deploy the release",
		"Deployment failed",
		"deploy again",
		"unrelated",
	}
	got := Suggest(texts, "DEP", 5)
	want := []string{"deploy", "deployment"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Suggest = %v; want %v", got, want)
	}
	if got := Suggest(texts, "deploy", 5); !reflect.DeepEqual(got, []string{"deployment"}) {
		t.Fatalf("exact prefix should be skipped: %v", got)
	}
	if Suggest(texts, " ", 5) != nil || Suggest(texts, "d", 0) != nil {
		t.Fatalf("blank prefix or zero limit should return nil")
	}
	if got := Suggest(texts, "d", 1); len(got) != 1 || got[0] != "deploy" {
		t.Fatalf("limit not applied: %v", got)
	}
}
