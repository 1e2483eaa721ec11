package retrieval

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/vector"
)

const testDims = 8

func newTestOrchestrator(t *testing.T, defaults Options) (*Orchestrator, *embedding.Provider, vector.Index) {
	t.Helper()
	provider := embedding.NewProvider(
		embedding.NewMockEmbedder(testDims),
		embedding.NewTFIDFVectorizer(testDims),
		32, 4,
	)
	idx, err := vector.NewMemoryIndex(testDims)
	if err != nil {
		t.Fatalf("NewMemoryIndex: %v", err)
	}
	return NewOrchestrator(provider, idx, defaults, nil), provider, idx
}

func insertChunk(t *testing.T, provider *embedding.Provider, idx vector.Index, docID, chunkID, text string) {
	t.Helper()
	vec, err := provider.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	err = idx.Insert(context.Background(), docID, []vector.Record{{
		ID:     chunkID,
		Vector: vec,
		Meta:   vector.Metadata{DocumentID: docID, ChunkText: text, Title: docID + ".txt"},
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestRetrieveReturnsRankedHits(t *testing.T) {
	o, provider, idx := newTestOrchestrator(t, Options{TopK: 5, MaxContextChars: 6000})
	insertChunk(t, provider, idx, "a", "a_0", "the refund policy allows returns within thirty days")
	insertChunk(t, provider, idx, "b", "b_0", "shipping takes five business days")

	// Exact text match embeds to the identical vector with the mock backend,
	// so the matching chunk must rank first.
	res, err := o.Retrieve(context.Background(), "the refund policy allows returns within thirty days", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(res.Hits))
	}
	if res.Hits[0].ChunkID != "a_0" {
		t.Errorf("top hit = %s, want a_0", res.Hits[0].ChunkID)
	}
	if !strings.Contains(res.Context, "refund policy") {
		t.Errorf("context missing top chunk: %q", res.Context)
	}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Options{TopK: 5, MaxContextChars: 6000})
	res, err := o.Retrieve(context.Background(), "anything", Options{})
	if err != nil {
		t.Fatalf("empty index should not error: %v", err)
	}
	if len(res.Hits) != 0 || res.Context != "" {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestRetrievePerDocumentCap(t *testing.T) {
	o, provider, idx := newTestOrchestrator(t, Options{TopK: 10, MaxContextChars: 6000, MaxChunksPerDocument: 1})
	insertChunk(t, provider, idx, "a", "a_0", "alpha one")
	insertChunk(t, provider, idx, "b", "b_0", "beta one")
	// Second chunk for document a; inserted separately so a_0 survives.
	vec, _ := provider.Embed(context.Background(), "alpha two")
	recs := []vector.Record{
		{ID: "a_0", Vector: mustEmbed(t, provider, "alpha one"), Meta: vector.Metadata{DocumentID: "a", ChunkText: "alpha one"}},
		{ID: "a_1", Vector: vec, Meta: vector.Metadata{DocumentID: "a", ChunkText: "alpha two"}},
	}
	if err := idx.Insert(context.Background(), "a", recs); err != nil {
		t.Fatal(err)
	}

	res, err := o.Retrieve(context.Background(), "alpha one", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	perDoc := make(map[string]int)
	for _, h := range res.Hits {
		perDoc[h.Meta.DocumentID]++
	}
	if perDoc["a"] != 1 {
		t.Errorf("document a contributed %d chunks, cap is 1", perDoc["a"])
	}
}

func mustEmbed(t *testing.T, provider *embedding.Provider, text string) []float32 {
	t.Helper()
	vec, err := provider.Embed(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	return vec
}

func TestAssembleContextDropsOverflowingChunk(t *testing.T) {
	hits := []vector.Result{
		{ChunkID: "a", Score: 0.9, Meta: vector.Metadata{ChunkText: strings.Repeat("x", 50)}},
		{ChunkID: "b", Score: 0.8, Meta: vector.Metadata{ChunkText: strings.Repeat("y", 100)}},
		{ChunkID: "c", Score: 0.7, Meta: vector.Metadata{ChunkText: strings.Repeat("z", 20)}},
	}
	// Budget fits a (50) and c (20 + separator) but not b: b is dropped
	// whole, never truncated, and assembly continues past it.
	got := assembleContext(hits, 80)
	if strings.Contains(got, "y") {
		t.Errorf("overflowing chunk was included: %q", got)
	}
	if !strings.Contains(got, strings.Repeat("x", 50)) || !strings.Contains(got, strings.Repeat("z", 20)) {
		t.Errorf("fitting chunks missing: %q", got)
	}
	if len(got) > 80 {
		t.Errorf("context length %d exceeds budget 80", len(got))
	}
}

// The budget counts runes, the unit chunk sizes are measured in, so
// multibyte text fills the context as far as ASCII does.
func TestAssembleContextCountsRunes(t *testing.T) {
	hits := []vector.Result{
		{ChunkID: "a", Score: 0.9, Meta: vector.Metadata{ChunkText: strings.Repeat("é", 30)}},
		{ChunkID: "b", Score: 0.8, Meta: vector.Metadata{ChunkText: strings.Repeat("ü", 30)}},
	}
	// 30 + 2 for the separator + 30 = 62 runes; counted in bytes this would
	// be 122 and the second chunk would be dropped.
	got := assembleContext(hits, 62)
	if n := utf8.RuneCountInString(got); n != 62 {
		t.Errorf("context runes = %d, want 62", n)
	}
	if !strings.Contains(got, "ü") {
		t.Errorf("second multibyte chunk missing: %q", got)
	}
}

func TestAssembleContextEmpty(t *testing.T) {
	if got := assembleContext(nil, 100); got != "" {
		t.Errorf("empty hits should give empty context, got %q", got)
	}
}

func TestDedupeByChunkID(t *testing.T) {
	hits := []vector.Result{
		{ChunkID: "a_0", Meta: vector.Metadata{DocumentID: "a"}},
		{ChunkID: "a_0", Meta: vector.Metadata{DocumentID: "a"}},
		{ChunkID: "a_1", Meta: vector.Metadata{DocumentID: "a"}},
	}
	out := dedupe(hits, 0)
	if len(out) != 2 {
		t.Fatalf("deduped = %d, want 2", len(out))
	}
	if out[0].ChunkID != "a_0" || out[1].ChunkID != "a_1" {
		t.Errorf("order not preserved: %+v", out)
	}
}
