// Package retrieval turns a question into ranked chunks and an assembled
// context string within a character budget.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/vector"
)

// Options configure a retrieval pass. Zero values fall back to the
// orchestrator's configured defaults.
type Options struct {
	TopK            int
	MaxContextChars int
	// MaxChunksPerDocument caps how many chunks one document may contribute,
	// preserving source diversity; 0 disables the cap.
	MaxChunksPerDocument int
	Filter               *vector.Filter
}

// Result is the outcome of one retrieval pass: the surviving hits in
// descending-score order and the context assembled from them.
type Result struct {
	Hits []vector.Result
	// Context is the concatenated chunk text handed to synthesis. Empty when
	// nothing relevant was found.
	Context string
}

// Orchestrator embeds a question, queries the index, deduplicates hits, and
// assembles the context string under the character budget.
type Orchestrator struct {
	provider *embedding.Provider
	index    vector.Index
	defaults Options
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator with the given default options.
func NewOrchestrator(provider *embedding.Provider, index vector.Index, defaults Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		provider: provider,
		index:    index,
		defaults: defaults,
		logger:   logger,
	}
}

// Retrieve runs one retrieval pass for question. An empty index or no hits is
// not an error: the result has no hits and an empty context.
func (o *Orchestrator) Retrieve(ctx context.Context, question string, opts Options) (*Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = o.defaults.TopK
	}
	maxContext := opts.MaxContextChars
	if maxContext <= 0 {
		maxContext = o.defaults.MaxContextChars
	}
	perDoc := opts.MaxChunksPerDocument
	if perDoc == 0 {
		perDoc = o.defaults.MaxChunksPerDocument
	}

	qvec, err := o.provider.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := o.index.Query(ctx, qvec, topK, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	hits = dedupe(hits, perDoc)
	result := &Result{
		Hits:    hits,
		Context: assembleContext(hits, maxContext),
	}

	o.logger.Debug("retrieval pass",
		zap.Int("top_k", topK),
		zap.Int("hits", len(hits)),
		zap.Int("context_chars", utf8.RuneCountInString(result.Context)))
	return result, nil
}

// dedupe drops duplicate chunk IDs and, when perDoc > 0, caps the number of
// chunks taken from any single document. Order is preserved.
func dedupe(hits []vector.Result, perDoc int) []vector.Result {
	seen := make(map[string]bool, len(hits))
	perDocCount := make(map[string]int)
	out := hits[:0]
	for _, h := range hits {
		if seen[h.ChunkID] {
			continue
		}
		seen[h.ChunkID] = true
		if perDoc > 0 {
			if perDocCount[h.Meta.DocumentID] >= perDoc {
				continue
			}
			perDocCount[h.Meta.DocumentID]++
		}
		out = append(out, h)
	}
	return out
}

// assembleContext concatenates chunk texts in descending-score order until
// maxChars is reached. The budget counts runes, the same unit chunk sizes are
// measured in, so multibyte text fills the context as far as ASCII does. A
// chunk that would overflow the budget is dropped entirely, never truncated,
// so every context passage remains citable.
func assembleContext(hits []vector.Result, maxChars int) string {
	var b strings.Builder
	used := 0
	for _, h := range hits {
		text := h.Meta.ChunkText
		cost := utf8.RuneCountInString(text)
		if used > 0 {
			cost += len(contextSeparator)
		}
		if used+cost > maxChars {
			continue
		}
		if used > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(text)
		used += cost
	}
	return b.String()
}

const contextSeparator = "\n\n"
