package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	systemPrompt = "You are a helpful research assistant that answers questions based on provided document context."

	noInformationAnswer = "I couldn't find relevant information in the uploaded documents to answer your question."

	// sourceTextLimit bounds how much chunk text a citation carries.
	sourceTextLimit = 200

	// extractiveChunkLimit bounds how many chunks a degraded answer quotes.
	extractiveChunkLimit = 3
)

// Synthesizer turns a question plus retrieved context into an answer with
// citations. Model calls are bounded by a per-attempt timeout and retried
// with exponential backoff; on exhaustion the answer degrades to raw
// excerpts from the top chunks.
type Synthesizer struct {
	client     ChatClient
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets a logger for retry and degradation events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// WithRetryDelay overrides the initial backoff delay; tests use this to avoid
// real sleeps.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Synthesizer) { s.retryDelay = d }
}

// NewSynthesizer creates a synthesizer. timeout bounds each model attempt;
// maxRetries is the number of retries after the first attempt.
func NewSynthesizer(client ChatClient, timeout time.Duration, maxRetries int, opts ...Option) *Synthesizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	s := &Synthesizer{
		client:     client,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize answers question from the assembled context. Empty retrieval
// short-circuits to the fixed no-information answer without a model call.
// Model failure after all retries degrades to an extractive answer built from
// the top hits, flagged Degraded.
func (s *Synthesizer) Synthesize(ctx context.Context, question, contextText string, hits []vector.Result) (*models.Answer, error) {
	if len(hits) == 0 || contextText == "" {
		return &models.Answer{Text: noInformationAnswer, Sources: []models.Source{}}, nil
	}

	sources := buildSources(hits)
	text, err := s.complete(ctx, buildPrompt(question, contextText, hits))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("model call failed, returning extractive answer",
			zap.String("backend", s.client.Name()),
			zap.Error(err))
		return &models.Answer{
			Text:     extractiveAnswer(hits),
			Sources:  sources,
			Degraded: true,
		}, nil
	}
	return &models.Answer{Text: text, Sources: sources}, nil
}

// complete runs the model call with per-attempt timeout and exponential
// backoff between attempts. A per-attempt deadline that fires is reported as
// ErrSynthesisTimeout once retries are spent.
func (s *Synthesizer) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay << (attempt - 1)
			s.logger.Debug("retrying synthesis",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		text, err := s.client.Complete(attemptCtx, systemPrompt, prompt)
		cancel()

		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrSynthesisTimeout, err)
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// buildPrompt assembles the grounded prompt: context passages labeled by
// source document, then the question and answering instructions.
func buildPrompt(question, contextText string, hits []vector.Result) string {
	var b strings.Builder
	b.WriteString("Answer the user's question based on the provided context from research documents.\n\n")
	b.WriteString("Context from documents:\n")
	if titles := sourceTitles(hits); titles != "" {
		b.WriteString("[Sources: ")
		b.WriteString(titles)
		b.WriteString("]\n")
	}
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("- Provide a clear, accurate answer based only on the context\n")
	b.WriteString("- If the context doesn't contain enough information, say so; never invent unsupported claims\n")
	b.WriteString("- Cite which documents you're referencing when possible\n")
	b.WriteString("- Be concise but thorough\n\nAnswer:")
	return b.String()
}

func sourceTitles(hits []vector.Result) string {
	var titles []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if h.Meta.Title == "" || seen[h.Meta.Title] {
			continue
		}
		seen[h.Meta.Title] = true
		titles = append(titles, h.Meta.Title)
	}
	return strings.Join(titles, ", ")
}

// extractiveAnswer quotes the top chunks verbatim when the model is
// unreachable.
func extractiveAnswer(hits []vector.Result) string {
	n := len(hits)
	if n > extractiveChunkLimit {
		n = extractiveChunkLimit
	}
	texts := make([]string, 0, n)
	for _, h := range hits[:n] {
		texts = append(texts, h.Meta.ChunkText)
	}
	return "Based on the provided documents, here are relevant excerpts:\n\n" + strings.Join(texts, "\n\n")
}

// buildSources maps hits to citations in relevance order, truncating chunk
// text for transport.
func buildSources(hits []vector.Result) []models.Source {
	sources := make([]models.Source, len(hits))
	for i, h := range hits {
		sources[i] = models.Source{
			DocumentTitle: h.Meta.Title,
			ChunkText:     utils.Truncate(h.Meta.ChunkText, sourceTextLimit),
			Score:         h.Score,
		}
	}
	return sources
}
