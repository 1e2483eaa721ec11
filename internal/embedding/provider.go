package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DegradeHook is invoked exactly once when the provider fails over to the
// fallback backend. The ingest pipeline uses it to fit the fallback over the
// known corpus and rebuild the vector index, so vectors from two backends are
// never mixed in one index.
type DegradeHook func(ctx context.Context) error

// Provider is the process-wide embedding entry point. It batches inputs,
// bounds concurrency across batches, caches vectors, and fails over from the
// primary backend to the deterministic local fallback. Backend selection is a
// deployment-level decision: once the fallback activates the provider stays
// degraded for its lifetime.
type Provider struct {
	primary       Embedder
	fallback      *TFIDFVectorizer
	cache         *Cache
	batchSize     int
	maxConcurrent int
	logger        *zap.Logger

	degraded atomic.Bool
	// failMu serializes the degrade transition (hook runs exactly once).
	failMu sync.Mutex
	hook   DegradeHook
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets a logger for failover and batching events.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithCache sets the embedding LRU cache size; 0 disables caching.
func WithCache(size int) ProviderOption {
	return func(p *Provider) {
		if size > 0 {
			p.cache = NewCache(size)
		}
	}
}

// NewProvider creates a provider over a primary backend and a TF-IDF
// fallback. batchSize bounds per-call payload; maxConcurrent bounds in-flight
// batches to respect external rate limits.
func NewProvider(primary Embedder, fallback *TFIDFVectorizer, batchSize, maxConcurrent int, opts ...ProviderOption) *Provider {
	if batchSize <= 0 {
		batchSize = 32
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	p := &Provider{
		primary:       primary,
		fallback:      fallback,
		batchSize:     batchSize,
		maxConcurrent: maxConcurrent,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetDegradeHook registers the hook run on failover. Must be called before
// the provider is used.
func (p *Provider) SetDegradeHook(hook DegradeHook) { p.hook = hook }

// Degraded reports whether the fallback backend is active.
func (p *Provider) Degraded() bool { return p.degraded.Load() }

// Fallback exposes the fallback vectorizer for fitting during rebuild.
func (p *Provider) Fallback() *TFIDFVectorizer { return p.fallback }

// Name returns the active backend identifier.
func (p *Provider) Name() string {
	return p.active().Name()
}

// Dimensions returns the active backend's vector dimensionality.
func (p *Provider) Dimensions() int {
	return p.active().Dimensions()
}

func (p *Provider) active() Embedder {
	if p.degraded.Load() {
		return p.fallback
	}
	return p.primary
}

// Embed returns the embedding for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input text, in input order. Inputs are
// split into batches of at most batchSize, with at most maxConcurrent batches
// in flight. If the primary backend is unreachable the provider fails over to
// the fallback and re-embeds the whole input there.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embedAll(ctx, p.active(), texts)
	if err == nil {
		return vecs, nil
	}
	if p.degraded.Load() || !errors.Is(err, ErrBackendUnavailable) {
		return nil, err
	}
	if failErr := p.failover(ctx, err); failErr != nil {
		return nil, failErr
	}
	return p.embedAll(ctx, p.fallback, texts)
}

// failover transitions the provider to the fallback backend, running the
// degrade hook once. Concurrent callers that lose the race observe the
// transition already done.
func (p *Provider) failover(ctx context.Context, cause error) error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	if p.degraded.Load() {
		return nil
	}
	if p.logger != nil {
		p.logger.Warn("primary embedding backend unavailable, failing over to local fallback",
			zap.String("primary", p.primary.Name()),
			zap.Error(cause))
	}
	if p.cache != nil {
		p.cache.Purge()
	}
	if p.hook != nil {
		if err := p.hook(ctx); err != nil {
			return fmt.Errorf("embedding failover: %w", err)
		}
	}
	p.degraded.Store(true)
	return nil
}

// embedAll embeds texts with the given backend, batching and bounding
// concurrency. Results are written by batch offset so order is preserved.
func (p *Provider) embedAll(ctx context.Context, backend Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Resolve cache hits first; only misses go to the backend.
	miss := make([]int, 0, len(texts))
	for i, text := range texts {
		if p.cache != nil {
			if vec, ok := p.cache.Get(cacheKey(backend.Name(), text)); ok {
				out[i] = vec
				continue
			}
		}
		miss = append(miss, i)
	}
	if len(miss) == 0 {
		return out, nil
	}

	type batch struct {
		indices []int
	}
	var batches []batch
	for start := 0; start < len(miss); start += p.batchSize {
		end := start + p.batchSize
		if end > len(miss) {
			end = len(miss)
		}
		batches = append(batches, batch{indices: miss[start:end]})
	}

	sem := make(chan struct{}, p.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed || ctx.Err() != nil {
				return
			}

			inputs := make([]string, len(b.indices))
			for i, idx := range b.indices {
				inputs[i] = texts[idx]
			}
			vecs, err := backend.EmbedBatch(ctx, inputs)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			for i, idx := range b.indices {
				out[idx] = vecs[i]
				if p.cache != nil {
					p.cache.Set(cacheKey(backend.Name(), texts[idx]), vecs[i])
				}
			}
		}(b)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes both backends.
func (p *Provider) Close() error {
	err := p.primary.Close()
	if ferr := p.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

func cacheKey(backend, text string) string {
	return backend + "\x00" + text
}
