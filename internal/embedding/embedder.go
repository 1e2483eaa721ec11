// Package embedding converts text into fixed-dimension vectors. It provides a
// remote OpenAI-compatible backend, a deterministic local TF-IDF fallback,
// and a failover provider that switches between them.
package embedding

import (
	"context"
	"errors"
)

// ErrBackendUnavailable signals that the primary embedding backend cannot be
// reached (missing credentials, network failure, or rate-limit rejection).
// The provider reacts by failing over to the local fallback; it is never a
// reason to silently mix vectors of different backends in one index.
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// ErrNotFitted signals that the TF-IDF fallback has not been fitted over a
// corpus yet and therefore cannot produce vectors.
var ErrNotFitted = errors.New("vectorizer not fitted")

// Embedder produces vector embeddings for text. Implementations return one
// vector per input, in input order, all of length Dimensions().
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
	Close() error
}
