package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/hyperjump/kotae/pkg/utils"
)

// TFIDFVectorizer is the deterministic local fallback backend: a term
// frequency / inverse document frequency model fitted over the known corpus,
// projected into a fixed number of hash buckets so every vector has the same
// dimensionality regardless of vocabulary size.
//
// Determinism: the same text embedded under the same fitted vocabulary always
// yields the identical vector.
type TFIDFVectorizer struct {
	dimensions int

	mu     sync.RWMutex
	idf    map[string]float64
	fitted bool
}

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// NewTFIDFVectorizer creates an unfitted vectorizer with the given number of
// hash buckets.
func NewTFIDFVectorizer(dimensions int) *TFIDFVectorizer {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &TFIDFVectorizer{
		dimensions: dimensions,
		idf:        make(map[string]float64),
	}
}

// Name returns the backend identifier.
func (v *TFIDFVectorizer) Name() string { return "tfidf" }

// Dimensions returns the fixed vector dimensionality (hash bucket count).
func (v *TFIDFVectorizer) Dimensions() int { return v.dimensions }

// Fitted reports whether Fit has been called with a non-empty corpus.
func (v *TFIDFVectorizer) Fitted() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fitted
}

// Fit builds smoothed IDF weights from the corpus, replacing any previous
// fit. Refitting changes the vocabulary, so every vector produced under the
// old fit must be rebuilt before mixing with new ones.
func (v *TFIDFVectorizer) Fit(corpus []string) {
	df := make(map[string]int)
	docs := 0
	for _, text := range corpus {
		tokens := tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		docs++
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	idf := make(map[string]float64, len(df))
	n := float64(docs)
	for term, count := range df {
		idf[term] = math.Log((1+n)/(1+float64(count))) + 1.0
	}

	v.mu.Lock()
	v.idf = idf
	v.fitted = docs > 0
	v.mu.Unlock()
}

// Embed computes the hashed TF-IDF vector for text. The result is
// L2-normalized so inner product equals cosine similarity.
func (v *TFIDFVectorizer) Embed(_ context.Context, text string) ([]float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.fitted {
		return nil, ErrNotFitted
	}

	vec := make([]float32, v.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}
	tf := make(map[string]int, len(tokens))
	total := 0
	for _, tok := range tokens {
		if _, ok := v.idf[tok]; !ok {
			continue
		}
		tf[tok]++
		total++
	}
	if total == 0 {
		return vec, nil
	}
	for term, count := range tf {
		weight := float64(count) / float64(total) * v.idf[term]
		vec[bucket(term, v.dimensions)] += float32(weight)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch calls Embed for each text, preserving order.
func (v *TFIDFVectorizer) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := v.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Close is a no-op for the vectorizer.
func (v *TFIDFVectorizer) Close() error { return nil }

// bucket maps a term to a stable hash bucket in [0, dimensions).
func bucket(term string, dimensions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % uint32(dimensions))
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}
