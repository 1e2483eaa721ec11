package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestProvider_PrimaryPath(t *testing.T) {
	primary := NewMockEmbedder(8)
	fallback := NewTFIDFVectorizer(16)
	p := NewProvider(primary, fallback, 2, 2)

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 5 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	// Order must match a direct single embed per input.
	for i, text := range []string{"a", "b", "c", "d", "e"} {
		want, _ := primary.Embed(context.Background(), text)
		for j := range want {
			if vecs[i][j] != want[j] {
				t.Fatalf("vector %d out of order", i)
			}
		}
	}
	if p.Degraded() {
		t.Error("provider should not be degraded")
	}
	if p.Dimensions() != 8 {
		t.Errorf("Dimensions=%d", p.Dimensions())
	}
}

func TestProvider_FailoverActivatesFallback(t *testing.T) {
	primary := NewMockEmbedder(8)
	primary.Err = fmt.Errorf("%w: connection refused", ErrBackendUnavailable)
	fallback := NewTFIDFVectorizer(16)

	p := NewProvider(primary, fallback, 4, 2)
	var hookCalls atomic.Int32
	p.SetDegradeHook(func(ctx context.Context) error {
		fallback.Fit([]string{"gradient descent", "some other chunk"})
		hookCalls.Add(1)
		return nil
	})

	vecs, err := p.EmbedBatch(context.Background(), []string{"gradient descent"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 16 {
		t.Fatalf("expected one 16-dim fallback vector, got %d", len(vecs))
	}
	if !p.Degraded() {
		t.Error("provider should be degraded after failover")
	}
	if p.Dimensions() != 16 {
		t.Errorf("Dimensions=%d, want fallback's 16", p.Dimensions())
	}
	if p.Name() != "tfidf" {
		t.Errorf("Name=%s", p.Name())
	}

	// Subsequent calls stay on the fallback without re-running the hook.
	if _, err := p.EmbedBatch(context.Background(), []string{"again"}); err != nil {
		t.Fatal(err)
	}
	if got := hookCalls.Load(); got != 1 {
		t.Errorf("degrade hook ran %d times, want 1", got)
	}
}

func TestProvider_NonFailoverErrorPropagates(t *testing.T) {
	primary := NewMockEmbedder(8)
	primary.Err = fmt.Errorf("input too long")
	fallback := NewTFIDFVectorizer(16)
	p := NewProvider(primary, fallback, 4, 2)

	_, err := p.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.Degraded() {
		t.Error("non-availability errors must not trigger failover")
	}
}

func TestProvider_CacheHitSkipsBackend(t *testing.T) {
	primary := NewMockEmbedder(8)
	fallback := NewTFIDFVectorizer(16)
	p := NewProvider(primary, fallback, 4, 2, WithCache(10))

	ctx := context.Background()
	first, err := p.Embed(ctx, "cached text")
	if err != nil {
		t.Fatal(err)
	}
	// Break the backend; the cached entry must still resolve.
	primary.Err = fmt.Errorf("%w: down", ErrBackendUnavailable)
	second, err := p.Embed(ctx, "cached text")
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cache returned a different vector")
		}
	}
}

func TestProvider_EmptyInput(t *testing.T) {
	p := NewProvider(NewMockEmbedder(8), NewTFIDFVectorizer(16), 4, 2)
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if vecs != nil {
		t.Errorf("expected nil, got %v", vecs)
	}
}
