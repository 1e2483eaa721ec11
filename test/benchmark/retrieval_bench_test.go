package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/vector"
)

func BenchmarkMemoryIndexQuery(b *testing.B) {
	const dims = 384
	idx, _ := vector.NewMemoryIndex(dims)
	ctx := context.Background()
	for doc := 0; doc < 100; doc++ {
		records := make([]vector.Record, 10)
		for i := range records {
			vec := make([]float32, dims)
			vec[(doc*10+i)%dims] = 1.0
			records[i] = vector.Record{
				ID:     fmt.Sprintf("doc-%d_%d", doc, i),
				Vector: vec,
				Meta:   vector.Metadata{DocumentID: fmt.Sprintf("doc-%d", doc)},
			}
		}
		_ = idx.Insert(ctx, fmt.Sprintf("doc-%d", doc), records)
	}
	query := make([]float32, dims)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Query(ctx, query, 10, nil)
	}
}

func BenchmarkTFIDFEmbed(b *testing.B) {
	v := embedding.NewTFIDFVectorizer(512)
	corpus := make([]string, 200)
	for i := range corpus {
		corpus[i] = fmt.Sprintf("document %d covers deployment pipelines and incident response runbooks", i)
	}
	v.Fit(corpus)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = v.Embed(ctx, "how does incident response work during deployment")
	}
}

func BenchmarkMockEmbed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark question text for embedding")
	}
}

func BenchmarkChunker(b *testing.B) {
	c := chunker.NewChunker(1000, 200)
	text := ""
	for i := 0; i < 200; i++ {
		text += "Long-form document text with enough content to produce many overlapping chunks. "
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Chunk("bench-doc", text)
	}
}
