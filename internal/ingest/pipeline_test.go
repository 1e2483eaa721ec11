package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

const (
	primaryDims  = 8
	fallbackDims = 16
)

type testEnv struct {
	pipeline *Pipeline
	storage  *storage.SQLiteStorage
	provider *embedding.Provider
	index    *vector.MemoryIndex
	mock     *embedding.MockEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mock := embedding.NewMockEmbedder(primaryDims)
	provider := embedding.NewProvider(mock, embedding.NewTFIDFVectorizer(fallbackDims), 32, 4)
	idx, err := vector.NewMemoryIndex(primaryDims)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	p := NewPipeline(store, extract.NewExtractor(), chunker.NewChunker(50, 10), provider, idx)
	return &testEnv{pipeline: p, storage: store, provider: provider, index: idx, mock: mock}
}

func TestIngestHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 5)
	doc, err := env.pipeline.Ingest(ctx, "fox.txt", []byte(text))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.Status != models.StatusIndexed {
		t.Errorf("status = %s, want indexed", doc.Status)
	}
	if doc.TotalChunks == 0 {
		t.Error("total chunks not recorded")
	}

	stored, err := env.storage.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if stored.Status != models.StatusIndexed || stored.TotalChunks != doc.TotalChunks {
		t.Errorf("stored: %+v", stored)
	}

	chunks, _ := env.storage.GetChunksByDocumentID(ctx, doc.ID)
	if len(chunks) != doc.TotalChunks {
		t.Errorf("stored chunks = %d, want %d", len(chunks), doc.TotalChunks)
	}
	if env.index.Size() != doc.TotalChunks {
		t.Errorf("index size = %d, want %d", env.index.Size(), doc.TotalChunks)
	}
}

func TestIngestExtractionFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A PDF that isn't one fails extraction outright.
	doc, err := env.pipeline.Ingest(ctx, "junk.pdf", []byte("not a pdf at all"))
	if err == nil {
		t.Fatal("expected extraction error")
	}
	if !errors.Is(err, extract.ErrExtractionFailed) {
		t.Errorf("error = %v, want ErrExtractionFailed", err)
	}
	if doc.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", doc.Status)
	}
	if doc.FailReason == "" {
		t.Error("fail reason not recorded")
	}

	stored, _ := env.storage.GetDocument(ctx, doc.ID)
	if stored.Status != models.StatusFailed || stored.FailReason == "" {
		t.Errorf("stored: %+v", stored)
	}
	if env.index.Size() != 0 {
		t.Errorf("failed document left %d vectors in index", env.index.Size())
	}
}

func TestIngestWithIDReplaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.pipeline.IngestWithID(ctx, "doc1", "a.txt", []byte(strings.Repeat("first version text. ", 10))); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	firstSize := env.index.Size()

	doc, err := env.pipeline.IngestWithID(ctx, "doc1", "a.txt", []byte("short second version"))
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if doc.TotalChunks != 1 {
		t.Errorf("total chunks = %d, want 1", doc.TotalChunks)
	}
	if env.index.Size() >= firstSize {
		t.Errorf("re-ingest did not replace vectors: size %d -> %d", firstSize, env.index.Size())
	}

	n, _ := env.storage.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("document count = %d, want 1", n)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, err := env.pipeline.Ingest(ctx, "a.txt", []byte(strings.Repeat("some text here. ", 10)))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := env.pipeline.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if env.index.Size() != 0 {
		t.Errorf("vectors survived delete: %d", env.index.Size())
	}
	if _, err := env.storage.GetDocument(ctx, doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("document survived delete: %v", err)
	}

	if err := env.pipeline.Delete(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleting missing document: %v", err)
	}
}

func TestFailoverRebuildsIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.pipeline.Ingest(ctx, "first.txt", []byte(strings.Repeat("alpha beta gamma delta. ", 10)))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Primary backend goes away mid-deployment: the next ingest triggers
	// failover, which refits the fallback over stored chunks, resets the
	// index to the fallback dimensionality, and reinserts everything.
	env.mock.Err = embedding.ErrBackendUnavailable

	second, err := env.pipeline.Ingest(ctx, "second.txt", []byte(strings.Repeat("epsilon zeta eta theta. ", 10)))
	if err != nil {
		t.Fatalf("ingest during failover: %v", err)
	}
	if second.Status != models.StatusIndexed {
		t.Errorf("second status = %s, want indexed", second.Status)
	}

	if !env.provider.Degraded() {
		t.Error("provider should be degraded")
	}
	if env.index.Dimensions() != fallbackDims {
		t.Errorf("index dimensions = %d, want %d", env.index.Dimensions(), fallbackDims)
	}
	want := first.TotalChunks + second.TotalChunks
	if env.index.Size() != want {
		t.Errorf("index size after rebuild = %d, want %d", env.index.Size(), want)
	}

	// Both documents remain queryable at the new dimensionality.
	fallback := env.provider.Fallback()
	qvec, err := fallback.Embed(ctx, "alpha beta")
	if err != nil {
		t.Fatalf("fallback embed: %v", err)
	}
	results, err := env.index.Query(ctx, qvec, 5, nil)
	if err != nil {
		t.Fatalf("query after rebuild: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results after rebuild")
	}
}

// gatedStorage parks one GetDocument call for a chosen document, modelling an
// ingest that has taken its per-document lock but not yet advanced.
type gatedStorage struct {
	storage.Storage
	docID  string
	armed  atomic.Bool
	paused chan struct{}
	resume chan struct{}
	once   sync.Once
}

func (g *gatedStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if g.armed.Load() && id == g.docID {
		g.once.Do(func() {
			close(g.paused)
			<-g.resume
		})
	}
	return g.Storage.GetDocument(ctx, id)
}

// A re-ingest that holds its per-document lock when the primary backend goes
// down must not block the failover rebuild. The rebuild skips the busy
// document, every other ingest completes, and the re-ingest itself finishes
// on the fallback once the failover is over.
func TestReingestDuringFailover(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	gated := &gatedStorage{
		Storage: store,
		docID:   "doc-busy",
		paused:  make(chan struct{}),
		resume:  make(chan struct{}),
	}
	mock := embedding.NewMockEmbedder(primaryDims)
	provider := embedding.NewProvider(mock, embedding.NewTFIDFVectorizer(fallbackDims), 32, 4)
	idx, err := vector.NewMemoryIndex(primaryDims)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	p := NewPipeline(gated, extract.NewExtractor(), chunker.NewChunker(50, 10), provider, idx)

	ctx := context.Background()
	if _, err := p.IngestWithID(ctx, "doc-busy", "busy.txt", []byte(strings.Repeat("alpha beta gamma. ", 10))); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	if _, err := p.IngestWithID(ctx, "doc-static", "static.txt", []byte(strings.Repeat("delta epsilon zeta. ", 10))); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	gated.armed.Store(true)
	mock.Err = embedding.ErrBackendUnavailable

	reingestDone := make(chan error, 1)
	go func() {
		_, err := p.IngestWithID(ctx, "doc-busy", "busy.txt", []byte(strings.Repeat("alpha beta revised. ", 10)))
		reingestDone <- err
	}()
	// The re-ingest now holds doc-busy's lock, parked before its first write.
	<-gated.paused

	triggerDone := make(chan error, 1)
	go func() {
		_, err := p.Ingest(ctx, "trigger.txt", []byte(strings.Repeat("eta theta iota. ", 10)))
		triggerDone <- err
	}()

	select {
	case err := <-triggerDone:
		if err != nil {
			t.Fatalf("ingest during failover: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failover rebuild blocked behind an in-flight re-ingest")
	}

	close(gated.resume)
	select {
	case err := <-reingestDone:
		if err != nil {
			t.Fatalf("re-ingest after failover: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("re-ingest did not finish after failover completed")
	}

	if !provider.Degraded() {
		t.Error("provider should be degraded")
	}
	if idx.Dimensions() != fallbackDims {
		t.Errorf("index dimensions = %d, want %d", idx.Dimensions(), fallbackDims)
	}
	for _, id := range []string{"doc-busy", "doc-static"} {
		doc, err := store.GetDocument(ctx, id)
		if err != nil {
			t.Fatalf("GetDocument(%s): %v", id, err)
		}
		if doc.Status != models.StatusIndexed {
			t.Errorf("%s status = %s, want indexed", id, doc.Status)
		}
	}

	// The revised content reached the index at the new dimensionality.
	qvec, err := provider.Fallback().Embed(ctx, "alpha beta")
	if err != nil {
		t.Fatalf("fallback embed: %v", err)
	}
	results, err := idx.Query(ctx, qvec, 5, &vector.Filter{DocumentIDs: []string{"doc-busy"}})
	if err != nil {
		t.Fatalf("query after failover: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("re-ingested document not queryable after failover")
	}
	if !strings.Contains(results[0].Meta.ChunkText, "revised") {
		t.Errorf("stale chunk text after re-ingest: %q", results[0].Meta.ChunkText)
	}
}

// In a local-only deployment the vectorizer starts unfitted; the first ingest
// fits it over the stored corpus and succeeds without a failover.
func TestLocalOnlyBackendBootstraps(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	vectorizer := embedding.NewTFIDFVectorizer(fallbackDims)
	provider := embedding.NewProvider(vectorizer, vectorizer, 32, 4)
	idx, err := vector.NewMemoryIndex(fallbackDims)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	p := NewPipeline(store, extract.NewExtractor(), chunker.NewChunker(50, 10), provider, idx)

	ctx := context.Background()
	first, err := p.Ingest(ctx, "first.txt", []byte(strings.Repeat("alpha beta gamma delta. ", 10)))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.Status != models.StatusIndexed {
		t.Errorf("status = %s, want indexed", first.Status)
	}
	if provider.Degraded() {
		t.Error("bootstrap fit must not mark the provider degraded")
	}
	if idx.Size() != first.TotalChunks {
		t.Errorf("index size = %d, want %d", idx.Size(), first.TotalChunks)
	}

	// Later ingests embed under the existing fit.
	second, err := p.Ingest(ctx, "second.txt", []byte(strings.Repeat("epsilon zeta eta. ", 10)))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if idx.Size() != first.TotalChunks+second.TotalChunks {
		t.Errorf("index size = %d, want %d", idx.Size(), first.TotalChunks+second.TotalChunks)
	}

	qvec, err := vectorizer.Embed(ctx, "alpha beta")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	results, err := idx.Query(ctx, qvec, 3, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results after bootstrap")
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.pipeline.Ingest(context.Background(), "empty.txt", []byte("   \n\t  "))
	if err == nil {
		t.Fatal("expected error for whitespace-only document")
	}
	if doc.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", doc.Status)
	}
}
