// Package ingest drives documents through the ingestion state machine:
// extract, chunk, embed, index. It also rebuilds the vector index when the
// embedding provider fails over to its fallback backend.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/chunker"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Pipeline ingests documents end to end. Per-document work is serialized with
// keyed locks. The index rebuild after embedding failover runs inside the
// provider's failover transition, which already runs at most once; the rebuild
// never blocks on a per-document lock (see reinsert), and in-flight ingests
// that embedded on the old backend fail their insert with
// ErrDimensionMismatch rather than mixing backends in the index.
type Pipeline struct {
	storage   storage.Storage
	extractor *extract.Extractor
	chunker   *chunker.Chunker
	provider  *embedding.Provider
	index     vector.Index
	logger    *zap.Logger

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex

	// fitMu serializes the first fit of a local-only vectorizer so racing
	// ingests do not rebuild the index twice.
	fitMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for ingestion progress and failures.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an ingestion pipeline and registers itself as the
// provider's degrade hook, so embedding failover triggers an index rebuild.
func NewPipeline(
	store storage.Storage,
	extractor *extract.Extractor,
	ch *chunker.Chunker,
	provider *embedding.Provider,
	index vector.Index,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		storage:   store,
		extractor: extractor,
		chunker:   ch,
		provider:  provider,
		index:     index,
		logger:    zap.NewNop(),
		docLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	provider.SetDegradeHook(p.rebuild)
	return p
}

func (p *Pipeline) docLock(docID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.docLocks[docID]
	if !ok {
		l = &sync.Mutex{}
		p.docLocks[docID] = l
	}
	return l
}

// Ingest processes one uploaded document and returns its metadata record.
// The document is visible immediately with a non-terminal status; it becomes
// queryable only on reaching StatusIndexed. Failures land in StatusFailed
// with the cause recorded, and the error is returned to the caller.
func (p *Pipeline) Ingest(ctx context.Context, title string, content []byte) (*models.Document, error) {
	return p.ingest(ctx, uuid.New().String(), title, content)
}

// IngestWithID ingests under a caller-chosen document ID. Re-ingesting an
// existing ID replaces the document's chunks and vectors; watched files use
// path-derived IDs so edits update in place.
func (p *Pipeline) IngestWithID(ctx context.Context, docID, title string, content []byte) (*models.Document, error) {
	return p.ingest(ctx, docID, title, content)
}

func (p *Pipeline) ingest(ctx context.Context, docID, title string, content []byte) (*models.Document, error) {
	l := p.docLock(docID)
	l.Lock()
	defer l.Unlock()

	doc, err := p.storage.GetDocument(ctx, docID)
	if err != nil {
		doc = &models.Document{ID: docID, Title: title, Status: models.StatusUploaded}
		if err := p.storage.CreateDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("store document: %w", err)
		}
	} else {
		doc.Title = title
		if err := p.storage.UpdateDocumentStatus(ctx, docID, models.StatusUploaded, ""); err != nil {
			return nil, fmt.Errorf("reset document status: %w", err)
		}
	}

	if err := p.process(ctx, doc, content); err != nil {
		if serr := p.storage.UpdateDocumentStatus(ctx, docID, models.StatusFailed, err.Error()); serr != nil {
			p.logger.Error("failed to record ingestion failure",
				zap.String("doc_id", docID), zap.Error(serr))
		}
		doc.Status = models.StatusFailed
		doc.FailReason = err.Error()
		return doc, err
	}
	return doc, nil
}

// process runs the extract/chunk/embed/index stages, advancing the stored
// status at each boundary.
func (p *Pipeline) process(ctx context.Context, doc *models.Document, content []byte) error {
	docID := doc.ID

	if err := p.storage.UpdateDocumentStatus(ctx, docID, models.StatusExtracting, ""); err != nil {
		return err
	}
	text, err := p.extractor.ExtractBytes(content, strings.ToLower(filepath.Ext(doc.Title)))
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	if err := p.storage.UpdateDocumentStatus(ctx, docID, models.StatusChunking, ""); err != nil {
		return err
	}
	chunks := p.chunker.Chunk(docID, text)
	if len(chunks) == 0 {
		return fmt.Errorf("document produced no chunks")
	}
	if err := p.storage.ReplaceChunks(ctx, docID, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	if err := p.storage.SetDocumentChunkCount(ctx, docID, len(chunks)); err != nil {
		return err
	}
	doc.TotalChunks = len(chunks)

	if err := p.storage.UpdateDocumentStatus(ctx, docID, models.StatusEmbedding, ""); err != nil {
		return err
	}
	records, err := p.embedRecords(ctx, doc, chunks, p.provider.EmbedBatch)
	if errors.Is(err, embedding.ErrNotFitted) {
		// A local-only deployment starts with an unfitted vectorizer. The
		// first ingest fits it over the stored corpus, which already includes
		// this document's chunks, then retries.
		if err = p.fitFallback(ctx); err == nil {
			records, err = p.embedRecords(ctx, doc, chunks, p.provider.EmbedBatch)
		}
	}
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	if err := p.index.Insert(ctx, docID, records); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}
	if err := p.storage.UpdateDocumentStatus(ctx, docID, models.StatusIndexed, ""); err != nil {
		return err
	}
	doc.Status = models.StatusIndexed

	p.logger.Info("document indexed",
		zap.String("doc_id", docID),
		zap.String("title", doc.Title),
		zap.Int("chunks", len(chunks)),
		zap.String("backend", p.provider.Name()))
	return nil
}

// embedRecords embeds chunk texts with the given embed function and pairs
// each vector with its index record.
func (p *Pipeline) embedRecords(
	ctx context.Context,
	doc *models.Document,
	chunks []*models.DocumentChunk,
	embed func(context.Context, []string) ([][]float32, error),
) ([]vector.Record, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	records := make([]vector.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = vector.Record{
			ID:     ch.ID,
			Vector: vecs[i],
			Meta: vector.Metadata{
				DocumentID: doc.ID,
				ChunkText:  ch.Text,
				Title:      doc.Title,
				UploadDate: doc.UploadDate,
			},
		}
	}
	return records, nil
}

// Delete removes a document from the index and storage.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	l := p.docLock(docID)
	l.Lock()
	defer l.Unlock()

	if _, err := p.storage.GetDocument(ctx, docID); err != nil {
		return err
	}
	if err := p.index.Delete(ctx, docID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := p.storage.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	p.logger.Info("document deleted", zap.String("doc_id", docID))
	return nil
}

// fitFallback fits the fallback vectorizer over the stored corpus exactly
// once. Racing ingests that lose wait here and find the vectorizer fitted.
func (p *Pipeline) fitFallback(ctx context.Context) error {
	p.fitMu.Lock()
	defer p.fitMu.Unlock()
	if p.provider.Fallback().Fitted() {
		return nil
	}
	return p.rebuild(ctx)
}

// rebuild is the provider's degrade hook: it fits the fallback vectorizer
// over every stored chunk, resets the index to the fallback dimensionality,
// and re-embeds and reinserts all indexed documents.
//
// The provider runs this at most once, under its failover mutex. While that
// mutex is held every other embed call is parked on it, so the rebuild must
// never block on a per-document lock: the lock's holder may be exactly such a
// parked embed, and waiting for it would wedge the process. reinsert
// therefore only try-locks and skips busy documents.
func (p *Pipeline) rebuild(ctx context.Context) error {
	fallback := p.provider.Fallback()
	p.logger.Warn("rebuilding vector index on fallback backend",
		zap.String("backend", fallback.Name()),
		zap.Int("dimensions", fallback.Dimensions()))

	docs, err := p.storage.ListDocumentsByStatus(ctx, models.StatusIndexed)
	if err != nil {
		return fmt.Errorf("list indexed documents: %w", err)
	}

	// Fit over every stored chunk, including documents still mid-ingest, so
	// the triggering document's vocabulary is represented too.
	corpus, err := p.storage.ListChunkTexts(ctx)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	fallback.Fit(corpus)

	if err := p.index.Reset(ctx, fallback.Dimensions()); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}

	for _, doc := range docs {
		if err := p.reinsert(ctx, doc.ID, fallback); err != nil {
			return err
		}
	}

	p.logger.Info("index rebuild complete",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(corpus)))
	return nil
}

// reinsert re-embeds one document on the fallback backend and restores its
// vectors after a reset. It must not block on the per-document lock: the
// holder may be an ingest or delete parked on the provider's failover mutex,
// which is held while the rebuild runs. A busy document is skipped; whatever
// holds the lock re-embeds on the new backend (or removes the document)
// itself once the failover completes.
func (p *Pipeline) reinsert(ctx context.Context, docID string, fallback *embedding.TFIDFVectorizer) error {
	l := p.docLock(docID)
	if !l.TryLock() {
		p.logger.Debug("skipping reinsert of busy document", zap.String("doc_id", docID))
		return nil
	}
	defer l.Unlock()

	// The document may have been deleted or re-entered ingestion between
	// listing and reinsert; a non-indexed document restores its own vectors.
	doc, err := p.storage.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.logger.Debug("skipping reinsert of deleted document", zap.String("doc_id", docID))
			return nil
		}
		return fmt.Errorf("check document %s: %w", docID, err)
	}
	if doc.Status != models.StatusIndexed {
		return nil
	}
	chunks, err := p.storage.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return fmt.Errorf("load chunks for %s: %w", docID, err)
	}
	records, err := p.embedRecords(ctx, doc, chunks, fallback.EmbedBatch)
	if err != nil {
		return fmt.Errorf("re-embed %s: %w", docID, err)
	}
	if err := p.index.Insert(ctx, docID, records); err != nil {
		return fmt.Errorf("reinsert %s: %w", docID, err)
	}
	return nil
}
