// Package vector provides vector index backends with cosine similarity search.
package vector

import (
	"context"
	"errors"
	"time"
)

// ErrDimensionMismatch signals that an inserted or queried vector does not
// match the index's pinned dimensionality. The offending operation is
// rejected as a whole; the index is left unchanged.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata is the payload stored with every vector. The field set matches
// the managed-backend schema exactly for interoperability.
type Metadata struct {
	DocumentID string    `json:"document_id"`
	ChunkText  string    `json:"chunk_text"`
	Title      string    `json:"title"`
	UploadDate time.Time `json:"upload_date"`
}

// Record is the persisted unit inside an index: a chunk ID, its embedding,
// and the metadata snapshot returned with query hits.
type Record struct {
	ID     string
	Vector []float32
	Meta   Metadata
}

// Result is a single similarity hit, sorted by descending cosine similarity.
type Result struct {
	ChunkID string
	// Score is cosine similarity in [-1, 1]; higher is more relevant.
	Score float64
	Meta  Metadata
}

// Filter optionally restricts a query to a set of documents.
type Filter struct {
	DocumentIDs []string
}

// Match reports whether a record with the given document ID passes the filter.
func (f *Filter) Match(documentID string) bool {
	if f == nil || len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// Index stores vector records and answers nearest-neighbor queries. Callers
// depend only on this contract, never on backend identity; the single
// exception is the deployment-level invariant that every vector in one index
// was produced by the same embedding backend at the same dimensionality.
type Index interface {
	// Insert atomically replaces all records for documentID with the given
	// set. It is idempotent per document: existing records for the document
	// are removed first, and readers never observe a partial state.
	Insert(ctx context.Context, documentID string, records []Record) error
	// Query returns the topK records by descending cosine similarity.
	// Ties are broken by insertion order (stable). An empty index yields an
	// empty result, not an error.
	Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Result, error)
	// Delete removes all records for documentID; no-op if absent.
	Delete(ctx context.Context, documentID string) error
	// Reset drops every record and re-pins the index to the given
	// dimensionality. Used when rebuilding under a new embedding backend.
	Reset(ctx context.Context, dimensions int) error
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}
