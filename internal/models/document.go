// Package models defines core data structures for documents, chunks, and answers.
package models

import "time"

// DocumentStatus tracks a document through the ingestion state machine.
// The only terminal states are StatusIndexed and StatusFailed; queries may
// retrieve a document's chunks only once it reaches StatusIndexed.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusExtracting DocumentStatus = "extracting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// Document represents an uploaded document and its ingestion state.
type Document struct {
	ID          string         `json:"document_id" db:"id"`
	Title       string         `json:"title" db:"title"`
	UploadDate  time.Time      `json:"upload_date" db:"upload_date"`
	TotalChunks int            `json:"total_chunks" db:"total_chunks"`
	Status      DocumentStatus `json:"status" db:"status"`
	// FailReason is a human-readable cause set when Status is StatusFailed.
	FailReason string `json:"fail_reason,omitempty" db:"fail_reason"`
}

// DocumentChunk is one overlapping window of a document's extracted text,
// the unit of embedding and retrieval. Chunks are owned exclusively by their
// document and are never shared.
type DocumentChunk struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`
	Text       string `json:"text" db:"text"`
	// Position is the ordinal of the chunk within its document, preserving
	// document order including overlaps.
	Position  int       `json:"position" db:"position"`
	Embedding []float32 `json:"-" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
