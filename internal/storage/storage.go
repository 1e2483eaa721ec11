// Package storage defines the persistence interface for documents, chunks,
// and chat history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document, chunk, and chat persistence operations.
// The vector index is persisted separately; this store is the source of truth
// for document state and chunk text, which the index can be rebuilt from.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, failReason string) error
	SetDocumentChunkCount(ctx context.Context, id string, totalChunks int) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus) ([]*models.Document, error)

	// Chunk operations
	ReplaceChunks(ctx context.Context, docID string, chunks []*models.DocumentChunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error
	// ListChunkTexts returns the text of every stored chunk, for fitting the
	// fallback vectorizer over the whole corpus.
	ListChunkTexts(ctx context.Context) ([]string, error)

	// Chat history
	CreateChatRecord(ctx context.Context, rec *models.ChatRecord) error
	ListChatRecords(ctx context.Context, userID string, limit int) ([]*models.ChatRecord, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
