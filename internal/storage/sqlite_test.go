package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{ID: "doc1", Title: "report.pdf"}
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != models.StatusUploaded {
		t.Errorf("default status = %s, want uploaded", doc.Status)
	}
	if doc.UploadDate.IsZero() {
		t.Error("upload date not set")
	}

	got, err := s.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Title != "report.pdf" || got.Status != models.StatusUploaded {
		t.Errorf("got %+v", got)
	}

	if err := s.UpdateDocumentStatus(ctx, "doc1", models.StatusIndexed, ""); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}
	if err := s.SetDocumentChunkCount(ctx, "doc1", 7); err != nil {
		t.Fatalf("SetDocumentChunkCount: %v", err)
	}
	got, _ = s.GetDocument(ctx, "doc1")
	if got.Status != models.StatusIndexed || got.TotalChunks != 7 {
		t.Errorf("after update: %+v", got)
	}

	if err := s.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.GetDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDocumentStatusFailure(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	s.CreateDocument(ctx, &models.Document{ID: "doc1", Title: "bad.pdf"})
	if err := s.UpdateDocumentStatus(ctx, "doc1", models.StatusFailed, "extraction failed: encrypted"); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}
	got, _ := s.GetDocument(ctx, "doc1")
	if got.Status != models.StatusFailed || got.FailReason != "extraction failed: encrypted" {
		t.Errorf("got %+v", got)
	}

	if err := s.UpdateDocumentStatus(ctx, "missing", models.StatusFailed, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing document, got %v", err)
	}
}

func TestListDocumentsByStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	s.CreateDocument(ctx, &models.Document{ID: "a", Title: "a.txt", Status: models.StatusIndexed})
	s.CreateDocument(ctx, &models.Document{ID: "b", Title: "b.txt", Status: models.StatusFailed})
	s.CreateDocument(ctx, &models.Document{ID: "c", Title: "c.txt", Status: models.StatusIndexed})

	indexed, err := s.ListDocumentsByStatus(ctx, models.StatusIndexed)
	if err != nil {
		t.Fatalf("ListDocumentsByStatus: %v", err)
	}
	if len(indexed) != 2 {
		t.Errorf("indexed count = %d, want 2", len(indexed))
	}
}

func TestReplaceChunks(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	s.CreateDocument(ctx, &models.Document{ID: "doc1", Title: "a.txt"})
	first := []*models.DocumentChunk{
		{ID: "doc1_0", DocumentID: "doc1", Text: "alpha", Position: 0},
		{ID: "doc1_1", DocumentID: "doc1", Text: "beta", Position: 1},
	}
	if err := s.ReplaceChunks(ctx, "doc1", first); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	// Replacing must not accumulate.
	second := []*models.DocumentChunk{
		{ID: "doc1_0", DocumentID: "doc1", Text: "gamma", Position: 0},
	}
	if err := s.ReplaceChunks(ctx, "doc1", second); err != nil {
		t.Fatalf("ReplaceChunks again: %v", err)
	}

	chunks, err := s.GetChunksByDocumentID(ctx, "doc1")
	if err != nil {
		t.Fatalf("GetChunksByDocumentID: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Text != "gamma" {
		t.Errorf("chunks after replace: %+v", chunks)
	}

	n, _ := s.CountChunks(ctx)
	if n != 1 {
		t.Errorf("chunk count = %d, want 1", n)
	}
}

func TestDeleteDocumentCascadesChunks(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	s.CreateDocument(ctx, &models.Document{ID: "doc1", Title: "a.txt"})
	s.ReplaceChunks(ctx, "doc1", []*models.DocumentChunk{
		{ID: "doc1_0", DocumentID: "doc1", Text: "alpha", Position: 0},
	})

	if err := s.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	n, _ := s.CountChunks(ctx)
	if n != 0 {
		t.Errorf("chunks survived document delete: %d", n)
	}
}

func TestChatHistory(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rec := &models.ChatRecord{
		ID:       "chat1",
		UserID:   "u1",
		Question: "what is the refund policy?",
		Answer:   "Refunds are accepted within 30 days.",
		Sources: []models.Source{
			{DocumentTitle: "policy.pdf", ChunkText: "Refunds are accepted within 30 days of purchase.", Score: 0.91},
		},
	}
	if err := s.CreateChatRecord(ctx, rec); err != nil {
		t.Fatalf("CreateChatRecord: %v", err)
	}
	if err := s.CreateChatRecord(ctx, &models.ChatRecord{
		ID: "chat2", UserID: "u2", Question: "other", Answer: "other",
	}); err != nil {
		t.Fatalf("CreateChatRecord: %v", err)
	}

	records, err := s.ListChatRecords(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListChatRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 (user scoped)", len(records))
	}
	got := records[0]
	if got.Question != rec.Question || got.Answer != rec.Answer {
		t.Errorf("got %+v", got)
	}
	if len(got.Sources) != 1 || got.Sources[0].DocumentTitle != "policy.pdf" {
		t.Errorf("sources not round-tripped: %+v", got.Sources)
	}
}

func TestListDocumentsPagination(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		s.CreateDocument(ctx, &models.Document{ID: id, Title: id + ".txt"})
	}
	docs, err := s.ListDocuments(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("page size = %d, want 2", len(docs))
	}
	n, _ := s.CountDocuments(ctx)
	if n != 3 {
		t.Errorf("document count = %d, want 3", n)
	}
}
