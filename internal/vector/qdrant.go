package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// qdrantNamespace derives stable point UUIDs from chunk IDs, since Qdrant
// only accepts UUID or integer point IDs.
var qdrantNamespace = uuid.MustParse("8f6e1a3c-0d2b-4c5e-9a7f-1b3d5e7f9a0c")

// QdrantIndex is a REST client to a Qdrant collection. The collection is
// created with cosine distance on first use; Save/Load are no-ops because
// Qdrant persists server-side.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
	logger     *zap.Logger

	// mu guards docLocks and dimensions; dimensions changes on Reset.
	mu         sync.Mutex
	docLocks   map[string]*sync.Mutex
	dimensions int
}

// QdrantConfig configures a QdrantIndex.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	Timeout    time.Duration
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists with
// the pinned dimensionality and cosine distance.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &QdrantIndex{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		docLocks:   make(map[string]*sync.Mutex),
	}
	if err := q.ensureCollection(context.Background(), cfg.Dimensions); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimensions int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 409 if the collection already exists; that is fine as
	// long as the schema matches.
	err := q.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collection), body, nil)
	if err != nil && !strings.Contains(err.Error(), "409") {
		return err
	}
	return nil
}

// docLock returns the per-document mutex, creating it on first use. Serializes
// the delete+upsert pair so concurrent inserts for one document cannot
// interleave.
func (q *QdrantIndex) docLock(documentID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		q.docLocks[documentID] = l
	}
	return l
}

// Insert replaces documentID's points. The batch is validated first so a
// dimension mismatch rejects the insert without touching the collection.
func (q *QdrantIndex) Insert(ctx context.Context, documentID string, records []Record) error {
	dims := q.Dimensions()
	for i, rec := range records {
		if len(rec.Vector) != dims {
			return fmt.Errorf("%w: record %d has dimension %d, index pinned to %d",
				ErrDimensionMismatch, i, len(rec.Vector), dims)
		}
	}
	l := q.docLock(documentID)
	l.Lock()
	defer l.Unlock()

	if err := q.deletePoints(ctx, documentID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, rec := range records {
		points[i] = map[string]any{
			"id":     uuid.NewSHA1(qdrantNamespace, []byte(rec.ID)).String(),
			"vector": rec.Vector,
			"payload": map[string]any{
				"chunk_id":    rec.ID,
				"document_id": rec.Meta.DocumentID,
				"chunk_text":  rec.Meta.ChunkText,
				"title":       rec.Meta.Title,
				"upload_date": rec.Meta.UploadDate.Format(time.RFC3339),
			},
		}
	}
	body := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collection)
	if err := q.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Query searches the collection. Ordering of equal scores follows the server;
// results carry the payload metadata back.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Result, error) {
	if dims := q.Dimensions(); len(vector) != dims {
		return nil, fmt.Errorf("%w: query has dimension %d, index pinned to %d",
			ErrDimensionMismatch, len(vector), dims)
	}
	if topK <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if filter != nil && len(filter.DocumentIDs) > 0 {
		should := make([]map[string]any, len(filter.DocumentIDs))
		for i, id := range filter.DocumentIDs {
			should[i] = map[string]any{
				"key":   "document_id",
				"match": map[string]any{"value": id},
			}
		}
		req["filter"] = map[string]any{"should": should}
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", q.collection)
	if err := q.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := Result{Score: r.Score}
		if v, ok := r.Payload["chunk_id"].(string); ok {
			res.ChunkID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			res.Meta.DocumentID = v
		}
		if v, ok := r.Payload["chunk_text"].(string); ok {
			res.Meta.ChunkText = v
		}
		if v, ok := r.Payload["title"].(string); ok {
			res.Meta.Title = v
		}
		if v, ok := r.Payload["upload_date"].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				res.Meta.UploadDate = t
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// Delete removes all points for documentID.
func (q *QdrantIndex) Delete(ctx context.Context, documentID string) error {
	l := q.docLock(documentID)
	l.Lock()
	defer l.Unlock()
	return q.deletePoints(ctx, documentID)
}

func (q *QdrantIndex) deletePoints(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "document_id",
					"match": map[string]any{"value": documentID},
				},
			},
		},
	}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collection)
	if err := q.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// Reset drops and recreates the collection with the new dimensionality.
func (q *QdrantIndex) Reset(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if err := q.do(ctx, http.MethodDelete, fmt.Sprintf("/collections/%s", q.collection), nil, nil); err != nil {
		q.logger.Warn("drop collection failed, recreating anyway", zap.Error(err))
	}
	q.mu.Lock()
	q.dimensions = dimensions
	q.mu.Unlock()
	return q.ensureCollection(ctx, dimensions)
}

// Size returns the collection's point count, or 0 if the count call fails.
func (q *QdrantIndex) Size() int {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", q.collection)
	if err := q.do(context.Background(), http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		q.logger.Warn("count points failed", zap.Error(err))
		return 0
	}
	return resp.Result.Count
}

// Dimensions returns the pinned vector dimensionality.
func (q *QdrantIndex) Dimensions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dimensions
}

// Save is a no-op; Qdrant persists server-side.
func (q *QdrantIndex) Save(path string) error { return nil }

// Load is a no-op; Qdrant persists server-side.
func (q *QdrantIndex) Load(path string) error { return nil }

// Close is a no-op for QdrantIndex.
func (q *QdrantIndex) Close() error { return nil }

func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
