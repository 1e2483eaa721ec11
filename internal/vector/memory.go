package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryIndex is an in-process index using brute-force cosine search.
// Suitable for single-node deployments and tests; contents can be persisted
// to disk with Save/Load.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	records    []Record
	byDocument map[string][]int // document ID -> positions in records
}

// NewMemoryIndex creates an in-process index pinned to the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		byDocument: make(map[string][]int),
	}, nil
}

// Insert atomically replaces documentID's records. The whole batch is
// validated against the pinned dimension before anything is mutated, so a
// rejected insert leaves the index unchanged. Validation happens under the
// write lock: a concurrent Reset cannot re-pin the dimension between the
// check and the append.
func (m *MemoryIndex) Insert(ctx context.Context, documentID string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range records {
		if len(rec.Vector) != m.dimensions {
			return fmt.Errorf("%w: record %d has dimension %d, index pinned to %d",
				ErrDimensionMismatch, i, len(rec.Vector), m.dimensions)
		}
	}
	m.removeDocumentLocked(documentID)
	for _, rec := range records {
		vec := make([]float32, m.dimensions)
		copy(vec, rec.Vector)
		rec.Vector = vec
		m.byDocument[documentID] = append(m.byDocument[documentID], len(m.records))
		m.records = append(m.records, rec)
	}
	return nil
}

// Query returns the topK records by descending cosine similarity; ties keep
// insertion order.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("%w: query has dimension %d, index pinned to %d",
			ErrDimensionMismatch, len(vector), m.dimensions)
	}
	if topK <= 0 || len(m.records) == 0 {
		return nil, nil
	}
	results := make([]Result, 0, len(m.records))
	for _, rec := range m.records {
		if !filter.Match(rec.Meta.DocumentID) {
			continue
		}
		results = append(results, Result{
			ChunkID: rec.ID,
			Score:   CosineSimilarity(vector, rec.Vector),
			Meta:    rec.Meta,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes all records for documentID; no-op if absent.
func (m *MemoryIndex) Delete(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeDocumentLocked(documentID)
	return nil
}

// removeDocumentLocked compacts records, dropping the document's entries and
// rebuilding the position map. Caller holds the write lock.
func (m *MemoryIndex) removeDocumentLocked(documentID string) {
	if _, ok := m.byDocument[documentID]; !ok {
		return
	}
	kept := make([]Record, 0, len(m.records))
	byDoc := make(map[string][]int, len(m.byDocument))
	for _, rec := range m.records {
		if rec.Meta.DocumentID == documentID {
			continue
		}
		byDoc[rec.Meta.DocumentID] = append(byDoc[rec.Meta.DocumentID], len(kept))
		kept = append(kept, rec)
	}
	m.records = kept
	m.byDocument = byDoc
}

// Reset drops every record and re-pins the dimension.
func (m *MemoryIndex) Reset(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = dimensions
	m.records = nil
	m.byDocument = make(map[string][]int)
	return nil
}

// Size returns the number of records in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Dimensions returns the pinned vector dimensionality.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error { return nil }

// Save persists the index to path, creating directories as needed.
// Format: dimensions (4), record count (4), then per record: id length (4),
// id bytes, vector (dimensions*4 bytes), metadata JSON length (4), JSON bytes.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.records))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, rec := range m.records {
		if err := writeBytes(f, []byte(rec.ID)); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(rec.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		meta, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if err := writeBytes(f, meta); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// A missing file is not an error; the index is left unchanged. A dimension
// mismatch between file and index is rejected.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.Dimensions() {
		return fmt.Errorf("%w: file has %d, index pinned to %d", ErrDimensionMismatch, dim, m.Dimensions())
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	records := make([]Record, 0, n)
	vecBuf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		id, err := readBytes(f)
		if err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(f, vecBuf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		metaBuf, err := readBytes(f)
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		var meta Metadata
		if err := json.Unmarshal(metaBuf, &meta); err != nil {
			return fmt.Errorf("unmarshal metadata: %w", err)
		}
		records = append(records, Record{
			ID:     string(id),
			Vector: bytesToFloat32Slice(vecBuf),
			Meta:   meta,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	m.byDocument = make(map[string][]int, len(records))
	for i, rec := range records {
		m.byDocument[rec.Meta.DocumentID] = append(m.byDocument[rec.Meta.DocumentID], i)
	}
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
