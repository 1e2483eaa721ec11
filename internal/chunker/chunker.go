// Package chunker splits extracted text into overlapping fixed-size windows.
package chunker

import (
	"fmt"

	"github.com/hyperjump/kotae/internal/models"
)

// Chunker splits text into overlapping character-based chunks.
// Every character of the input appears in at least one chunk: window i starts
// at i*(chunkSize-overlap) and spans chunkSize characters, so consecutive
// windows share overlap characters and the final window may be shorter.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a chunker with the given size and overlap, in characters.
// overlap must be smaller than chunkSize (validated at config load).
func NewChunker(chunkSize, overlap int) *Chunker {
	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

// Chunk splits text into DocumentChunks with overlapping windows.
// Chunk IDs are deterministic ("<docID>_<position>") so re-ingesting a
// document produces the same ID set. Empty or whitespace-only text yields nil.
func (c *Chunker) Chunk(docID, text string) []*models.DocumentChunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	step := c.chunkSize - c.overlap
	if step <= 0 {
		step = 1
	}
	var chunks []*models.DocumentChunk
	for pos := 0; ; pos++ {
		start := pos * step
		if start >= len(runes) {
			break
		}
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, &models.DocumentChunk{
			ID:         ChunkID(docID, pos),
			DocumentID: docID,
			Text:       string(runes[start:end]),
			Position:   pos,
		})
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

// ChunkID returns the deterministic chunk ID for a document and position.
func ChunkID(docID string, position int) string {
	return fmt.Sprintf("%s_%d", docID, position)
}
