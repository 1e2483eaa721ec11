package chunker

import (
	"strings"
	"testing"
)

func TestChunker_WindowPlacement(t *testing.T) {
	c := NewChunker(10, 4)
	text := "abcdefghijklmnopqrstuvwxyz" // 26 chars, step 6
	chunks := c.Chunk("doc1", text)
	// Starts at 0, 6, 12, 18; the window at 18 reaches the end of the text,
	// so ceil((26-4)/6) = 4 chunks.
	wantStarts := []int{0, 6, 12, 18}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("expected %d chunks, got %d", len(wantStarts), len(chunks))
	}
	for i, ch := range chunks {
		start := wantStarts[i]
		end := start + 10
		if end > len(text) {
			end = len(text)
		}
		if ch.Text != text[start:end] {
			t.Errorf("chunk %d text=%q want %q", i, ch.Text, text[start:end])
		}
		if ch.Position != i {
			t.Errorf("chunk %d Position=%d", i, ch.Position)
		}
		if ch.DocumentID != "doc1" {
			t.Errorf("chunk %d DocumentID=%s", i, ch.DocumentID)
		}
		if ch.ID != ChunkID("doc1", i) {
			t.Errorf("chunk %d ID=%s", i, ch.ID)
		}
	}
}

func TestChunker_FullCoverage(t *testing.T) {
	c := NewChunker(100, 30)
	text := strings.Repeat("x", 1234)
	chunks := c.Chunk("d", text)

	covered := make([]bool, len(text))
	step := 100 - 30
	for i, ch := range chunks {
		start := i * step
		for j := start; j < start+len(ch.Text); j++ {
			covered[j] = true
		}
	}
	for i, ok := range covered {
		if !ok {
			t.Fatalf("character %d not covered by any chunk", i)
		}
	}
}

// A 5000-character document with chunk_size=1000 and overlap=200 yields
// ceil((5000-200)/800) = 6 chunks, windows starting every 800 characters.
func TestChunker_FiveThousandCharDocument(t *testing.T) {
	c := NewChunker(1000, 200)
	text := strings.Repeat("a", 5000)
	chunks := c.Chunk("paper-a", text)
	if len(chunks) != 6 {
		t.Fatalf("expected 6 chunks, got %d", len(chunks))
	}
	for i := 0; i < 5; i++ {
		if len(chunks[i].Text) != 1000 {
			t.Errorf("chunk %d length=%d, want 1000", i, len(chunks[i].Text))
		}
	}
	// Final window starts at 5*800=4000 and runs to the end of the text.
	if got := len(chunks[5].Text); got != 1000 {
		t.Errorf("final chunk length=%d", got)
	}
}

func TestChunker_ShortText(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks := c.Chunk("d", "tiny")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "tiny" {
		t.Errorf("text=%q", chunks[0].Text)
	}
}

func TestChunker_Empty(t *testing.T) {
	c := NewChunker(1000, 200)
	if chunks := c.Chunk("d", ""); chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_Unicode(t *testing.T) {
	c := NewChunker(4, 1)
	chunks := c.Chunk("d", "héllø wörld")
	var last *string
	for _, ch := range chunks {
		s := ch.Text
		last = &s
	}
	if last == nil || !strings.HasSuffix("héllø wörld", *last) {
		t.Errorf("final chunk should end the text, got %v", last)
	}
}
