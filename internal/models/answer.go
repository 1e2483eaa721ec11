package models

import "time"

// Source is one citation attached to an answer, ordered by relevance.
type Source struct {
	DocumentTitle string  `json:"document_title"`
	ChunkText     string  `json:"chunk_text"`
	Score         float64 `json:"score"`
}

// Answer is the result of answering a question over the indexed corpus.
// Degraded is true when synthesis fell back to raw retrieved text instead of
// model-authored prose.
type Answer struct {
	Text     string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Degraded bool     `json:"degraded,omitempty"`
}

// ChatRecord is a stored question/answer exchange for a user.
type ChatRecord struct {
	ID        string    `json:"chat_id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Question  string    `json:"question" db:"question"`
	Answer    string    `json:"answer" db:"answer"`
	Sources   []Source  `json:"sources" db:"-"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}
