package domain

import "time"

// Document is a source text submitted for retrieval indexing.
type Document struct {
	SourceID string            `json:"sourceId"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RagChunk is an embedded, overlapping slice of a source document.
// Chunks are appended or rebuilt per source, never edited in place.
type RagChunk struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"sourceId"`
	Title     string            `json:"title,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding"`
	Checksum  string            `json:"checksum"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SourceInfo describes an indexed source document.
type SourceInfo struct {
	SourceID  string    `json:"sourceId"`
	Title     string    `json:"title,omitempty"`
	Chunks    int       `json:"chunks"`
	UpdatedAt time.Time `json:"updatedAt"`
}
