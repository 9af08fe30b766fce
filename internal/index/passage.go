// Package index writes embedded chunks to a vector index and defines the
// contract index backends implement.
package index

import (
	"context"
	"time"

	"ragctx/internal/text"
)

// Passage is the unit stored in the index, keyed by chunk id.
type Passage struct {
	ChunkID  string
	Text     string
	Vector   []float32
	Metadata PassageMetadata
}

type PassageMetadata struct {
	DocumentID    string            `json:"document_id"`
	Title         string            `json:"title"`
	URL           string            `json:"url"`
	Domain        string            `json:"domain"`
	FilePath      string            `json:"file_path"`
	Filename      string            `json:"filename"`
	SizeBytes     int64             `json:"size_bytes"`
	CapturedAt    time.Time         `json:"captured_at"`
	ContentLength int               `json:"content_length"`
	Ordinal       int               `json:"chunk_index"`
	TotalChunks   int               `json:"total_chunks"`
	ChunkSize     int               `json:"chunk_size"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Hit is a passage returned by a similarity search. Higher scores are more similar.
type Hit struct {
	ChunkID  string
	Text     string
	Score    float32
	Metadata PassageMetadata
}

// Store is implemented by index backends.
type Store interface {
	// Upsert inserts or replaces passages by chunk id. The returned map holds
	// passages the backend rejected individually, keyed by chunk id. A non-nil
	// error means the batch as a whole could not be written.
	Upsert(ctx context.Context, passages []Passage) (map[string]string, error)
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	// Reset drops every passage in the collection.
	Reset(ctx context.Context) error
}

// FromChunk builds the passage for an embedded chunk.
func FromChunk(c text.Chunk, vector []float32) Passage {
	return Passage{
		ChunkID: c.ID,
		Text:    c.Text,
		Vector:  vector,
		Metadata: PassageMetadata{
			DocumentID:    c.DocumentID,
			Title:         c.Metadata.Title,
			URL:           c.Metadata.URL,
			Domain:        c.Metadata.Domain,
			FilePath:      c.Metadata.FilePath,
			Filename:      c.Metadata.Filename,
			SizeBytes:     c.Metadata.SizeBytes,
			CapturedAt:    c.Metadata.CapturedAt,
			ContentLength: c.Metadata.ContentLength,
			Ordinal:       c.Ordinal,
			TotalChunks:   c.TotalChunks,
			ChunkSize:     c.Size(),
			Extra:         c.Metadata.Extra,
		},
	}
}
