// Package models defines core data structures for chunks, hits, and filters.
package models

import "time"

// Chunk is the unit of ingestion and retrieval: a sub-document passage with
// caller-supplied metadata. Chunk IDs are assigned monotonically and never
// reused; the ID is the join key between vector entries, postings, and
// chunk metadata.
type Chunk struct {
	ID        int64      `json:"id"`
	DocID     string     `json:"doc_id"`
	Text      string     `json:"text"`
	Source    string     `json:"source,omitempty"`
	Timestamp *time.Time `json:"ts,omitempty"`
}

// Hit is a single search result. Score semantics depend on the search mode
// (cosine similarity, BM25, or fused score); the shape is uniform across modes.
type Hit struct {
	ChunkID   int64      `json:"chunk_id"`
	DocID     string     `json:"doc_id"`
	Text      string     `json:"text"`
	Source    string     `json:"source,omitempty"`
	Timestamp *time.Time `json:"ts,omitempty"`
	Score     float64    `json:"score"`
}

// HitFromChunk builds a Hit carrying the chunk's metadata and the given score.
func HitFromChunk(c Chunk, score float64) Hit {
	return Hit{
		ChunkID:   c.ID,
		DocID:     c.DocID,
		Text:      c.Text,
		Source:    c.Source,
		Timestamp: c.Timestamp,
		Score:     score,
	}
}

// IngestResult reports the outcome of indexing one document.
type IngestResult struct {
	DocID         string `json:"doc_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
}
