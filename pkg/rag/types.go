// Package rag implements the retrieval subsystem: document lifecycle,
// token-aware chunking, the embed pipeline and hybrid retrieval over the
// vector and lexical indices.
package rag

import (
	"fmt"
	"time"
)

// DocumentStatus tracks a document through the indexing lifecycle.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusExtracted DocumentStatus = "extracted"
	StatusChunked   DocumentStatus = "chunked"
	StatusIndexed   DocumentStatus = "indexed"
	StatusFailed    DocumentStatus = "failed"
)

// Document is uploaded content plus mutable indexing metadata. The raw
// bytes are immutable once stored; status and chunk count change as the
// document moves through the pipeline.
type Document struct {
	ID         string
	Collection string
	Owner      string
	Title      string
	MimeType   string
	Status     DocumentStatus
	ChunkCount int
	CreatedAt  time.Time
}

// Chunk is a derived span of a document's text, the unit of indexing.
// Ordinals never repeat within a document; source character ranges may
// overlap because of the sliding window.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	TokenCount int
}

// ChunkID derives the deterministic index key for a document chunk.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", documentID, ordinal)
}

// RetrievalResult is one ranked chunk produced per query.
type RetrievalResult struct {
	ChunkID    string
	DocumentID string
	Content    string

	// Score is relevance normalized to [0,1] within the result set.
	Score float64

	// Source is "vector", "lexical" or "hybrid".
	Source string

	Rank       int
	TokenCount int
}

const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
	SourceHybrid  = "hybrid"
)
