package rag

import (
	"log/slog"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/tokens"
)

// Chunker splits extracted text into overlapping windows. Window size and
// overlap are measured in tokens of the configured encoding; when no
// encoding is available the chunker falls back to a character
// approximation (four characters per token) and logs that it did so.
// Chunking is deterministic: identical input and settings always produce
// identical spans, which is what makes re-indexing idempotent.
type Chunker struct {
	counter    *tokens.Counter
	windowSize int
	overlap    int
}

func NewChunker(cfg *config.ChunkingConfig) *Chunker {
	counter, err := tokens.NewCounter(cfg.TokenModel)
	if err != nil {
		slog.Warn("token encoding unavailable, chunking by characters",
			"model", cfg.TokenModel, "error", err)
		counter = nil
	}
	return &Chunker{
		counter:    counter,
		windowSize: cfg.WindowSize,
		overlap:    cfg.Overlap,
	}
}

// Chunk splits text into ordered chunks for documentID. Ordinals start
// at zero and never repeat within a document.
func (c *Chunker) Chunk(documentID, text string) []Chunk {
	if text == "" {
		return nil
	}
	if c.counter == nil {
		return c.chunkByCharacters(documentID, text)
	}

	ids := c.counter.Encode(text)
	if len(ids) == 0 {
		return nil
	}

	stride := c.windowSize - c.overlap
	chunks := make([]Chunk, 0, (len(ids)+stride-1)/stride)

	for start, ordinal := 0, 0; start < len(ids); start, ordinal = start+stride, ordinal+1 {
		end := start + c.windowSize
		if end > len(ids) {
			end = len(ids)
		}
		window := ids[start:end]
		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, ordinal),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       c.counter.Decode(window),
			TokenCount: len(window),
		})
		if end == len(ids) {
			break
		}
	}
	return chunks
}

// chunkByCharacters approximates token windows at four characters per
// token, slicing on rune boundaries.
func (c *Chunker) chunkByCharacters(documentID, text string) []Chunk {
	runes := []rune(text)
	window := c.windowSize * 4
	stride := (c.windowSize - c.overlap) * 4

	chunks := make([]Chunk, 0, (len(runes)+stride-1)/stride)
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+stride, ordinal+1 {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		span := string(runes[start:end])
		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, ordinal),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       span,
			TokenCount: tokens.Estimate(span),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
