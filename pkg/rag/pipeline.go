package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parley-chat/parley/pkg/embedders"
	"github.com/parley-chat/parley/pkg/lexical"
	"github.com/parley-chat/parley/pkg/vector"
)

// Pipeline embeds chunks in batches with bounded concurrency and writes
// them into both indices. A failed batch marks only its own chunks as
// failed; sibling batches continue.
type Pipeline struct {
	embedder    embedders.Embedder
	vectors     vector.Store
	lexical     *lexical.Index
	batchSize   int
	concurrency int
}

func NewPipeline(embedder embedders.Embedder, vectors vector.Store, lex *lexical.Index, batchSize, concurrency int) *Pipeline {
	if batchSize < 1 {
		batchSize = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		embedder:    embedder,
		vectors:     vectors,
		lexical:     lex,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// Index embeds and indexes chunks under collection. The returned failures
// identify exactly which chunks need a retry; an empty slice means every
// chunk is visible in both indices.
func (p *Pipeline) Index(ctx context.Context, collection string, chunks []Chunk) []ChunkFailure {
	if len(chunks) == 0 {
		return nil
	}

	var mu sync.Mutex
	var failures []ChunkFailure
	fail := func(batch []Chunk, err error) {
		mu.Lock()
		defer mu.Unlock()
		for _, chunk := range batch {
			failures = append(failures, ChunkFailure{ChunkID: chunk.ID, Err: err})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(batch, err)
				return nil
			}

			texts := make([]string, len(batch))
			for i, chunk := range batch {
				texts[i] = chunk.Text
			}

			vectors, err := p.embedder.Embed(ctx, texts)
			if err != nil {
				fail(batch, fmt.Errorf("embedding failed: %w", err))
				return nil
			}

			for i, chunk := range batch {
				if err := p.upsert(ctx, collection, chunk, vectors[i]); err != nil {
					mu.Lock()
					failures = append(failures, ChunkFailure{ChunkID: chunk.ID, Err: err})
					mu.Unlock()
				}
			}
			return nil
		})
	}

	// Workers never return errors; the group is used for its bounded
	// concurrency and context plumbing.
	_ = g.Wait()

	if len(failures) > 0 {
		slog.Warn("indexing completed with failures",
			"collection", collection,
			"total", len(chunks),
			"failed", len(failures))
	}
	return failures
}

func (p *Pipeline) upsert(ctx context.Context, collection string, chunk Chunk, vec []float32) error {
	metadata := map[string]string{
		"document_id": chunk.DocumentID,
		"ordinal":     strconv.Itoa(chunk.Ordinal),
		"tokens":      strconv.Itoa(chunk.TokenCount),
	}
	if err := p.vectors.Upsert(ctx, collection, chunk.ID, vec, chunk.Text, metadata); err != nil {
		return fmt.Errorf("vector upsert failed: %w", err)
	}
	p.lexical.Upsert(collection, chunk.ID, chunk.Text, metadata)
	return nil
}

// Remove deletes a chunk from both indices.
func (p *Pipeline) Remove(ctx context.Context, collection, chunkID string) error {
	if err := p.vectors.Delete(ctx, collection, chunkID); err != nil {
		return err
	}
	p.lexical.Delete(collection, chunkID)
	return nil
}
