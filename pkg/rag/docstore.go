package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DocumentMetaStore persists document records through the indexing
// lifecycle. Implementations must make status updates visible to
// concurrent readers.
type DocumentMetaStore interface {
	PutDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocument(ctx context.Context, id string, status DocumentStatus, chunkCount int) error
	ListDocuments(ctx context.Context, collection string) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Extractor turns raw document bytes into plain text.
type Extractor interface {
	Extract(mimeType string, data []byte) (string, error)
	Supports(mimeType string) bool
}

// DocumentManager drives documents through
// pending, extracted, chunked and indexed, recording each transition in
// the meta store. A failure at any stage parks the document at failed
// with the stage recorded in the returned error.
type DocumentManager struct {
	meta      DocumentMetaStore
	extractor Extractor
	chunker   *Chunker
	pipeline  *Pipeline
}

func NewDocumentManager(meta DocumentMetaStore, extractor Extractor, chunker *Chunker, pipeline *Pipeline) *DocumentManager {
	return &DocumentManager{
		meta:      meta,
		extractor: extractor,
		chunker:   chunker,
		pipeline:  pipeline,
	}
}

// Ingest runs the full pipeline for one document. Re-ingesting an
// existing document id replaces its chunks in place; ordinals beyond the
// new chunk count are removed so no stale spans survive a shrink.
func (m *DocumentManager) Ingest(ctx context.Context, doc *Document, data []byte) error {
	if doc.ID == "" {
		return &PipelineError{Operation: "ingest", Message: "document id is required"}
	}
	if !m.extractor.Supports(doc.MimeType) {
		return &PipelineError{DocumentID: doc.ID, Operation: "extract",
			Message: fmt.Sprintf("unsupported mime type %q", doc.MimeType)}
	}

	prior, err := m.meta.GetDocument(ctx, doc.ID)
	if err != nil {
		return &PipelineError{DocumentID: doc.ID, Operation: "ingest", Message: "meta store lookup failed", Err: err}
	}

	doc.Status = StatusPending
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if err := m.meta.PutDocument(ctx, doc); err != nil {
		return &PipelineError{DocumentID: doc.ID, Operation: "ingest", Message: "meta store write failed", Err: err}
	}

	text, err := m.extractor.Extract(doc.MimeType, data)
	if err != nil {
		m.markFailed(ctx, doc)
		return &PipelineError{DocumentID: doc.ID, Operation: "extract", Message: "text extraction failed", Err: err}
	}
	m.transition(ctx, doc, StatusExtracted, 0)

	chunks := m.chunker.Chunk(doc.ID, text)
	m.transition(ctx, doc, StatusChunked, len(chunks))

	failures := m.pipeline.Index(ctx, doc.Collection, chunks)

	// A shrinking re-ingest leaves stale ordinals in both indices.
	if prior != nil && prior.ChunkCount > len(chunks) {
		for ordinal := len(chunks); ordinal < prior.ChunkCount; ordinal++ {
			if err := m.pipeline.Remove(ctx, doc.Collection, ChunkID(doc.ID, ordinal)); err != nil {
				slog.Warn("stale chunk removal failed",
					"document", doc.ID, "ordinal", ordinal, "error", err)
			}
		}
	}

	if len(failures) > 0 {
		m.markFailed(ctx, doc)
		return &PipelineError{DocumentID: doc.ID, Operation: "index",
			Message: fmt.Sprintf("%d of %d chunks failed", len(failures), len(chunks)),
			Err:     failures[0]}
	}

	m.transition(ctx, doc, StatusIndexed, len(chunks))
	return nil
}

// DeleteDocument removes the document's chunks from both indices and
// then its meta record. Chunk ids are derived from the stored chunk
// count, so the cascade needs no index-side listing support.
func (m *DocumentManager) DeleteDocument(ctx context.Context, id string) error {
	doc, err := m.meta.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	for ordinal := 0; ordinal < doc.ChunkCount; ordinal++ {
		if err := m.pipeline.Remove(ctx, doc.Collection, ChunkID(id, ordinal)); err != nil {
			return &PipelineError{DocumentID: id, Operation: "delete",
				Message: fmt.Sprintf("chunk %d removal failed", ordinal), Err: err}
		}
	}
	return m.meta.DeleteDocument(ctx, id)
}

// DeleteCollection drops every document in the collection along with
// both index namespaces.
func (m *DocumentManager) DeleteCollection(ctx context.Context, collection string) error {
	docs, err := m.meta.ListDocuments(ctx, collection)
	if err != nil {
		return err
	}
	if err := m.pipeline.vectors.DeleteCollection(ctx, collection); err != nil {
		return err
	}
	m.pipeline.lexical.DeleteCollection(collection)
	for _, doc := range docs {
		if err := m.meta.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *DocumentManager) transition(ctx context.Context, doc *Document, status DocumentStatus, chunkCount int) {
	doc.Status = status
	doc.ChunkCount = chunkCount
	if err := m.meta.UpdateDocument(ctx, doc.ID, status, chunkCount); err != nil {
		slog.Warn("document status update failed",
			"document", doc.ID, "status", status, "error", err)
	}
}

func (m *DocumentManager) markFailed(ctx context.Context, doc *Document) {
	m.transition(ctx, doc, StatusFailed, doc.ChunkCount)
}
