package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/lexical"
)

type fakeMetaStore struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{docs: make(map[string]*Document)}
}

func (s *fakeMetaStore) PutDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *fakeMetaStore) GetDocument(_ context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeMetaStore) UpdateDocument(_ context.Context, id string, status DocumentStatus, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	return nil
}

func (s *fakeMetaStore) ListDocuments(_ context.Context, collection string) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Document
	for _, doc := range s.docs {
		if doc.Collection == collection {
			copied := *doc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeMetaStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

type fakeExtractor struct{}

func (fakeExtractor) Supports(mimeType string) bool { return mimeType == "text/plain" }

func (fakeExtractor) Extract(mimeType string, data []byte) (string, error) {
	if strings.Contains(string(data), "corrupt") {
		return "", errors.New("malformed input")
	}
	return string(data), nil
}

type managerFixture struct {
	manager *DocumentManager
	meta    *fakeMetaStore
	store   *fakeVectorStore
	lex     *lexical.Index
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	meta := newFakeMetaStore()
	store := newFakeVectorStore()
	lex := lexical.NewIndex()
	chunker := &Chunker{counter: nil, windowSize: 8, overlap: 2}
	pipeline := NewPipeline(&fakeEmbedder{}, store, lex, 2, 2)
	return &managerFixture{
		manager: NewDocumentManager(meta, fakeExtractor{}, chunker, pipeline),
		meta:    meta,
		store:   store,
		lex:     lex,
	}
}

func TestIngestLifecycle(t *testing.T) {
	f := newManagerFixture(t)

	doc := &Document{ID: "doc-1", Collection: "kb", Title: "notes", MimeType: "text/plain"}
	data := []byte(strings.Repeat("searchable content here ", 10))

	require.NoError(t, f.manager.Ingest(context.Background(), doc, data))

	stored, err := f.meta.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StatusIndexed, stored.Status)
	assert.Greater(t, stored.ChunkCount, 0)
	assert.Equal(t, stored.ChunkCount, f.store.count("kb"))
	assert.Equal(t, stored.ChunkCount, f.lex.Count("kb"))
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestIngestUnsupportedMimeType(t *testing.T) {
	f := newManagerFixture(t)

	doc := &Document{ID: "doc-1", Collection: "kb", MimeType: "image/png"}
	err := f.manager.Ingest(context.Background(), doc, []byte("binary"))

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "extract", perr.Operation)

	stored, _ := f.meta.GetDocument(context.Background(), "doc-1")
	assert.Nil(t, stored)
}

func TestIngestExtractionFailure(t *testing.T) {
	f := newManagerFixture(t)

	doc := &Document{ID: "doc-1", Collection: "kb", MimeType: "text/plain"}
	err := f.manager.Ingest(context.Background(), doc, []byte("corrupt payload"))

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "extract", perr.Operation)

	stored, _ := f.meta.GetDocument(context.Background(), "doc-1")
	require.NotNil(t, stored)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestIngestEmbeddingFailure(t *testing.T) {
	meta := newFakeMetaStore()
	store := newFakeVectorStore()
	lex := lexical.NewIndex()
	chunker := &Chunker{counter: nil, windowSize: 8, overlap: 2}
	pipeline := NewPipeline(&fakeEmbedder{failOn: "poison"}, store, lex, 2, 2)
	manager := NewDocumentManager(meta, fakeExtractor{}, chunker, pipeline)

	doc := &Document{ID: "doc-1", Collection: "kb", MimeType: "text/plain"}
	err := manager.Ingest(context.Background(), doc, []byte("poison everywhere in this text"))

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "index", perr.Operation)

	stored, _ := meta.GetDocument(context.Background(), "doc-1")
	require.NotNil(t, stored)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestDeleteDocumentCascades(t *testing.T) {
	f := newManagerFixture(t)

	doc := &Document{ID: "doc-1", Collection: "kb", MimeType: "text/plain"}
	require.NoError(t, f.manager.Ingest(context.Background(), doc, []byte(strings.Repeat("span text ", 20))))
	require.Greater(t, f.store.count("kb"), 0)

	require.NoError(t, f.manager.DeleteDocument(context.Background(), "doc-1"))

	assert.Equal(t, 0, f.store.count("kb"))
	assert.Equal(t, 0, f.lex.Count("kb"))
	stored, _ := f.meta.GetDocument(context.Background(), "doc-1")
	assert.Nil(t, stored)
}

func TestDeleteUnknownDocument(t *testing.T) {
	f := newManagerFixture(t)
	assert.NoError(t, f.manager.DeleteDocument(context.Background(), "missing"))
}

func TestReingestShrinkRemovesStaleChunks(t *testing.T) {
	f := newManagerFixture(t)

	doc := &Document{ID: "doc-1", Collection: "kb", MimeType: "text/plain"}
	require.NoError(t, f.manager.Ingest(context.Background(), doc, []byte(strings.Repeat("long body text ", 30))))
	firstCount := f.store.count("kb")
	require.Greater(t, firstCount, 1)

	doc2 := &Document{ID: "doc-1", Collection: "kb", MimeType: "text/plain"}
	require.NoError(t, f.manager.Ingest(context.Background(), doc2, []byte("tiny body")))

	stored, _ := f.meta.GetDocument(context.Background(), "doc-1")
	require.NotNil(t, stored)
	assert.Equal(t, StatusIndexed, stored.Status)
	assert.Equal(t, stored.ChunkCount, f.store.count("kb"))
	assert.Equal(t, stored.ChunkCount, f.lex.Count("kb"))
}

func TestDeleteCollection(t *testing.T) {
	f := newManagerFixture(t)

	docA := &Document{ID: "doc-a", Collection: "kb", MimeType: "text/plain"}
	docB := &Document{ID: "doc-b", Collection: "kb", MimeType: "text/plain"}
	require.NoError(t, f.manager.Ingest(context.Background(), docA, []byte(strings.Repeat("alpha text ", 10))))
	require.NoError(t, f.manager.Ingest(context.Background(), docB, []byte(strings.Repeat("beta text ", 10))))

	require.NoError(t, f.manager.DeleteCollection(context.Background(), "kb"))

	assert.Equal(t, 0, f.store.count("kb"))
	assert.Equal(t, 0, f.lex.Count("kb"))
	docs, err := f.meta.ListDocuments(context.Background(), "kb")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
