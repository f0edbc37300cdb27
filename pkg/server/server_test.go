package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/auth"
	"github.com/parley-chat/parley/pkg/chat"
	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/extract"
	"github.com/parley-chat/parley/pkg/lexical"
	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/rag"
	"github.com/parley-chat/parley/pkg/tools"
	"github.com/parley-chat/parley/pkg/vector"
)

type scriptedProvider struct {
	model  string
	script []llms.StreamEvent
}

func (p *scriptedProvider) Stream(ctx context.Context, _ llms.NormalizedRequest) (<-chan llms.StreamEvent, error) {
	ch := make(chan llms.StreamEvent)
	go func() {
		defer close(ch)
		for _, event := range p.script {
			select {
			case <-ctx.Done():
				return
			case ch <- event:
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) ModelName() string   { return p.model }
func (p *scriptedProvider) ContextWindow() int  { return 128000 }
func (p *scriptedProvider) SupportsTools() bool { return false }
func (p *scriptedProvider) Close() error        { return nil }

func (p *scriptedProvider) ListModels(context.Context) ([]string, error) {
	return []string{p.model}, nil
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)%7) + 1, 1, 2}
	}
	return out, nil
}

func (staticEmbedder) Dimension() int    { return 3 }
func (staticEmbedder) ModelName() string { return "static" }
func (staticEmbedder) Close() error      { return nil }

type memMetaStore struct {
	mu   sync.Mutex
	docs map[string]*rag.Document
}

func newMemMetaStore() *memMetaStore {
	return &memMetaStore{docs: make(map[string]*rag.Document)}
}

func (s *memMetaStore) PutDocument(_ context.Context, doc *rag.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *memMetaStore) GetDocument(_ context.Context, id string) (*rag.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *memMetaStore) UpdateDocument(_ context.Context, id string, status rag.DocumentStatus, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.Status = status
		doc.ChunkCount = chunkCount
	}
	return nil
}

func (s *memMetaStore) ListDocuments(_ context.Context, collection string) ([]*rag.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*rag.Document
	for _, doc := range s.docs {
		if doc.Collection == collection {
			copied := *doc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memMetaStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func newTestServer(t *testing.T, authCfg config.AuthConfig) *Server {
	t.Helper()

	registry := llms.NewProviderRegistry()
	require.NoError(t, registry.Register("main", &scriptedProvider{
		model: "gpt-4o",
		script: []llms.StreamEvent{
			{Type: llms.EventTokenDelta, Text: "hello "},
			{Type: llms.EventTokenDelta, Text: "world"},
			{Type: llms.EventDone},
		},
	}))
	catalog := chat.NewCatalog(registry, 0)
	catalog.Refresh(context.Background())

	chatCfg := &config.ChatConfig{}
	chatCfg.SetDefaults()

	store, err := vector.NewChromemStore("", false)
	require.NoError(t, err)
	lex := lexical.NewIndex()
	chunker := rag.NewChunker(&config.ChunkingConfig{WindowSize: 64, Overlap: 8, TokenModel: "gpt-4o"})
	pipeline := rag.NewPipeline(staticEmbedder{}, store, lex, 4, 2)
	meta := newMemMetaStore()
	manager := rag.NewDocumentManager(meta, extract.NewRegistry(), chunker, pipeline)

	verifier := auth.NewVerifier(&authCfg)
	authorizer := auth.NewClaimsAuthorizer()

	var orchAuth chat.Authorizer = auth.AllowAll{}
	if verifier.Enabled() {
		orchAuth = authorizer
	}
	metrics := observability.NewMetrics()
	toolRegistry := tools.NewRegistry()
	toolRegistry.Instrument(metrics)
	orch := chat.NewOrchestrator(registry, catalog, nil, toolRegistry, nil, orchAuth, chatCfg)
	orch.Instrument(metrics)

	serverCfg := &config.ServerConfig{}
	serverCfg.SetDefaults()
	return New(serverCfg, orch, catalog, manager, meta, verifier, authorizer, metrics)
}

func TestListModels(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var models []chat.ModelSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	require.Len(t, models, 1)
	assert.Equal(t, "main", models[0].ID)
	assert.Equal(t, "gpt-4o", models[0].Model)
}

func TestDocumentUploadAndList(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	body := strings.NewReader(strings.Repeat("indexable text ", 30))
	req := httptest.NewRequest(http.MethodPost, "/v1/collections/kb/documents", body)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("X-Title", "notes")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "indexed", doc.Status)
	assert.Equal(t, "notes", doc.Title)
	assert.Greater(t, doc.ChunkCount, 0)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/collections/kb/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/documents/"+doc.ID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDocumentUploadUnsupportedType(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/collections/kb/documents", strings.NewReader("x"))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatStreaming(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload := `{"models":["main"],"message":"hi"}`
	resp, err := http.Post(ts.URL+"/v1/chat", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []chat.Event
	scanner := bufio.NewScanner(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() && time.Now().Before(deadline) {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event chat.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
		if event.Type == "done" {
			break
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "delta", events[0].Type)
	assert.Equal(t, "main", events[0].ModelID)
	assert.Equal(t, "done", events[len(events)-1].Type)
}

func TestChatValidationRejected(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"models":[],"message":"hi"}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{Secret: "server-secret"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, "user-1"))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	require.NoError(t, token.Set("models", []string{"*"}))
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte("server-secret")))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+string(signed))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsScrapableWithAuthEnabled(t *testing.T) {
	s := newTestServer(t, config.AuthConfig{Secret: "server-secret"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
