// Package server exposes the chat and retrieval pipelines over HTTP:
// an SSE streaming completion endpoint, document ingestion, model
// listing and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/pkg/auth"
	"github.com/parley-chat/parley/pkg/chat"
	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/rag"
)

type principalKey struct{}

// Server wires the HTTP surface to the orchestrator and document
// manager.
type Server struct {
	cfg        *config.ServerConfig
	orch       *chat.Orchestrator
	catalog    *chat.Catalog
	documents  *rag.DocumentManager
	meta       rag.DocumentMetaStore
	verifier   *auth.Verifier
	authorizer *auth.ClaimsAuthorizer
	metrics    *observability.Metrics

	httpServer *http.Server
}

func New(
	cfg *config.ServerConfig,
	orch *chat.Orchestrator,
	catalog *chat.Catalog,
	documents *rag.DocumentManager,
	meta rag.DocumentMetaStore,
	verifier *auth.Verifier,
	authorizer *auth.ClaimsAuthorizer,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		cfg:        cfg,
		orch:       orch,
		catalog:    catalog,
		documents:  documents,
		meta:       meta,
		verifier:   verifier,
		authorizer: authorizer,
		metrics:    metrics,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/chat", s.handleChat)
		r.Get("/models", s.handleListModels)
		r.Route("/collections/{collection}", func(r chi.Router) {
			r.Post("/documents", s.handleUploadDocument)
			r.Get("/documents", s.handleListDocuments)
			r.Delete("/", s.handleDeleteCollection)
		})
		r.Delete("/documents/{id}", s.handleDeleteDocument)
	})
	// Scrapers don't carry bearer tokens; /metrics stays outside the
	// authenticated group.
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     router,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
		// WriteTimeout stays at the configured value; zero keeps SSE
		// streams open indefinitely.
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// authenticate verifies the bearer token when auth is configured and
// records the principal's capabilities for the orchestrator's checks.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil || !s.verifier.Enabled() {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), "anonymous")))
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := s.verifier.ValidateToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if s.authorizer != nil {
			s.authorizer.Observe(claims)
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), claims.Subject)))
	})
}

func withPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func principalFrom(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey{}).(string)
	return principal
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
