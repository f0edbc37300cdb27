package server

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parley-chat/parley/pkg/rag"
)

type documentResponse struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Title      string `json:"title,omitempty"`
	MimeType   string `json:"mimeType"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunkCount"`
	CreatedAt  string `json:"createdAt"`
}

func toDocumentResponse(doc *rag.Document) documentResponse {
	return documentResponse{
		ID:         doc.ID,
		Collection: doc.Collection,
		Title:      doc.Title,
		MimeType:   doc.MimeType,
		Status:     string(doc.Status),
		ChunkCount: doc.ChunkCount,
		CreatedAt:  doc.CreatedAt.Format(time.RFC3339),
	}
}

// handleUploadDocument ingests the request body as one document. The
// Content-Type header selects the extractor; X-Title is optional.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	principal := principalFrom(r.Context())

	if s.authorizer != nil && s.verifier != nil && s.verifier.Enabled() {
		if !s.authorizer.CanAccessCollection(r.Context(), principal, collection) {
			writeError(w, http.StatusForbidden, "collection access denied")
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty document body")
		return
	}

	doc := &rag.Document{
		ID:         uuid.NewString(),
		Collection: collection,
		Owner:      principal,
		Title:      r.Header.Get("X-Title"),
		MimeType:   r.Header.Get("Content-Type"),
	}

	if err := s.documents.Ingest(r.Context(), doc, data); err != nil {
		if s.metrics != nil {
			s.metrics.DocumentsIndexed.WithLabelValues(string(rag.StatusFailed)).Inc()
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.DocumentsIndexed.WithLabelValues(string(doc.Status)).Inc()
		s.metrics.ChunksIndexed.Add(float64(doc.ChunkCount))
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	docs, err := s.meta.ListDocuments(r.Context(), collection)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDocumentResponse(doc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.documents.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")

	if err := s.documents.DeleteCollection(r.Context(), collection); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete collection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}
