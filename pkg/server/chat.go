package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-chat/parley/pkg/chat"
)

type chatRequest struct {
	ConversationID string   `json:"conversationId"`
	Models         []string `json:"models"`
	Message        string   `json:"message"`
	SystemPrompt   string   `json:"systemPrompt,omitempty"`
	Collections    []string `json:"collections,omitempty"`
}

// handleChat streams a completion over SSE. Each event is one JSON
// message of the wire contract, tagged with requestId and modelId;
// client disconnect cancels every open provider stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	session, err := s.orch.Stream(r.Context(), &chat.Request{
		ConversationID: req.ConversationID,
		Principal:      principalFrom(r.Context()),
		Models:         req.Models,
		Message:        req.Message,
		SystemPrompt:   req.SystemPrompt,
		Collections:    req.Collections,
	})
	if err != nil {
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start completion")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		session.Cancel()
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	started := time.Now()
	for {
		select {
		case <-r.Context().Done():
			session.Cancel()
			s.recordCompletion(req.Models, session, started)
			return
		case event, open := <-session.Events():
			if !open {
				s.recordCompletion(req.Models, session, started)
				return
			}
			s.sendEvent(w, flusher, event)
		}
	}
}

func (s *Server) sendEvent(w http.ResponseWriter, flusher http.Flusher, event chat.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) recordCompletion(models []string, session *chat.StreamSession, started time.Time) {
	if s.metrics == nil {
		return
	}
	elapsed := time.Since(started).Seconds()
	for _, model := range models {
		s.metrics.CompletionRequests.WithLabelValues(model, string(session.ModelState(model))).Inc()
		s.metrics.CompletionDuration.WithLabelValues(model).Observe(elapsed)
	}
}
