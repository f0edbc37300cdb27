package chat

import (
	"context"
	"strings"
	"sync"
	"time"
)

// StreamSession is the in-memory state of one active completion request.
// It owns the cancellation of every open provider connection, accumulates
// partial output per model and carries the merged event stream. The
// session ends when all model streams finish, the client cancels, or the
// parent context expires, whichever comes first.
type StreamSession struct {
	RequestID string

	events chan Event
	done   chan struct{}
	stop   chan struct{}
	cancel context.CancelFunc
	grace  time.Duration

	stopOnce sync.Once

	mu       sync.Mutex
	outputs  map[string]*strings.Builder
	states   map[string]State
	warnings []string
}

func newStreamSession(requestID string, cancel context.CancelFunc, grace time.Duration) *StreamSession {
	return &StreamSession{
		RequestID: requestID,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
		cancel:    cancel,
		grace:     grace,
		outputs:   make(map[string]*strings.Builder),
		states:    make(map[string]State),
	}
}

// Events returns the merged stream. The channel is closed after every
// model reached a terminal state; nothing is delivered afterwards.
func (s *StreamSession) Events() <-chan Event {
	return s.events
}

// Cancel closes every open provider connection and returns once the
// session has drained, or after the grace period if a provider fails to
// observe cancellation in time.
func (s *StreamSession) Cancel() {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(s.grace):
		// Unblock any worker stuck sending so the stream can close.
		s.stopOnce.Do(func() { close(s.stop) })
		<-s.done
	}
}

// Wait blocks until the session reached a terminal state.
func (s *StreamSession) Wait() {
	<-s.done
}

// Output returns the text accumulated so far for one model. Partial
// output survives failure and cancellation.
func (s *StreamSession) Output(modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.outputs[modelID]
	if !ok {
		return ""
	}
	return b.String()
}

// ModelState returns the current lifecycle state of one model stream.
func (s *StreamSession) ModelState(modelID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[modelID]
}

// Warnings reports non-fatal degradation, such as an unreachable
// retrieval index.
func (s *StreamSession) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *StreamSession) emit(event Event) {
	select {
	case <-s.stop:
	case s.events <- event:
	}
}

func (s *StreamSession) appendOutput(modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.outputs[modelID]
	if !ok {
		b = &strings.Builder{}
		s.outputs[modelID] = b
	}
	b.WriteString(text)
}

func (s *StreamSession) setState(modelID string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[modelID] = state
}

func (s *StreamSession) addWarnings(warnings []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, warnings...)
}

func (s *StreamSession) finish() {
	close(s.events)
	close(s.done)
}
