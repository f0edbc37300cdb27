package rag

import "fmt"

// IndexUnavailableError reports that one side of the hybrid index could
// not be queried. Retrieval degrades rather than failing the request.
type IndexUnavailableError struct {
	Index      string
	Collection string
	Err        error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("%s index unavailable for collection %q: %v", e.Index, e.Collection, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// PipelineError represents a failure in the chunk/embed/index pipeline.
type PipelineError struct {
	DocumentID string
	Operation  string
	Message    string
	Err        error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[pipeline] %s failed for document %s: %s", e.Operation, e.DocumentID, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ChunkFailure records a per-chunk embedding failure. Sibling chunks in
// the same document continue; callers retry only the failed subset.
type ChunkFailure struct {
	ChunkID string
	Err     error
}

func (f ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %s: %v", f.ChunkID, f.Err)
}
