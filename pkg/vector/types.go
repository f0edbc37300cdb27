// Package vector abstracts vector index engines behind one store
// contract. Scores are cosine similarity normalized to [0,1]; backends
// with a different native scale convert at the boundary. Querying an
// empty or missing collection returns an empty result set, not an error.
package vector

import "context"

// Result is one scored match from a vector query.
type Result struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

type Store interface {
	// Upsert inserts or replaces the entry for id within collection.
	// Re-upserting an existing id replaces its vector and payload.
	Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]string) error

	// Query returns up to k results ordered by descending similarity.
	// filter restricts matches to entries whose metadata contains every
	// given key/value pair.
	Query(ctx context.Context, collection string, vec []float32, k int, filter map[string]string) ([]Result, error)

	// Delete removes the entry for id. Deleting a missing id is not an
	// error.
	Delete(ctx context.Context, collection, id string) error

	// DeleteCollection removes a collection and everything in it.
	DeleteCollection(ctx context.Context, collection string) error

	Name() string

	Close() error
}
