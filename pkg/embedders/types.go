// Package embedders provides embedding providers behind one batch
// interface. Vectors have a fixed dimensionality per model; callers treat
// a batch as atomic and handle partial-failure retry themselves.
package embedders

import "context"

type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector size this embedder produces.
	Dimension() int

	ModelName() string

	Close() error
}
