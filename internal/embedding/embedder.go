// Package embedding turns text into vectors via a remote embedding service.
package embedding

import (
	"context"
	"errors"
)

// ErrService is returned when the embedding backend cannot produce vectors,
// whether from network failure, a non-2xx response, or a malformed reply.
var ErrService = errors.New("embedding service unavailable")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
