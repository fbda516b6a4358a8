// Package embeddings provides embedding generation via an external
// TEI/OpenAI-compatible HTTP service.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates the provider returned a vector whose
	// length differs from the dimension fixed by the first successful call.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider generates vector embeddings from text.
//
// The first successful call fixes the dimension for the provider's lifetime;
// any later vector of a different length is an error, never silently coerced.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension, or 0 before the first
	// successful call.
	Dimension() int
}
