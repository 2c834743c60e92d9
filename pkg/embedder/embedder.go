// Package embedder provides text embedding clients used by the context
// builders for similarity search over entities and text units.
package embedder

import "context"

// Client defines the interface for embedding operations.
type Client interface {
	// Embed generates embeddings for the given texts, one vector per input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// Config holds configuration for embedding clients.
type Config struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	BaseURL    string `json:"base_url,omitempty"`
}
