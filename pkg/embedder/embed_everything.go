package embedder

import (
	"context"
	"fmt"

	embeddereverything "github.com/soundprediction/go-embedeverything/pkg/embedder"
)

// EmbedEverythingClient implements the Client interface for EmbedEverything,
// running embedding models locally with no provider round-trip.
type EmbedEverythingClient struct {
	client *embeddereverything.Embedder
	config Config
}

// NewEmbedEverythingClient creates a new EmbedEverything client.
func NewEmbedEverythingClient(config Config) (*EmbedEverythingClient, error) {
	client, err := embeddereverything.NewEmbedder(config.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &EmbedEverythingClient{client: client, config: config}, nil
}

// Embed implements Client.
func (e *EmbedEverythingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	// go-embedeverything does not support context yet
	embeddings, err := e.client.Embed(texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return embeddings, nil
}

// EmbedSingle implements Client.
func (e *EmbedEverythingClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// Dimensions implements Client.
func (e *EmbedEverythingClient) Dimensions() int {
	return e.config.Dimensions
}

// Close implements Client.
func (e *EmbedEverythingClient) Close() error {
	return nil
}
