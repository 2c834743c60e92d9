package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soundprediction/interrogato/pkg/embedder"
	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/store"
)

// BasicContextBuilder assembles context from text-unit similarity alone, with
// no graph traversal. It exists for parity and benchmarking against the
// graph-aware builders.
type BasicContextBuilder struct {
	store    store.KnowledgeStore
	embedder embedder.Client
	counter  nlp.TokenCounter
	logger   *slog.Logger
}

// NewBasicContextBuilder creates a basic context builder.
func NewBasicContextBuilder(knowledge store.KnowledgeStore, embed embedder.Client, counter nlp.TokenCounter, logger *slog.Logger) *BasicContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &BasicContextBuilder{store: knowledge, embedder: embed, counter: counter, logger: logger}
}

// BuildContext runs vector similarity over text units and packs the results
// into the token budget.
func (b *BasicContextBuilder) BuildContext(ctx context.Context, query string, config ContextConfig) (*ContextBuilderResult, error) {
	config = config.withDefaults()
	result := &ContextBuilderResult{Records: map[string][]map[string]string{}}

	budget := config.MaxTokens
	vector, err := b.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	scored, err := b.store.SimilarTextUnits(ctx, vector, config.TopKTextUnits)
	if err != nil {
		return nil, fmt.Errorf("text unit similarity search: %w", err)
	}

	rows := make([]map[string]string, 0, len(scored))
	for _, s := range scored {
		rows = append(rows, map[string]string{"id": s.TextUnit.ID, "text": s.TextUnit.Text})
	}
	if chunk, included := recordTable(b.counter, "Sources", []string{"id", "text"}, rows, budget); chunk != "" {
		result.Chunks = append(result.Chunks, chunk)
		result.Records["sources"] = included
	}

	b.logger.Debug("basic context built", "sources", len(result.Records["sources"]))
	return result, nil
}
