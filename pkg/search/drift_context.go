package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/store"
)

// DriftContextBuilder feeds the drift strategy. The primer step sees a
// digest of community summaries; each exploration step reuses the local
// builder keyed off its generated sub-query.
type DriftContextBuilder struct {
	store   store.KnowledgeStore
	local   *LocalContextBuilder
	counter nlp.TokenCounter
	logger  *slog.Logger
}

// NewDriftContextBuilder creates a drift context builder around an existing
// local builder.
func NewDriftContextBuilder(knowledge store.KnowledgeStore, local *LocalContextBuilder, counter nlp.TokenCounter, logger *slog.Logger) *DriftContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriftContextBuilder{store: knowledge, local: local, counter: counter, logger: logger}
}

// PrimerContext assembles the community-summary digest the priming call
// grounds itself in.
func (b *DriftContextBuilder) PrimerContext(ctx context.Context, config ContextConfig) (*ContextBuilderResult, error) {
	config = config.withDefaults()
	result := &ContextBuilderResult{Records: map[string][]map[string]string{}}

	reports, err := b.store.CommunityReports(ctx, config.CommunityLevel)
	if err != nil {
		return nil, fmt.Errorf("community reports at level %d: %w", config.CommunityLevel, err)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Rank > reports[j].Rank
	})

	rows := make([]map[string]string, 0, len(reports))
	for _, report := range reports {
		rows = append(rows, map[string]string{
			"id":      report.ID,
			"title":   report.Title,
			"summary": report.Summary,
		})
	}
	if chunk, included := recordTable(b.counter, "Community Summaries", []string{"id", "title", "summary"}, rows, config.MaxTokens); chunk != "" {
		result.Chunks = append(result.Chunks, chunk)
		result.Records["reports"] = included
	}

	b.logger.Debug("drift primer context built", "reports", len(result.Records["reports"]))
	return result, nil
}

// ExploreContext builds a fresh local context for one follow-up sub-query.
func (b *DriftContextBuilder) ExploreContext(ctx context.Context, subQuery string, config ContextConfig) (*ContextBuilderResult, error) {
	return b.local.BuildContext(ctx, subQuery, config)
}
