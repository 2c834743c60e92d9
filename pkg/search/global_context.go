package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/prompts"
	"github.com/soundprediction/interrogato/pkg/store"
	"github.com/soundprediction/interrogato/pkg/types"
)

// GlobalContextBuilder selects community reports at a hierarchy level,
// optionally pre-rates their relevance with the model, and partitions them
// into token-budgeted batches. Each chunk of the result is one batch for the
// map phase to consume.
type GlobalContextBuilder struct {
	store   store.KnowledgeStore
	model   nlp.Client
	counter nlp.TokenCounter
	logger  *slog.Logger
}

// NewGlobalContextBuilder creates a global context builder. The model is
// only consulted when relevance rating is enabled.
func NewGlobalContextBuilder(knowledge store.KnowledgeStore, model nlp.Client, counter nlp.TokenCounter, logger *slog.Logger) *GlobalContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GlobalContextBuilder{store: knowledge, model: model, counter: counter, logger: logger}
}

// BuildContext assembles the map batches. History is not rendered here; the
// reduce phase owns history inclusion so that every map batch stays grounded
// in report data alone.
func (b *GlobalContextBuilder) BuildContext(ctx context.Context, query string, config ContextConfig) (*ContextBuilderResult, error) {
	config = config.withDefaults()
	result := &ContextBuilderResult{Records: map[string][]map[string]string{}}

	reports, err := b.store.CommunityReports(ctx, config.CommunityLevel)
	if err != nil {
		return nil, fmt.Errorf("community reports at level %d: %w", config.CommunityLevel, err)
	}

	if config.RateRelevancy && b.model != nil {
		reports, err = b.rateRelevancy(ctx, query, reports, config, &result.Usage)
		if err != nil {
			return nil, err
		}
	}

	// Highest-rated reports first; stable so equal ranks keep table order.
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Rank > reports[j].Rank
	})

	header := "-----Reports-----\nid|title|content|rank\n"
	headerCost := b.counter.CountTokens(header)

	var batch strings.Builder
	batch.WriteString(header)
	batchBudget := config.BatchMaxTokens - headerCost
	batchRows := 0

	flush := func() {
		if batchRows > 0 {
			result.Chunks = append(result.Chunks, batch.String())
		}
		batch.Reset()
		batch.WriteString(header)
		batchBudget = config.BatchMaxTokens - headerCost
		batchRows = 0
	}

	for _, report := range reports {
		content := report.Summary
		if report.FullContent != "" {
			content = report.FullContent
		}
		line := fmt.Sprintf("%s|%s|%s|%.2f\n", report.ID, report.Title, content, report.Rank)
		cost := b.counter.CountTokens(line)
		if cost > config.BatchMaxTokens-headerCost {
			// A single oversized report would never fit any batch.
			b.logger.Warn("community report exceeds batch budget, skipping", "report", report.ID)
			continue
		}
		if cost > batchBudget {
			flush()
		}
		batch.WriteString(line)
		batchBudget -= cost
		batchRows++
		result.Records["reports"] = append(result.Records["reports"], map[string]string{
			"id":      report.ID,
			"title":   report.Title,
			"content": content,
			"rank":    fmt.Sprintf("%.2f", report.Rank),
		})
	}
	flush()

	b.logger.Debug("global context built", "reports", len(result.Records["reports"]), "batches", len(result.Chunks))
	return result, nil
}

// rateRelevancy asks the model to rate each report against the query and
// drops reports below the configured threshold. Rating calls are charged to
// the builder's usage. A failed rating keeps the report; dropping data on a
// transient model error would silently narrow the answer.
func (b *GlobalContextBuilder) rateRelevancy(ctx context.Context, query string, reports []*types.CommunityReport, config ContextConfig, usage *Usage) ([]*types.CommunityReport, error) {
	kept := make([]*types.CommunityReport, 0, len(reports))
	for _, report := range reports {
		text := report.Summary
		if report.FullContent != "" {
			text = report.FullContent
		}
		messages := prompts.RelevanceMessages(text, query)
		resp, err := b.model.Chat(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logger.Warn("relevance rating failed, keeping report", "report", report.ID, "error", err)
			kept = append(kept, report)
			continue
		}
		usage.Add(usageFromResponse(b.counter, messages, resp))
		if parseRelevanceScore(resp.Content) >= config.MinRelevancyScore {
			kept = append(kept, report)
		}
	}
	return kept, nil
}
