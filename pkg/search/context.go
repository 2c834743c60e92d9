package search

import (
	"fmt"
	"strings"

	"github.com/soundprediction/interrogato/pkg/nlp"
)

// ContextBuilderResult is the output of one context assembly: ordered text
// blocks ready for prompting, the named record tables actually selected, and
// the model usage incurred while building (relevance rating and the drift
// primer call the model during context construction).
type ContextBuilderResult struct {
	// Chunks are ordered text blocks; for the global builder each chunk is
	// one map batch, for the others they concatenate into a single prompt.
	Chunks []string

	// Records maps table names ("entities", "relationships", "reports",
	// "sources", "covariates") to the rows that made it into Chunks.
	Records map[string][]map[string]string

	// Usage counts model traffic spent during context construction.
	Usage Usage
}

// ContextText joins the chunks into one prompt block.
func (r *ContextBuilderResult) ContextText() string {
	return strings.Join(r.Chunks, "\n\n")
}

// ContextConfig controls how much of each record type a context builder may
// spend its token budget on.
type ContextConfig struct {
	// MaxTokens is the overall budget for the assembled context.
	MaxTokens int `json:"max_tokens" mapstructure:"max_tokens"`

	// TopKEntities and TopKTextUnits bound the similarity lookups.
	TopKEntities  int `json:"top_k_entities" mapstructure:"top_k_entities"`
	TopKTextUnits int `json:"top_k_text_units" mapstructure:"top_k_text_units"`

	// Proportions split MaxTokens across record categories for the local
	// builder. They should sum to 1; each category stops independently at
	// its share.
	EntityProportion       float64 `json:"entity_proportion" mapstructure:"entity_proportion"`
	RelationshipProportion float64 `json:"relationship_proportion" mapstructure:"relationship_proportion"`
	TextUnitProportion     float64 `json:"text_unit_proportion" mapstructure:"text_unit_proportion"`
	CovariateProportion    float64 `json:"covariate_proportion" mapstructure:"covariate_proportion"`

	// CommunityLevel selects which hierarchy level the global and drift
	// builders read reports from.
	CommunityLevel int `json:"community_level" mapstructure:"community_level"`

	// BatchMaxTokens bounds each map batch assembled by the global builder.
	BatchMaxTokens int `json:"batch_max_tokens" mapstructure:"batch_max_tokens"`

	// RateRelevancy enables the LLM relevance pass over community reports
	// before batching.
	RateRelevancy bool `json:"rate_relevancy" mapstructure:"rate_relevancy"`

	// MinRelevancyScore drops reports rated below it when RateRelevancy is
	// on. The rating scale is 0 to 10.
	MinRelevancyScore int `json:"min_relevancy_score" mapstructure:"min_relevancy_score"`

	// IncludeHistory renders the conversation history into the context.
	IncludeHistory   bool `json:"include_history" mapstructure:"include_history"`
	HistoryMaxTokens int  `json:"history_max_tokens" mapstructure:"history_max_tokens"`
}

// DefaultContextConfig returns the budgets used when the caller does not
// override them.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxTokens:              8000,
		TopKEntities:           10,
		TopKTextUnits:          10,
		EntityProportion:       0.3,
		RelationshipProportion: 0.2,
		TextUnitProportion:     0.4,
		CovariateProportion:    0.1,
		CommunityLevel:         1,
		BatchMaxTokens:         8000,
		MinRelevancyScore:      1,
		IncludeHistory:         true,
		HistoryMaxTokens:       2000,
	}
}

func (c ContextConfig) withDefaults() ContextConfig {
	defaults := DefaultContextConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.TopKEntities <= 0 {
		c.TopKEntities = defaults.TopKEntities
	}
	if c.TopKTextUnits <= 0 {
		c.TopKTextUnits = defaults.TopKTextUnits
	}
	if c.EntityProportion+c.RelationshipProportion+c.TextUnitProportion+c.CovariateProportion <= 0 {
		c.EntityProportion = defaults.EntityProportion
		c.RelationshipProportion = defaults.RelationshipProportion
		c.TextUnitProportion = defaults.TextUnitProportion
		c.CovariateProportion = defaults.CovariateProportion
	}
	if c.BatchMaxTokens <= 0 {
		c.BatchMaxTokens = defaults.BatchMaxTokens
	}
	if c.HistoryMaxTokens <= 0 {
		c.HistoryMaxTokens = defaults.HistoryMaxTokens
	}
	return c
}

// recordTable renders rows as a pipe-delimited table under a section header,
// packing whole rows in order until the token budget is exhausted. It
// returns the rendered text and the rows that fit.
func recordTable(counter nlp.TokenCounter, title string, columns []string, rows []map[string]string, maxTokens int) (string, []map[string]string) {
	if len(rows) == 0 || maxTokens <= 0 {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "-----%s-----\n", title)
	sb.WriteString(strings.Join(columns, "|"))
	sb.WriteString("\n")

	budget := maxTokens - counter.CountTokens(sb.String())
	var included []map[string]string
	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = row[col]
		}
		line := strings.Join(cells, "|") + "\n"
		cost := counter.CountTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		sb.WriteString(line)
		included = append(included, row)
	}

	if len(included) == 0 {
		return "", nil
	}
	return sb.String(), included
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}
