package search

import (
	"context"
	"time"

	"github.com/soundprediction/interrogato/pkg/history"
)

// SearchType identifies a query strategy. It is used for dispatch and
// telemetry labeling only; shared code never branches on it.
type SearchType string

const (
	LocalSearchType  SearchType = "local"
	GlobalSearchType SearchType = "global"
	BasicSearchType  SearchType = "basic"
	DriftSearchType  SearchType = "drift"
)

// Valid reports whether the search type is one of the known strategies.
func (s SearchType) Valid() bool {
	switch s {
	case LocalSearchType, GlobalSearchType, BasicSearchType, DriftSearchType:
		return true
	}
	return false
}

// Phase names used in SearchResult.Breakdown.
const (
	PhaseContext  = "context"
	PhaseMap      = "map"
	PhaseReduce   = "reduce"
	PhasePrimer   = "primer"
	PhaseExplore  = "explore"
	PhaseGenerate = "generate"
)

// Usage counts the model traffic attributed to one phase of a search.
type Usage struct {
	LLMCalls     int `json:"llm_calls"`
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.LLMCalls += other.LLMCalls
	u.PromptTokens += other.PromptTokens
	u.OutputTokens += other.OutputTokens
}

// SearchResult is the uniform output envelope produced by every strategy.
// Totals always equal the sum over Breakdown, so downstream cost dashboards
// can rely on either view.
type SearchResult struct {
	// Response is the generated answer. Empty when Failed is set.
	Response string `json:"response"`

	// ContextData holds the named record tables that were fed to the final
	// generation call, e.g. "entities", "relationships", "reports",
	// "sources", "actions".
	ContextData map[string][]map[string]string `json:"context_data,omitempty"`

	// ContextText is the formatted context exactly as prompted.
	ContextText string `json:"context_text,omitempty"`

	SearchType     SearchType    `json:"search_type"`
	CompletionTime time.Duration `json:"completion_time"`

	LLMCalls     int `json:"llm_calls"`
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Breakdown splits the totals by phase name.
	Breakdown map[string]Usage `json:"breakdown"`

	// Failed marks a fatal error. The reason is human-readable; errors never
	// propagate past the API boundary as bare Go errors.
	Failed        bool   `json:"failed,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func newSearchResult(searchType SearchType) *SearchResult {
	return &SearchResult{
		SearchType:  searchType,
		ContextData: map[string][]map[string]string{},
		Breakdown:   map[string]Usage{},
	}
}

// addUsage attributes usage to a phase and keeps the totals in sync.
func (r *SearchResult) addUsage(phase string, usage Usage) {
	entry := r.Breakdown[phase]
	entry.Add(usage)
	r.Breakdown[phase] = entry
	r.LLMCalls += usage.LLMCalls
	r.PromptTokens += usage.PromptTokens
	r.OutputTokens += usage.OutputTokens
}

func (r *SearchResult) fail(reason string) *SearchResult {
	r.Failed = true
	r.FailureReason = reason
	r.Response = ""
	return r
}

// StreamEvent is one increment of a streamed search. Delta carries partial
// response text; the terminal event has Final set and no Delta. An event
// with Err set terminates the stream after a final failed result.
type StreamEvent struct {
	Delta string
	Final *SearchResult
	Err   error
}

// Searcher is the contract every strategy implements. The conversation may
// be nil; when present, each call works on its own snapshot so the caller is
// free to keep appending turns.
type Searcher interface {
	// Search answers the query in one shot. Fatal errors are reported inside
	// the result, never returned as a bare error.
	Search(ctx context.Context, query string, conv *history.Conversation) *SearchResult

	// StreamSearch answers the query incrementally. The channel delivers
	// response deltas in order and is closed after a terminal event carrying
	// the final SearchResult.
	StreamSearch(ctx context.Context, query string, conv *history.Conversation) <-chan StreamEvent

	// Type returns the strategy's search type.
	Type() SearchType
}
