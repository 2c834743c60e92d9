package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/prompts"
	"github.com/soundprediction/interrogato/pkg/types"
	"github.com/soundprediction/interrogato/pkg/utils"
)

// GlobalConfig tunes the map-reduce pipeline on top of the shared context
// settings.
type GlobalConfig struct {
	Context ContextConfig `json:"context" mapstructure:"context"`

	// MaxConcurrency bounds the parallel map calls.
	MaxConcurrency int `json:"max_concurrency" mapstructure:"max_concurrency"`

	// ReduceMaxTokens bounds the ranked-points context fed to the reduce
	// call.
	ReduceMaxTokens int `json:"reduce_max_tokens" mapstructure:"reduce_max_tokens"`

	// AllowGeneralKnowledge lets the reduce call mix in annotated facts from
	// outside the dataset.
	AllowGeneralKnowledge bool `json:"allow_general_knowledge" mapstructure:"allow_general_knowledge"`
}

// DefaultGlobalConfig returns the default map-reduce settings.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		Context:         DefaultContextConfig(),
		MaxConcurrency:  utils.GetSemaphoreLimit(),
		ReduceMaxTokens: 2000,
	}
}

func (c GlobalConfig) withDefaults() GlobalConfig {
	c.Context = c.Context.withDefaults()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = utils.GetSemaphoreLimit()
	}
	if c.ReduceMaxTokens <= 0 {
		c.ReduceMaxTokens = 2000
	}
	return c
}

// GlobalSearch answers dataset-wide questions via map-reduce over community
// reports: each batch is analyzed in parallel for scored key points, the
// points are filtered and ranked, and one reduce call synthesizes the final
// answer.
type GlobalSearch struct {
	model     nlp.Client
	builder   *GlobalContextBuilder
	counter   nlp.TokenCounter
	config    GlobalConfig
	callbacks safeCallbacks
	logger    *slog.Logger
}

// NewGlobalSearch creates a global search strategy.
func NewGlobalSearch(model nlp.Client, builder *GlobalContextBuilder, counter nlp.TokenCounter, config GlobalConfig, callbacks Callbacks, logger *slog.Logger) *GlobalSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &GlobalSearch{
		model:     model,
		builder:   builder,
		counter:   counter,
		config:    config.withDefaults(),
		callbacks: wrapCallbacks(callbacks),
		logger:    logger,
	}
}

// Type implements Searcher.
func (s *GlobalSearch) Type() SearchType { return GlobalSearchType }

// mapUnit is the outcome of one map-phase call. A failed or unparseable
// call contributes zero points and the phase proceeds without it.
type mapUnit struct {
	response string
	points   []mapPoint
	usage    Usage
	ok       bool
}

// Search implements Searcher.
func (s *GlobalSearch) Search(ctx context.Context, query string, conv *history.Conversation) *SearchResult {
	start := time.Now()
	result := newSearchResult(GlobalSearchType)
	snapshot := conv.Snapshot()

	pointsContext, err := s.mapPhase(ctx, query, result)
	if err != nil {
		s.callbacks.OnError(err)
		result.CompletionTime = time.Since(start)
		return result.fail(err.Error())
	}

	messages := s.reduceMessages(pointsContext, snapshot, query)
	s.callbacks.OnReduceStart(pointsContext)
	resp, err := s.model.Chat(ctx, messages)
	if err != nil {
		s.callbacks.OnError(err)
		result.CompletionTime = time.Since(start)
		return result.fail(fmt.Sprintf("reduce failed: %v", err))
	}
	result.addUsage(PhaseReduce, usageFromResponse(s.counter, messages, resp))
	s.callbacks.OnReduceEnd(resp.Content)

	result.Response = resp.Content
	result.CompletionTime = time.Since(start)
	return result
}

// StreamSearch implements Searcher. The map phase runs unstreamed; only the
// reduce call streams tokens.
func (s *GlobalSearch) StreamSearch(ctx context.Context, query string, conv *history.Conversation) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	snapshot := conv.Snapshot()
	go func() {
		defer close(events)
		start := time.Now()
		result := newSearchResult(GlobalSearchType)

		pointsContext, err := s.mapPhase(ctx, query, result)
		if err != nil {
			s.callbacks.OnError(err)
			result.CompletionTime = time.Since(start)
			events <- StreamEvent{Final: result.fail(err.Error()), Err: err}
			return
		}

		messages := s.reduceMessages(pointsContext, snapshot, query)
		s.callbacks.OnReduceStart(pointsContext)
		response, err := streamChat(ctx, s.model, messages, events, s.callbacks)
		if err != nil {
			s.callbacks.OnError(err)
			result.CompletionTime = time.Since(start)
			events <- StreamEvent{Final: result.fail(fmt.Sprintf("reduce failed: %v", err)), Err: err}
			return
		}
		result.addUsage(PhaseReduce, Usage{
			LLMCalls:     1,
			PromptTokens: nlp.CountMessageTokens(s.counter, messages),
			OutputTokens: s.counter.CountTokens(response),
		})
		s.callbacks.OnReduceEnd(response)

		result.Response = response
		result.CompletionTime = time.Since(start)
		events <- StreamEvent{Final: result}
	}()
	return events
}

// mapPhase builds the batches, runs the bounded parallel map calls, and
// returns the filtered, ranked, budget-truncated points context. All map
// results are collected before ranking begins.
func (s *GlobalSearch) mapPhase(ctx context.Context, query string, result *SearchResult) (string, error) {
	built, err := s.builder.BuildContext(ctx, query, s.config.Context)
	if err != nil {
		return "", fmt.Errorf("global context build failed: %w", err)
	}
	result.addUsage(PhaseContext, built.Usage)
	s.callbacks.OnContextBuilt(built)
	result.ContextText = built.ContextText()
	result.ContextData = built.Records

	batches := built.Chunks
	s.callbacks.OnMapStart(len(batches))

	functions := make([]func() (mapUnit, error), len(batches))
	for i, batch := range batches {
		batch := batch
		functions[i] = func() (mapUnit, error) {
			messages := prompts.GlobalMapMessages(batch, query)
			resp, err := s.model.Chat(ctx, messages)
			if err != nil {
				// One failed batch degrades the map phase, it does not
				// abort it.
				s.logger.Warn("map batch failed", "error", err)
				s.callbacks.OnError(err)
				return mapUnit{}, nil
			}
			return mapUnit{
				response: resp.Content,
				points:   parseMapPoints(resp.Content),
				usage:    usageFromResponse(s.counter, messages, resp),
				ok:       true,
			}, nil
		}
	}
	units, _ := utils.GatherWithResults(ctx, s.config.MaxConcurrency, functions...)
	if ctx.Err() != nil {
		return "", fmt.Errorf("map phase aborted: %w", ctx.Err())
	}

	responses := make([]string, len(units))
	var points []mapPoint
	for i, unit := range units {
		responses[i] = unit.response
		if unit.ok {
			result.addUsage(PhaseMap, unit.usage)
		}
		for _, point := range unit.points {
			if point.Score > 0 {
				points = append(points, point)
			}
		}
	}
	s.callbacks.OnMapEnd(responses)

	// Stable so tied scores keep batch order then point order.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Score > points[j].Score
	})

	var sb strings.Builder
	for _, point := range points {
		fmt.Fprintf(&sb, "Importance: %.0f. %s\n", point.Score, point.Description)
	}
	return truncateToTokens(s.counter, sb.String(), s.config.ReduceMaxTokens), nil
}

func (s *GlobalSearch) reduceMessages(pointsContext string, conv *history.Conversation, query string) []types.Message {
	historyText := ""
	if s.config.Context.IncludeHistory && conv != nil {
		historyText = conv.BuildContext(s.counter, s.config.Context.HistoryMaxTokens, true)
	}
	return prompts.GlobalReduceMessages(pointsContext, historyText, query, s.config.AllowGeneralKnowledge)
}
