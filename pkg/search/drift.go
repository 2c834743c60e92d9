package search

import (
	"context"
	"encoding/json"
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

// DriftConfig tunes the iterative decomposition loop on top of the shared
// context settings.
type DriftConfig struct {
	Context ContextConfig `json:"context" mapstructure:"context"`

	// MaxIterations bounds the exploration loop.
	MaxIterations int `json:"max_iterations" mapstructure:"max_iterations"`

	// MaxQueueDepth terminates the loop once this many actions are pending.
	MaxQueueDepth int `json:"max_queue_depth" mapstructure:"max_queue_depth"`

	// FanOut is how many pending actions one iteration pops and explores
	// concurrently.
	FanOut int `json:"fan_out" mapstructure:"fan_out"`
}

// DefaultDriftConfig returns the default drift settings.
func DefaultDriftConfig() DriftConfig {
	return DriftConfig{
		Context:       DefaultContextConfig(),
		MaxIterations: 3,
		MaxQueueDepth: 20,
		FanOut:        1,
	}
}

func (c DriftConfig) withDefaults() DriftConfig {
	c.Context = c.Context.withDefaults()
	if c.MaxIterations <= 0 {
		c.MaxIterations = 3
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 20
	}
	if c.FanOut <= 0 {
		c.FanOut = 1
	}
	return c
}

// driftAction is one follow-up sub-query proposed by the primer or an
// exploration step.
type driftAction struct {
	Query  string
	Score  float64
	Answer string

	// followUps and exploredUsage are filled by explore and consumed by the
	// loop once the iteration's batch has been collected.
	followUps     []driftAction
	exploredUsage Usage
}

// driftState accumulates the loop's shared bookkeeping: pending actions,
// visited sub-queries, and completed answers. One state per search call, so
// no locking is needed outside the per-iteration fan-out.
type driftState struct {
	pending   []driftAction
	visited   map[string]bool
	completed []driftAction
}

func newDriftState() *driftState {
	return &driftState{visited: map[string]bool{}}
}

// enqueue adds actions that have not been visited and are not already
// pending, up to the queue-depth limit.
func (s *driftState) enqueue(actions []driftAction, maxDepth int) {
	for _, action := range actions {
		normalized := normalizeQuery(action.Query)
		if normalized == "" || s.visited[normalized] || s.isPending(normalized) {
			continue
		}
		if len(s.pending) >= maxDepth {
			return
		}
		s.pending = append(s.pending, action)
	}
}

func (s *driftState) isPending(normalized string) bool {
	for _, action := range s.pending {
		if normalizeQuery(action.Query) == normalized {
			return true
		}
	}
	return false
}

// pop removes and returns the n highest-priority pending actions, marking
// them visited. Ties keep enqueue order.
func (s *driftState) pop(n int) []driftAction {
	sort.SliceStable(s.pending, func(i, j int) bool {
		return s.pending[i].Score > s.pending[j].Score
	})
	if n > len(s.pending) {
		n = len(s.pending)
	}
	popped := s.pending[:n]
	s.pending = s.pending[n:]
	for _, action := range popped {
		s.visited[normalizeQuery(action.Query)] = true
	}
	return popped
}

// DriftSearch decomposes a question into follow-up sub-queries and explores
// them before synthesizing the answer. Three phases: a priming call over
// community summaries proposes initial actions, a bounded loop explores
// actions with fresh local context per sub-query, and a reduce call merges
// the accumulated answers.
type DriftSearch struct {
	model     nlp.Client
	builder   *DriftContextBuilder
	counter   nlp.TokenCounter
	config    DriftConfig
	callbacks safeCallbacks
	logger    *slog.Logger
}

// NewDriftSearch creates a drift search strategy.
func NewDriftSearch(model nlp.Client, builder *DriftContextBuilder, counter nlp.TokenCounter, config DriftConfig, callbacks Callbacks, logger *slog.Logger) *DriftSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &DriftSearch{
		model:     model,
		builder:   builder,
		counter:   counter,
		config:    config.withDefaults(),
		callbacks: wrapCallbacks(callbacks),
		logger:    logger,
	}
}

// Type implements Searcher.
func (s *DriftSearch) Type() SearchType { return DriftSearchType }

// Search implements Searcher.
func (s *DriftSearch) Search(ctx context.Context, query string, conv *history.Conversation) *SearchResult {
	start := time.Now()
	result := newSearchResult(DriftSearchType)
	snapshot := conv.Snapshot()

	findings, err := s.decompose(ctx, query, result)
	if err != nil {
		s.callbacks.OnError(err)
		result.CompletionTime = time.Since(start)
		return result.fail(err.Error())
	}

	messages := s.reduceMessages(findings, snapshot, query)
	s.callbacks.OnReduceStart(findings)
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

// StreamSearch implements Searcher. Priming and exploration run unstreamed;
// only the reduce call streams tokens.
func (s *DriftSearch) StreamSearch(ctx context.Context, query string, conv *history.Conversation) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	snapshot := conv.Snapshot()
	go func() {
		defer close(events)
		start := time.Now()
		result := newSearchResult(DriftSearchType)

		findings, err := s.decompose(ctx, query, result)
		if err != nil {
			s.callbacks.OnError(err)
			result.CompletionTime = time.Since(start)
			events <- StreamEvent{Final: result.fail(err.Error()), Err: err}
			return
		}

		messages := s.reduceMessages(findings, snapshot, query)
		s.callbacks.OnReduceStart(findings)
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

// primerResponse is the JSON shape the priming call is asked for.
type primerResponse struct {
	IntermediateAnswer string          `json:"intermediate_answer"`
	Score              float64         `json:"score"`
	FollowUpQueries    []followUpQuery `json:"follow_up_queries"`
}

// exploreResponse is the JSON shape each exploration call is asked for.
type exploreResponse struct {
	Response        string          `json:"response"`
	Score           float64         `json:"score"`
	FollowUpQueries []followUpQuery `json:"follow_up_queries"`
}

type followUpQuery struct {
	Query string  `json:"query"`
	Score float64 `json:"score"`
}

// decompose runs the priming call and the exploration loop, filling the
// result's action table, and returns the findings context for the reduce
// call.
func (s *DriftSearch) decompose(ctx context.Context, query string, result *SearchResult) (string, error) {
	state := newDriftState()

	primerAnswer, err := s.prime(ctx, query, result, state)
	if err != nil {
		return "", err
	}

	for iteration := 0; iteration < s.config.MaxIterations; iteration++ {
		if len(state.pending) == 0 {
			break
		}
		batch := state.pop(s.config.FanOut)
		explored, errs := utils.MapItems(ctx, s.config.FanOut, batch, func(ctx context.Context, action driftAction) (driftAction, error) {
			return s.explore(ctx, action)
		})
		if ctx.Err() != nil {
			return "", fmt.Errorf("exploration aborted: %w", ctx.Err())
		}
		for i, action := range explored {
			if errs[i] != nil {
				// A failed action contributes nothing; the loop continues.
				s.logger.Warn("drift action failed", "query", batch[i].Query, "error", errs[i])
				s.callbacks.OnError(errs[i])
				continue
			}
			result.addUsage(PhaseExplore, action.exploredUsage)
			state.completed = append(state.completed, action)
			state.enqueue(action.followUps, s.config.MaxQueueDepth)
		}
		if len(state.pending) >= s.config.MaxQueueDepth {
			s.logger.Debug("drift queue depth reached, stopping", "pending", len(state.pending))
			break
		}
	}

	return s.findings(primerAnswer, result, state), nil
}

// prime issues the priming call over the community-summary digest and seeds
// the action queue. A primer whose JSON cannot be parsed degrades to a plain
// intermediate answer with no follow-up actions.
func (s *DriftSearch) prime(ctx context.Context, query string, result *SearchResult, state *driftState) (string, error) {
	built, err := s.builder.PrimerContext(ctx, s.config.Context)
	if err != nil {
		return "", fmt.Errorf("drift primer context build failed: %w", err)
	}
	result.addUsage(PhaseContext, built.Usage)
	s.callbacks.OnContextBuilt(built)
	result.ContextText = built.ContextText()
	result.ContextData = built.Records

	messages := prompts.DriftPrimerMessages(result.ContextText, query)
	resp, err := s.model.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("drift primer failed: %w", err)
	}
	result.addUsage(PhasePrimer, usageFromResponse(s.counter, messages, resp))

	var primer primerResponse
	if repaired, err := repairJSON(resp.Content); err == nil {
		if err := json.Unmarshal([]byte(repaired), &primer); err != nil {
			primer = primerResponse{IntermediateAnswer: resp.Content}
		}
	} else {
		primer = primerResponse{IntermediateAnswer: resp.Content}
	}

	actions := make([]driftAction, 0, len(primer.FollowUpQueries))
	for _, follow := range primer.FollowUpQueries {
		actions = append(actions, driftAction{Query: follow.Query, Score: follow.Score})
	}
	state.enqueue(actions, s.config.MaxQueueDepth)
	return primer.IntermediateAnswer, nil
}

// explore answers one sub-query with fresh local context and returns the
// answered action with its proposed follow-ups and incurred usage attached.
// The caller charges usage and enqueues follow-ups after the iteration's
// batch is collected, so nothing here touches shared state concurrently.
func (s *DriftSearch) explore(ctx context.Context, action driftAction) (driftAction, error) {
	built, err := s.builder.ExploreContext(ctx, action.Query, s.config.Context)
	if err != nil {
		return action, fmt.Errorf("explore context: %w", err)
	}

	messages := prompts.DriftLocalMessages(built.ContextText(), action.Query)
	resp, err := s.model.Chat(ctx, messages)
	if err != nil {
		return action, fmt.Errorf("explore call: %w", err)
	}
	usage := usageFromResponse(s.counter, messages, resp)
	usage.Add(built.Usage)
	action.exploredUsage = usage

	var parsed exploreResponse
	if repaired, err := repairJSON(resp.Content); err == nil {
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			parsed = exploreResponse{Response: resp.Content}
		}
	} else {
		parsed = exploreResponse{Response: resp.Content}
	}
	action.Answer = parsed.Response
	if parsed.Score > 0 {
		action.Score = parsed.Score
	}
	for _, follow := range parsed.FollowUpQueries {
		action.followUps = append(action.followUps, driftAction{Query: follow.Query, Score: follow.Score})
	}
	return action, nil
}

// findings renders the primer answer and the exploration answers as the
// reduce input, and records the action table on the result.
func (s *DriftSearch) findings(primerAnswer string, result *SearchResult, state *driftState) string {
	var sb strings.Builder
	if primerAnswer != "" {
		fmt.Fprintf(&sb, "-----Preliminary answer-----\n%s\n\n", primerAnswer)
	}
	for _, action := range state.completed {
		fmt.Fprintf(&sb, "-----Finding (score %.2f)-----\nSub-query: %s\nAnswer: %s\n\n", action.Score, action.Query, action.Answer)
		result.ContextData["actions"] = append(result.ContextData["actions"], map[string]string{
			"query":  action.Query,
			"answer": action.Answer,
			"score":  fmt.Sprintf("%.2f", action.Score),
		})
	}
	return strings.TrimSpace(sb.String())
}

func (s *DriftSearch) reduceMessages(findings string, conv *history.Conversation, query string) []types.Message {
	historyText := ""
	if s.config.Context.IncludeHistory && conv != nil {
		historyText = conv.BuildContext(s.counter, s.config.Context.HistoryMaxTokens, true)
	}
	return prompts.DriftReduceMessages(findings, historyText, query)
}
