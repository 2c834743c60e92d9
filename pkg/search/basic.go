package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/prompts"
	"github.com/soundprediction/interrogato/pkg/types"
)

// BasicSearch answers questions from text-unit similarity alone, one
// generation call, no graph traversal.
type BasicSearch struct {
	model     nlp.Client
	builder   *BasicContextBuilder
	counter   nlp.TokenCounter
	config    ContextConfig
	callbacks safeCallbacks
	logger    *slog.Logger
}

// NewBasicSearch creates a basic search strategy.
func NewBasicSearch(model nlp.Client, builder *BasicContextBuilder, counter nlp.TokenCounter, config ContextConfig, callbacks Callbacks, logger *slog.Logger) *BasicSearch {
	if logger == nil {
		logger = slog.Default()
	}
	return &BasicSearch{
		model:     model,
		builder:   builder,
		counter:   counter,
		config:    config.withDefaults(),
		callbacks: wrapCallbacks(callbacks),
		logger:    logger,
	}
}

// Type implements Searcher.
func (s *BasicSearch) Type() SearchType { return BasicSearchType }

// Search implements Searcher.
func (s *BasicSearch) Search(ctx context.Context, query string, conv *history.Conversation) *SearchResult {
	start := time.Now()
	result := newSearchResult(BasicSearchType)

	messages, err := s.prepare(ctx, query, conv.Snapshot(), result)
	if err != nil {
		s.callbacks.OnError(err)
		result.CompletionTime = time.Since(start)
		return result.fail(fmt.Sprintf("basic context build failed: %v", err))
	}

	resp, err := s.model.Chat(ctx, messages)
	if err != nil {
		s.callbacks.OnError(err)
		result.CompletionTime = time.Since(start)
		return result.fail(fmt.Sprintf("generation failed: %v", err))
	}
	result.addUsage(PhaseGenerate, usageFromResponse(s.counter, messages, resp))
	result.Response = resp.Content
	result.CompletionTime = time.Since(start)
	return result
}

// StreamSearch implements Searcher.
func (s *BasicSearch) StreamSearch(ctx context.Context, query string, conv *history.Conversation) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	snapshot := conv.Snapshot()
	go func() {
		defer close(events)
		start := time.Now()
		result := newSearchResult(BasicSearchType)

		messages, err := s.prepare(ctx, query, snapshot, result)
		if err != nil {
			s.callbacks.OnError(err)
			result.CompletionTime = time.Since(start)
			events <- StreamEvent{Final: result.fail(fmt.Sprintf("basic context build failed: %v", err)), Err: err}
			return
		}

		response, err := streamChat(ctx, s.model, messages, events, s.callbacks)
		if err != nil {
			s.callbacks.OnError(err)
			result.CompletionTime = time.Since(start)
			events <- StreamEvent{Final: result.fail(fmt.Sprintf("generation failed: %v", err)), Err: err}
			return
		}
		result.addUsage(PhaseGenerate, Usage{
			LLMCalls:     1,
			PromptTokens: nlp.CountMessageTokens(s.counter, messages),
			OutputTokens: s.counter.CountTokens(response),
		})
		result.Response = response
		result.CompletionTime = time.Since(start)
		events <- StreamEvent{Final: result}
	}()
	return events
}

func (s *BasicSearch) prepare(ctx context.Context, query string, conv *history.Conversation, result *SearchResult) ([]types.Message, error) {
	built, err := s.builder.BuildContext(ctx, query, s.config)
	if err != nil {
		return nil, err
	}
	result.addUsage(PhaseContext, built.Usage)
	s.callbacks.OnContextBuilt(built)

	result.ContextText = built.ContextText()
	result.ContextData = built.Records

	historyText := ""
	if s.config.IncludeHistory && conv != nil {
		historyText = conv.BuildContext(s.counter, s.config.HistoryMaxTokens, true)
	}
	return prompts.BasicSearchMessages(result.ContextText, historyText, query), nil
}
