package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

func newLocalFixture(t *testing.T, respond func(messages []types.Message) (string, error)) (*LocalSearch, *mockModel) {
	t.Helper()
	model := &mockModel{respond: respond}
	counter := nlp.NewEstimatingTokenCounter()
	builder := NewLocalContextBuilder(graphFixture(), &fixedEmbedder{vector: []float32{1, 0}}, counter, nil)
	return NewLocalSearch(model, builder, counter, ContextConfig{}, nil, nil), model
}

func TestLocalSearch(t *testing.T) {
	t.Run("answers with entity context", func(t *testing.T) {
		engine, model := newLocalFixture(t, func(messages []types.Message) (string, error) {
			return "Borealis Lab runs it [Data: Entities (e2)]", nil
		})

		result := engine.Search(context.Background(), "Who runs the Aurora Project?", nil)
		require.False(t, result.Failed, result.FailureReason)
		assert.Equal(t, "Borealis Lab runs it [Data: Entities (e2)]", result.Response)
		assert.Equal(t, LocalSearchType, result.SearchType)
		assert.Equal(t, 1, model.callCount())

		// The prompt context carries the similarity-matched entities.
		assert.Contains(t, result.ContextText, "Aurora Project")
		require.NotEmpty(t, result.ContextData["entities"])
		assert.Equal(t, "e1", result.ContextData["entities"][0]["id"])

		assert.Equal(t, 1, result.Breakdown[PhaseGenerate].LLMCalls)
		assert.Equal(t, Usage{}, result.Breakdown[PhaseContext])
		assertUsageSums(t, result)
		assert.Greater(t, result.CompletionTime.Nanoseconds(), int64(0))
	})

	t.Run("model failure fails the whole request", func(t *testing.T) {
		engine, _ := newLocalFixture(t, func(messages []types.Message) (string, error) {
			return "", errors.New("rate limited")
		})

		result := engine.Search(context.Background(), "Who runs the Aurora Project?", nil)
		require.True(t, result.Failed)
		assert.Contains(t, result.FailureReason, "generation failed")
		assert.Empty(t, result.Response)
	})

	t.Run("history is rendered into the prompt", func(t *testing.T) {
		engine, model := newLocalFixture(t, func(messages []types.Message) (string, error) {
			return "ok", nil
		})
		conv := history.New()
		require.NoError(t, conv.AddTurn(types.RoleUser, "Tell me about Borealis Lab"))
		require.NoError(t, conv.AddTurn(types.RoleAssistant, "It is a research lab."))

		result := engine.Search(context.Background(), "Who leads it?", conv)
		require.False(t, result.Failed)
		require.Equal(t, 1, model.callCount())
		assert.Contains(t, promptText(model.calls[0]), "Tell me about Borealis Lab")
	})

	t.Run("idempotent for a deterministic model", func(t *testing.T) {
		engine, _ := newLocalFixture(t, func(messages []types.Message) (string, error) {
			return "deterministic answer", nil
		})

		first := engine.Search(context.Background(), "Who runs the Aurora Project?", nil)
		second := engine.Search(context.Background(), "Who runs the Aurora Project?", nil)
		require.False(t, first.Failed)
		assert.Equal(t, first.Response, second.Response)
		assert.Equal(t, first.ContextText, second.ContextText)
		assert.Equal(t, first.Breakdown, second.Breakdown)
	})
}

func TestLocalStreamSearch(t *testing.T) {
	engine, _ := newLocalFixture(t, func(messages []types.Message) (string, error) {
		return "a streamed answer about the lab", nil
	})

	events := engine.StreamSearch(context.Background(), "Who runs the Aurora Project?", nil)
	var deltas []string
	var final *SearchResult
	for event := range events {
		if event.Final != nil {
			final = event.Final
			continue
		}
		deltas = append(deltas, event.Delta)
	}

	require.NotNil(t, final)
	require.False(t, final.Failed, final.FailureReason)
	assert.Equal(t, "a streamed answer about the lab", AggregateDeltas(deltas))
	assert.Equal(t, final.Response, AggregateDeltas(deltas))
	assert.Equal(t, 1, final.Breakdown[PhaseGenerate].LLMCalls)
	assertUsageSums(t, final)
}

func TestLocalStreamSearchFailure(t *testing.T) {
	engine, _ := newLocalFixture(t, func(messages []types.Message) (string, error) {
		return "", errors.New("backend down")
	})

	events := engine.StreamSearch(context.Background(), "anything", nil)
	var final *SearchResult
	var streamErr error
	for event := range events {
		if event.Final != nil {
			final = event.Final
			streamErr = event.Err
		}
	}
	require.NotNil(t, final)
	assert.True(t, final.Failed)
	assert.Error(t, streamErr)
}

func TestBasicSearch(t *testing.T) {
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		return "answer from sources [Data: Sources (t1)]", nil
	}}
	counter := nlp.NewEstimatingTokenCounter()
	builder := NewBasicContextBuilder(graphFixture(), &fixedEmbedder{vector: []float32{1, 0}}, counter, nil)
	engine := NewBasicSearch(model, builder, counter, ContextConfig{}, nil, nil)

	result := engine.Search(context.Background(), "What is the Aurora Project?", nil)
	require.False(t, result.Failed, result.FailureReason)
	assert.Equal(t, BasicSearchType, result.SearchType)

	// Text-unit similarity only: the context has sources and no graph tables.
	require.NotEmpty(t, result.ContextData["sources"])
	assert.Empty(t, result.ContextData["entities"])
	assert.Empty(t, result.ContextData["relationships"])
	assert.Equal(t, "t1", result.ContextData["sources"][0]["id"])
	assertUsageSums(t, result)
}

func TestBasicSearchEmbeddingFailureIsFatal(t *testing.T) {
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		return "unused", nil
	}}
	counter := nlp.NewEstimatingTokenCounter()
	builder := NewBasicContextBuilder(graphFixture(), &fixedEmbedder{err: errors.New("embedder offline")}, counter, nil)
	engine := NewBasicSearch(model, builder, counter, ContextConfig{}, nil, nil)

	result := engine.Search(context.Background(), "anything", nil)
	require.True(t, result.Failed)
	assert.Contains(t, result.FailureReason, "context build failed")
	assert.Equal(t, 0, model.callCount())
}
