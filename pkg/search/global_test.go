package search

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/store"
	"github.com/soundprediction/interrogato/pkg/types"
)

const (
	mapMarker    = "---Analyst reports---"
	reduceMarker = "---Analyst points---"
)

// twoBatchConfig sizes the batch budget so the fixture's ten level-1 reports
// split into exactly two batches of five, community 1 first (it outranks
// community 2).
func twoBatchConfig(t *testing.T, counter nlp.TokenCounter) GlobalConfig {
	t.Helper()
	builder := NewGlobalContextBuilder(graphFixture(), nil, counter, nil)
	built, err := builder.BuildContext(context.Background(), "probe", ContextConfig{BatchMaxTokens: 1 << 20, CommunityLevel: 1})
	require.NoError(t, err)
	require.Len(t, built.Chunks, 1)

	lines := strings.SplitAfter(built.Chunks[0], "\n")
	require.Greater(t, len(lines), 3)
	headerCost := counter.CountTokens(lines[0] + lines[1])
	lineCost := counter.CountTokens(lines[2])

	config := DefaultGlobalConfig()
	config.Context.BatchMaxTokens = headerCost + 5*lineCost + lineCost/2
	return config
}

func TestGlobalSearchMapReduce(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	config := twoBatchConfig(t, counter)

	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		prompt := promptText(messages)
		switch {
		case strings.Contains(prompt, mapMarker):
			if strings.Contains(prompt, "community1") {
				return `{"points": [{"description": "theme A", "score": 80}]}`, nil
			}
			return `{"points": []}`, nil
		case strings.Contains(prompt, reduceMarker):
			return "The main theme is theme A.", nil
		default:
			return "", errors.New("unexpected prompt")
		}
	}}

	builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)
	engine := NewGlobalSearch(model, builder, counter, config, nil, nil)

	result := engine.Search(context.Background(), "What are the main themes?", nil)
	require.False(t, result.Failed, result.FailureReason)
	assert.Equal(t, "The main theme is theme A.", result.Response)

	assert.Equal(t, 2, result.Breakdown[PhaseMap].LLMCalls)
	assert.Equal(t, 1, result.Breakdown[PhaseReduce].LLMCalls)
	assert.Equal(t, 3, result.LLMCalls)
	assertUsageSums(t, result)

	// The reduce prompt carries only the surviving point.
	model.mu.Lock()
	reducePrompt := promptText(model.calls[len(model.calls)-1])
	model.mu.Unlock()
	assert.Contains(t, reducePrompt, "theme A")
	assert.Contains(t, reducePrompt, reduceMarker)
}

func TestGlobalSearchFiltersAndRanksPoints(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	config := twoBatchConfig(t, counter)

	// Batch 1 emits tied and discardable scores, batch 2 a tied score. The
	// reduce input must drop score 0 and keep batch order on ties.
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		prompt := promptText(messages)
		switch {
		case strings.Contains(prompt, mapMarker):
			if strings.Contains(prompt, "community1") {
				return `{"points": [{"description": "first tied point", "score": 50}, {"description": "irrelevant point", "score": 0}, {"description": "second tied point", "score": 50}]}`, nil
			}
			return `{"points": [{"description": "third tied point", "score": 50}, {"description": "top point", "score": 90}]}`, nil
		case strings.Contains(prompt, reduceMarker):
			return "synthesized", nil
		default:
			return "", errors.New("unexpected prompt")
		}
	}}

	builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)
	engine := NewGlobalSearch(model, builder, counter, config, nil, nil)

	result := engine.Search(context.Background(), "What are the main themes?", nil)
	require.False(t, result.Failed, result.FailureReason)

	model.mu.Lock()
	reducePrompt := promptText(model.calls[len(model.calls)-1])
	model.mu.Unlock()

	assert.NotContains(t, reducePrompt, "irrelevant point")
	top := strings.Index(reducePrompt, "top point")
	first := strings.Index(reducePrompt, "first tied point")
	second := strings.Index(reducePrompt, "second tied point")
	third := strings.Index(reducePrompt, "third tied point")
	require.True(t, top >= 0 && first >= 0 && second >= 0 && third >= 0, reducePrompt)
	assert.Less(t, top, first, "highest score first")
	assert.Less(t, first, second, "tied scores keep point order")
	assert.Less(t, second, third, "tied scores keep batch order")
}

func TestGlobalSearchDegradedMapPhase(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	config := twoBatchConfig(t, counter)

	t.Run("malformed json is zero points", func(t *testing.T) {
		model := &mockModel{respond: func(messages []types.Message) (string, error) {
			prompt := promptText(messages)
			if strings.Contains(prompt, mapMarker) {
				if strings.Contains(prompt, "community1") {
					return "sorry, I cannot produce JSON today", nil
				}
				return `{"points": [{"description": "only usable point", "score": 10}]}`, nil
			}
			return "done", nil
		}}
		builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)
		engine := NewGlobalSearch(model, builder, counter, config, nil, nil)

		result := engine.Search(context.Background(), "themes?", nil)
		require.False(t, result.Failed, result.FailureReason)
		// The malformed batch still counts as a map call.
		assert.Equal(t, 2, result.Breakdown[PhaseMap].LLMCalls)
		assertUsageSums(t, result)
	})

	t.Run("one failed batch degrades, not aborts", func(t *testing.T) {
		model := &mockModel{respond: func(messages []types.Message) (string, error) {
			prompt := promptText(messages)
			if strings.Contains(prompt, mapMarker) {
				if strings.Contains(prompt, "community1") {
					return "", errors.New("timeout")
				}
				return `{"points": [{"description": "surviving point", "score": 10}]}`, nil
			}
			return "done", nil
		}}
		builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)
		engine := NewGlobalSearch(model, builder, counter, config, nil, nil)

		result := engine.Search(context.Background(), "themes?", nil)
		require.False(t, result.Failed, result.FailureReason)
		assert.Equal(t, "done", result.Response)
		assert.Equal(t, 1, result.Breakdown[PhaseMap].LLMCalls, "failed batch contributes no usage")

		model.mu.Lock()
		reducePrompt := promptText(model.calls[len(model.calls)-1])
		model.mu.Unlock()
		assert.Contains(t, reducePrompt, "surviving point")
	})
}

func TestGlobalSearchEmptyPointSetStillReduces(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	empty := store.NewMemoryStore(nil, nil, nil, nil, nil, nil)

	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		return "I found no relevant information to answer this question.", nil
	}}
	builder := NewGlobalContextBuilder(empty, model, counter, nil)
	engine := NewGlobalSearch(model, builder, counter, DefaultGlobalConfig(), nil, nil)

	result := engine.Search(context.Background(), "themes?", nil)
	require.False(t, result.Failed, result.FailureReason)
	assert.Equal(t, 0, result.Breakdown[PhaseMap].LLMCalls)
	assert.Equal(t, 1, result.Breakdown[PhaseReduce].LLMCalls)
	assert.Contains(t, result.Response, "no relevant information")
}

func TestGlobalSearchReduceFailureIsFatal(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	config := twoBatchConfig(t, counter)
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		if strings.Contains(promptText(messages), mapMarker) {
			return `{"points": [{"description": "p", "score": 5}]}`, nil
		}
		return "", errors.New("reduce exploded")
	}}
	builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)
	engine := NewGlobalSearch(model, builder, counter, config, nil, nil)

	result := engine.Search(context.Background(), "themes?", nil)
	require.True(t, result.Failed)
	assert.Contains(t, result.FailureReason, "reduce failed")
}

func TestGlobalStreamSearch(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	config := twoBatchConfig(t, counter)
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		if strings.Contains(promptText(messages), mapMarker) {
			return `{"points": [{"description": "theme A", "score": 80}]}`, nil
		}
		return "streamed synthesis about theme A", nil
	}}
	builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)
	engine := NewGlobalSearch(model, builder, counter, config, nil, nil)

	events := engine.StreamSearch(context.Background(), "themes?", nil)
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
	assert.Equal(t, "streamed synthesis about theme A", AggregateDeltas(deltas))
	assert.Equal(t, final.Response, AggregateDeltas(deltas))
	assert.Equal(t, 2, final.Breakdown[PhaseMap].LLMCalls)
	assert.Equal(t, 1, final.Breakdown[PhaseReduce].LLMCalls)
	assertUsageSums(t, final)
}

func TestGlobalContextRelevanceRating(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	// Rate community 1 reports relevant and community 2 reports not.
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		if strings.Contains(promptText(messages), "community1") {
			return "8", nil
		}
		return "0", nil
	}}
	builder := NewGlobalContextBuilder(graphFixture(), model, counter, nil)

	config := DefaultContextConfig()
	config.RateRelevancy = true
	config.MinRelevancyScore = 5
	built, err := builder.BuildContext(context.Background(), "themes?", config)
	require.NoError(t, err)

	require.Len(t, built.Records["reports"], 5)
	for _, row := range built.Records["reports"] {
		assert.Contains(t, row["content"], "community1")
	}
	// Ten rating calls were charged to context building.
	assert.Equal(t, 10, built.Usage.LLMCalls)
}
