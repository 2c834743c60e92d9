package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/store"
	"github.com/soundprediction/interrogato/pkg/types"
)

// mockModel routes each call through a respond function and records the
// prompts it saw. Safe for the concurrent map and explore phases.
type mockModel struct {
	mu      sync.Mutex
	calls   [][]types.Message
	respond func(messages []types.Message) (string, error)
}

func (m *mockModel) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()
	content, err := m.respond(messages)
	if err != nil {
		return nil, err
	}
	return &types.Response{Content: content, Model: "mock"}, nil
}

func (m *mockModel) ChatStream(ctx context.Context, messages []types.Message) (<-chan nlp.StreamDelta, error) {
	content, err := m.respond(messages)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()
	out := make(chan nlp.StreamDelta, 8)
	go func() {
		defer close(out)
		// Emit in small chunks so aggregation is actually exercised.
		for len(content) > 0 {
			n := 7
			if n > len(content) {
				n = len(content)
			}
			out <- nlp.StreamDelta{Content: content[:n]}
			content = content[n:]
		}
	}()
	return out, nil
}

func (m *mockModel) Model() string { return "mock" }
func (m *mockModel) Close() error  { return nil }

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// promptText flattens a message sequence for substring matching.
func promptText(messages []types.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// fixedEmbedder returns a constant vector for every input.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (e *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *fixedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *fixedEmbedder) Dimensions() int { return len(e.vector) }
func (e *fixedEmbedder) Close() error    { return nil }

// graphFixture builds a small in-memory knowledge graph: three entities, two
// relationships, two text units, one covariate, and two level-1 communities
// with five reports each.
func graphFixture() *store.MemoryStore {
	entities := []*types.Entity{
		{ID: "e1", Title: "Aurora Project", Type: "project", Description: "A research effort into renewable storage.", Rank: 9, TextUnitIDs: []string{"t1"}, Embedding: []float32{1, 0}},
		{ID: "e2", Title: "Borealis Lab", Type: "organization", Description: "The lab running the project.", Rank: 7, TextUnitIDs: []string{"t1", "t2"}, Embedding: []float32{0.9, 0.1}},
		{ID: "e3", Title: "Dr. Chen", Type: "person", Description: "Lead investigator.", Rank: 5, TextUnitIDs: []string{"t2"}, Embedding: []float32{0, 1}},
	}
	relationships := []*types.Relationship{
		{ID: "r1", SourceID: "e1", TargetID: "e2", Description: "run by", Weight: 8},
		{ID: "r2", SourceID: "e2", TargetID: "e3", Description: "employs", Weight: 4},
	}
	textUnits := []*types.TextUnit{
		{ID: "t1", Text: "The Aurora Project is run by Borealis Lab.", Embedding: []float32{1, 0}},
		{ID: "t2", Text: "Dr. Chen leads the Borealis Lab team.", Embedding: []float32{0, 1}},
	}
	covariates := []*types.Covariate{
		{ID: "cv1", SubjectID: "e1", Type: "claim", Extra: map[string]string{"status": "confirmed"}},
	}
	communities := []*types.Community{
		{ID: "c1", Level: 1, EntityIDs: []string{"e1", "e2"}},
		{ID: "c2", Level: 1, EntityIDs: []string{"e3"}},
	}
	var reports []*types.CommunityReport
	for c := 1; c <= 2; c++ {
		for i := 1; i <= 5; i++ {
			reports = append(reports, &types.CommunityReport{
				ID:          fmt.Sprintf("rep-c%d-%d", c, i),
				CommunityID: fmt.Sprintf("c%d", c),
				Title:       fmt.Sprintf("Community %d report %d", c, i),
				Summary:     fmt.Sprintf("community%d finding number %d about the dataset", c, i),
				Rank:        float64(10 - c),
			})
		}
	}
	return store.NewMemoryStore(entities, relationships, textUnits, covariates, communities, reports)
}

func assertUsageSums(t *testing.T, result *SearchResult) {
	t.Helper()
	var total Usage
	for _, usage := range result.Breakdown {
		total.Add(usage)
	}
	assert.Equal(t, total.LLMCalls, result.LLMCalls, "llm call totals")
	assert.Equal(t, total.PromptTokens, result.PromptTokens, "prompt token totals")
	assert.Equal(t, total.OutputTokens, result.OutputTokens, "output token totals")
}

func TestSearchTypeValid(t *testing.T) {
	for _, st := range []SearchType{LocalSearchType, GlobalSearchType, BasicSearchType, DriftSearchType} {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, SearchType("hybrid").Valid())
}

func TestAddUsageKeepsTotalsInSync(t *testing.T) {
	result := newSearchResult(LocalSearchType)
	result.addUsage(PhaseContext, Usage{LLMCalls: 1, PromptTokens: 10, OutputTokens: 2})
	result.addUsage(PhaseGenerate, Usage{LLMCalls: 1, PromptTokens: 30, OutputTokens: 20})
	result.addUsage(PhaseGenerate, Usage{LLMCalls: 1, PromptTokens: 5, OutputTokens: 5})

	assert.Equal(t, 3, result.LLMCalls)
	assert.Equal(t, 45, result.PromptTokens)
	assert.Equal(t, 27, result.OutputTokens)
	assert.Equal(t, Usage{LLMCalls: 2, PromptTokens: 35, OutputTokens: 25}, result.Breakdown[PhaseGenerate])
	assertUsageSums(t, result)
}

func TestAggregateDeltas(t *testing.T) {
	assert.Equal(t, "", AggregateDeltas(nil))
	assert.Equal(t, "hello world", AggregateDeltas([]string{"hel", "lo ", "world"}))
}

func TestParseMapPoints(t *testing.T) {
	t.Run("envelope", func(t *testing.T) {
		points := parseMapPoints(`{"points": [{"description": "theme A", "score": 80}]}`)
		require.Len(t, points, 1)
		assert.Equal(t, "theme A", points[0].Description)
		assert.Equal(t, 80.0, points[0].Score)
	})

	t.Run("bare array", func(t *testing.T) {
		points := parseMapPoints(`[{"description": "x", "score": 5}]`)
		require.Len(t, points, 1)
	})

	t.Run("fenced and truncated json is repaired", func(t *testing.T) {
		points := parseMapPoints("```json\n{\"points\": [{\"description\": \"y\", \"score\": 3}]\n```")
		require.Len(t, points, 1)
		assert.Equal(t, "y", points[0].Description)
	})

	t.Run("prose yields zero points", func(t *testing.T) {
		assert.Empty(t, parseMapPoints("I could not find any relevant points."))
	})
}

func TestParseRelevanceScore(t *testing.T) {
	assert.Equal(t, 7, parseRelevanceScore("7"))
	assert.Equal(t, 7, parseRelevanceScore(" 7.\n"))
	assert.Equal(t, 0, parseRelevanceScore("not a number"))
	assert.Equal(t, 10, parseRelevanceScore("42"))
	assert.Equal(t, 0, parseRelevanceScore(""))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "who runs aurora", normalizeQuery("  Who   Runs\tAurora "))
	assert.Equal(t, normalizeQuery("WHO RUNS AURORA"), normalizeQuery("who runs aurora"))
}

func TestTruncateToTokens(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()
	text := "alpha beta gamma\ndelta epsilon zeta\neta theta iota"
	truncated := truncateToTokens(counter, text, counter.CountTokens(text))
	assert.Equal(t, text, truncated)

	smaller := truncateToTokens(counter, text, counter.CountTokens("alpha beta gamma\ndelta epsilon zeta"))
	assert.Equal(t, "alpha beta gamma\ndelta epsilon zeta", smaller)
	assert.Equal(t, "", truncateToTokens(counter, text, 0))
}

// panicCallbacks blows up in every hook to prove callback failures never
// abort a search.
type panicCallbacks struct{}

func (panicCallbacks) OnContextBuilt(*ContextBuilderResult) { panic("context") }
func (panicCallbacks) OnMapStart(int)                       { panic("map start") }
func (panicCallbacks) OnMapEnd([]string)                    { panic("map end") }
func (panicCallbacks) OnReduceStart(string)                 { panic("reduce start") }
func (panicCallbacks) OnReduceEnd(string)                   { panic("reduce end") }
func (panicCallbacks) OnLLMNewToken(string)                 { panic("token") }
func (panicCallbacks) OnError(error)                        { panic("error") }

func TestCallbackPanicsDoNotAbortSearch(t *testing.T) {
	model := &mockModel{respond: func(messages []types.Message) (string, error) {
		return "an answer", nil
	}}
	counter := nlp.NewEstimatingTokenCounter()
	builder := NewLocalContextBuilder(graphFixture(), &fixedEmbedder{vector: []float32{1, 0}}, counter, nil)
	engine := NewLocalSearch(model, builder, counter, ContextConfig{}, panicCallbacks{}, nil)

	result := engine.Search(context.Background(), "Who runs the Aurora Project?", nil)
	require.False(t, result.Failed, result.FailureReason)
	assert.Equal(t, "an answer", result.Response)
}

func TestSafeCallbacksSwallowErrors(t *testing.T) {
	cb := wrapCallbacks(panicCallbacks{})
	assert.NotPanics(t, func() {
		cb.OnContextBuilt(nil)
		cb.OnMapStart(1)
		cb.OnMapEnd(nil)
		cb.OnReduceStart("")
		cb.OnReduceEnd("")
		cb.OnLLMNewToken("x")
		cb.OnError(errors.New("boom"))
	})
}
