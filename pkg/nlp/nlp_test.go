package nlp

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/cache"
	"github.com/soundprediction/interrogato/pkg/types"
)

// scriptedClient returns canned responses and counts calls.
type scriptedClient struct {
	calls    atomic.Int32
	failures int
	response string
	err      error
}

func (s *scriptedClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	n := int(s.calls.Add(1))
	if s.err != nil && n <= s.failures {
		return nil, s.err
	}
	return &types.Response{Content: s.response, TokensUsed: &types.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (s *scriptedClient) ChatStream(ctx context.Context, messages []types.Message) (<-chan StreamDelta, error) {
	n := int(s.calls.Add(1))
	if s.err != nil && n <= s.failures {
		return nil, s.err
	}
	out := make(chan StreamDelta, 1)
	out <- StreamDelta{Content: s.response}
	close(out)
	return out, nil
}

func (s *scriptedClient) Model() string { return "scripted" }
func (s *scriptedClient) Close() error  { return nil }

func TestRetryClient(t *testing.T) {
	ctx := context.Background()
	fastRetry := &RetryConfig{MaxRetries: 3, InitialDelay: 1, MaxDelay: 1, BackoffMultiplier: 1}

	t.Run("retries rate limit then succeeds", func(t *testing.T) {
		inner := &scriptedClient{failures: 2, err: NewRateLimitError(), response: "ok"}
		client := NewRetryClient(inner, fastRetry)

		resp, err := client.Chat(ctx, []types.Message{NewUserMessage("hi")})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		inner := &scriptedClient{failures: 10, err: NewRateLimitError(), response: "ok"}
		client := NewRetryClient(inner, fastRetry)

		_, err := client.Chat(ctx, []types.Message{NewUserMessage("hi")})
		assert.ErrorIs(t, err, &RateLimitError{})
		assert.Equal(t, int32(4), inner.calls.Load())
	})

	t.Run("non-retryable error propagates immediately", func(t *testing.T) {
		inner := &scriptedClient{failures: 10, err: context.Canceled}
		client := NewRetryClient(inner, fastRetry)

		_, err := client.Chat(ctx, []types.Message{NewUserMessage("hi")})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), inner.calls.Load())
	})
}

func TestCachingClient(t *testing.T) {
	ctx := context.Background()
	messages := []types.Message{NewUserMessage("what are the main themes?")}

	t.Run("second identical call hits the cache", func(t *testing.T) {
		inner := &scriptedClient{response: "themes"}
		client := NewCachingClient(inner, cache.NewMemoryCache())

		first, err := client.Chat(ctx, messages)
		require.NoError(t, err)
		second, err := client.Chat(ctx, messages)
		require.NoError(t, err)

		assert.Equal(t, first.Content, second.Content)
		assert.Equal(t, int32(1), inner.calls.Load())
		assert.Zero(t, second.TokensUsed.TotalTokens)
	})

	t.Run("different prompt misses", func(t *testing.T) {
		inner := &scriptedClient{response: "x"}
		client := NewCachingClient(inner, cache.NewMemoryCache())

		_, err := client.Chat(ctx, messages)
		require.NoError(t, err)
		_, err = client.Chat(ctx, []types.Message{NewUserMessage("other")})
		require.NoError(t, err)
		assert.Equal(t, int32(2), inner.calls.Load())
	})
}

func TestEstimatingTokenCounter(t *testing.T) {
	counter := NewEstimatingTokenCounter()

	assert.Zero(t, counter.CountTokens(""))
	assert.Greater(t, counter.CountTokens("the quick brown fox"), 0)

	short := counter.CountTokens("one two")
	long := counter.CountTokens("one two three four five six seven")
	assert.Greater(t, long, short)
}

func TestCountMessageTokens(t *testing.T) {
	counter := NewEstimatingTokenCounter()
	messages := []types.Message{
		NewSystemMessage("you are helpful"),
		NewUserMessage("hello there"),
	}
	total := CountMessageTokens(counter, messages)
	assert.Greater(t, total, counter.CountTokens("you are helpful"))
}
