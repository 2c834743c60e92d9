package nlp

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/soundprediction/interrogato/pkg/types"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int
	// InitialDelay is the initial delay before the first retry (default: 1 second)
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 60 seconds)
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryClient wraps an LLM client and adds retry logic with exponential
// backoff. Only transient failures (rate limits, empty responses) are
// retried; context cancellation and other errors propagate immediately.
// Streaming calls are not retried: a stream is finite and not restartable.
type RetryClient struct {
	client Client
	config *RetryConfig
}

// NewRetryClient creates a new retry client wrapper
func NewRetryClient(client Client, config *RetryConfig) *RetryClient {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryClient{client: client, config: config}
}

// Chat implements Client with retries.
func (c *RetryClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.delayFor(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.client.Chat(ctx, messages)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// ChatStream implements Client. The initial connection is retried; an
// in-flight stream failure is not.
func (c *RetryClient) ChatStream(ctx context.Context, messages []types.Message) (<-chan StreamDelta, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.delayFor(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		stream, err := c.client.ChatStream(ctx, messages)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Model implements Client.
func (c *RetryClient) Model() string {
	return c.client.Model()
}

// Close implements Client.
func (c *RetryClient) Close() error {
	return c.client.Close()
}

func (c *RetryClient) delayFor(attempt int) time.Duration {
	delay := float64(c.config.InitialDelay) * math.Pow(c.config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(c.config.MaxDelay) {
		delay = float64(c.config.MaxDelay)
	}
	return time.Duration(delay)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, &RateLimitError{}) ||
		errors.Is(err, &EmptyResponseError{}) ||
		errors.Is(err, ErrRateLimit)
}
