package nlp

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/interrogato/pkg/types"
)

// CircuitBreakerConfig holds configuration for circuit breaking around a
// model client.
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // seconds
	Timeout          int     `mapstructure:"timeout"`  // seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// CircuitBreakerClient wraps a Client with circuit breaking logic so a
// misbehaving provider sheds load quickly instead of queueing timeouts.
type CircuitBreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewCircuitBreakerClient creates a new circuit breaker client.
func NewCircuitBreakerClient(client Client, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadyToTripRatio <= 0 {
		cfg.ReadyToTripRatio = 0.6
	}

	st := gobreaker.Settings{
		Name:        "nlp-" + client.Model(),
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &CircuitBreakerClient{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		logger: logger,
	}
}

// Chat implements Client.
func (c *CircuitBreakerClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.Chat(ctx, messages)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*types.Response), nil
}

// ChatStream implements Client. The breaker guards stream establishment;
// once open, deltas flow directly.
func (c *CircuitBreakerClient) ChatStream(ctx context.Context, messages []types.Message) (<-chan StreamDelta, error) {
	stream, err := c.cb.Execute(func() (interface{}, error) {
		return c.client.ChatStream(ctx, messages)
	})
	if err != nil {
		return nil, err
	}
	return stream.(<-chan StreamDelta), nil
}

// Model implements Client.
func (c *CircuitBreakerClient) Model() string {
	return c.client.Model()
}

// Close implements Client.
func (c *CircuitBreakerClient) Close() error {
	return c.client.Close()
}
