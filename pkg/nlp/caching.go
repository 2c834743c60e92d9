package nlp

import (
	"context"
	"encoding/json"

	"github.com/soundprediction/interrogato/pkg/cache"
	"github.com/soundprediction/interrogato/pkg/types"
)

// CachingClient wraps a Client with a response cache. Cache keys are derived
// deterministically from (model, messages), so identical sub-queries issued
// by concurrent searches resolve to one model call plus cache hits. Races on
// the same key write identical values; last-write-wins is safe.
//
// A cached response reports zero token usage: the call was free.
type CachingClient struct {
	client Client
	store  cache.Cache
}

// NewCachingClient creates a caching wrapper around client.
func NewCachingClient(client Client, store cache.Cache) *CachingClient {
	return &CachingClient{client: client, store: store}
}

// Chat implements Client.
func (c *CachingClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	key := cache.Key(c.client.Model(), messages)

	if raw, ok := c.store.Get(key); ok {
		var resp types.Response
		if err := json.Unmarshal(raw, &resp); err == nil {
			resp.TokensUsed = &types.TokenUsage{}
			return &resp, nil
		}
		// Undecodable entry: fall through and overwrite it.
	}

	resp, err := c.client.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(resp); err == nil {
		_ = c.store.Set(key, raw)
	}
	return resp, nil
}

// ChatStream implements Client. Streams bypass the cache; only complete
// responses are cacheable.
func (c *CachingClient) ChatStream(ctx context.Context, messages []types.Message) (<-chan StreamDelta, error) {
	return c.client.ChatStream(ctx, messages)
}

// Model implements Client.
func (c *CachingClient) Model() string {
	return c.client.Model()
}

// Close implements Client.
func (c *CachingClient) Close() error {
	return c.client.Close()
}
