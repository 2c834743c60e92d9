package nlp

import (
	"context"

	"github.com/soundprediction/interrogato/pkg/types"
)

// StreamDelta is one increment of a streamed chat response. The channel
// carrying deltas is closed when the stream completes; a delta with a
// non-nil Err terminates the stream.
type StreamDelta struct {
	Content string
	Err     error
}

// Client defines the interface for language model operations.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, messages []types.Message) (*types.Response, error)

	// ChatStream sends a chat completion request and returns a channel of
	// token deltas, delivered in order and closed on completion or error.
	// The stream is finite and not restartable.
	ChatStream(ctx context.Context, messages []types.Message) (<-chan StreamDelta, error)

	// Model returns the model identifier requests are issued against.
	Model() string

	// Close cleans up any resources.
	Close() error
}

// Config holds configuration for LLM clients.
type Config struct {
	Model       string   `json:"model"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// BaseURL points at an OpenAI-compatible service when set.
	BaseURL string `json:"base_url,omitempty"`
}

// NewMessage creates a new message with the specified role and content.
func NewMessage(role types.Role, content string) types.Message {
	return types.Message{Role: role, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) types.Message {
	return NewMessage(types.RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) types.Message {
	return NewMessage(types.RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) types.Message {
	return NewMessage(types.RoleAssistant, content)
}
