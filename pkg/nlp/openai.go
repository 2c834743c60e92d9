package nlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/soundprediction/interrogato/pkg/types"
)

// OpenAIClient implements the Client interface for OpenAI's language models.
// Supports OpenAI-compatible services through custom BaseURL configuration.
type OpenAIClient struct {
	client *openai.Client
	config Config
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string, config Config) (*OpenAIClient, error) {
	var client *openai.Client

	if config.BaseURL != "" {
		if err := validateBaseURL(config.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}

		// Some compatible services don't require authentication.
		if apiKey == "" {
			apiKey = "dummy-key"
		}

		clientConfig := openai.DefaultConfig(apiKey)
		clientConfig.BaseURL = config.BaseURL
		if !hasAPIPath(config.BaseURL) {
			clientConfig.BaseURL = config.BaseURL + "/v1"
		}
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(apiKey)
	}

	if config.Model == "" {
		config.Model = openai.GPT4o
	}

	return &OpenAIClient{client: client, config: config}, nil
}

// Model implements Client.
func (c *OpenAIClient) Model() string {
	return c.config.Model
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildChatRequest(messages, false))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewEmptyResponseError("no choices returned from openai")
	}

	choice := resp.Choices[0]
	response := &types.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}

	// Some OpenAI-compatible services do not report usage.
	if resp.Usage.TotalTokens > 0 {
		response.TokensUsed = &types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return response, nil
}

// ChatStream sends a streaming chat completion request. Deltas are forwarded
// in arrival order; the returned channel is closed when the provider stream
// ends or fails.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []types.Message) (<-chan StreamDelta, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildChatRequest(messages, true))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := make(chan StreamDelta, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out <- StreamDelta{Err: classifyOpenAIError(err)}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case out <- StreamDelta{Content: delta}:
				case <-ctx.Done():
					out <- StreamDelta{Err: ctx.Err()}
					return
				}
			}
		}
	}()

	return out, nil
}

// Close implements Client.
func (c *OpenAIClient) Close() error {
	return nil
}

func (c *OpenAIClient) buildChatRequest(messages []types.Message, stream bool) openai.ChatCompletionRequest {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: chatMessages,
		Stream:   stream,
		Stop:     c.config.Stop,
	}
	if c.config.Temperature != nil {
		req.Temperature = *c.config.Temperature
	}
	if c.config.MaxTokens != nil {
		req.MaxTokens = *c.config.MaxTokens
	}
	return req
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return NewRateLimitError(apiErr.Message)
	}
	return fmt.Errorf("openai chat completion failed: %w", err)
}

func validateBaseURL(baseURL string) error {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https scheme, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	return nil
}

func hasAPIPath(baseURL string) bool {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.Contains(parsed.Path, "/v")
}
