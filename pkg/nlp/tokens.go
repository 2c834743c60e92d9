package nlp

import (
	"strings"
	"unicode"

	"github.com/soundprediction/interrogato/pkg/types"
)

// TokenCounter provides token counting functionality. Context builders use
// it to keep assembled text within a budget, and strategies use it to fill
// in usage numbers for providers that do not report them.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimatingTokenCounter provides a basic token counting implementation.
// This is an approximation; swap in a model-specific tokenizer when exact
// budgets matter.
type EstimatingTokenCounter struct{}

// NewEstimatingTokenCounter creates a new estimating token counter.
func NewEstimatingTokenCounter() *EstimatingTokenCounter {
	return &EstimatingTokenCounter{}
}

// CountTokens estimates token count using a simple word-based approach.
func (c *EstimatingTokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	tokenCount := 0
	for _, word := range words {
		if strings.TrimSpace(word) != "" {
			tokenCount++
		}
	}

	// Tokens run roughly 1.3x words for English once subword splits and
	// special tokens are included.
	return int(float64(tokenCount) * 1.3)
}

// CountMessageTokens estimates tokens for a message sequence, including a
// small per-message formatting overhead.
func CountMessageTokens(counter TokenCounter, messages []types.Message) int {
	total := 0
	for _, msg := range messages {
		total += counter.CountTokens(msg.Content)
		total += 4
	}
	return total
}
