package search

import (
	"context"
	"strings"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

// AggregateDeltas joins collected stream deltas into the final response
// text. Split out as a pure function so aggregation is testable apart from
// any live stream.
func AggregateDeltas(deltas []string) string {
	var sb strings.Builder
	for _, delta := range deltas {
		sb.WriteString(delta)
	}
	return sb.String()
}

// streamChat issues a streamed model call, forwarding each delta to the
// event channel and the per-token callback, and returns the aggregated
// response text. The deltas arrive in order; a delta error aborts with that
// error.
func streamChat(ctx context.Context, model nlp.Client, messages []types.Message, events chan<- StreamEvent, callbacks safeCallbacks) (string, error) {
	stream, err := model.ChatStream(ctx, messages)
	if err != nil {
		return "", err
	}

	var deltas []string
	for delta := range stream {
		if delta.Err != nil {
			return "", delta.Err
		}
		if delta.Content == "" {
			continue
		}
		deltas = append(deltas, delta.Content)
		callbacks.OnLLMNewToken(delta.Content)
		select {
		case events <- StreamEvent{Delta: delta.Content}:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return AggregateDeltas(deltas), nil
}
