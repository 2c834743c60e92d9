package search

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

// usageFromResponse builds the usage entry for one model call, estimating
// token counts when the provider did not report them.
func usageFromResponse(counter nlp.TokenCounter, messages []types.Message, resp *types.Response) Usage {
	usage := Usage{LLMCalls: 1}
	if resp != nil && resp.TokensUsed != nil {
		usage.PromptTokens = resp.TokensUsed.PromptTokens
		usage.OutputTokens = resp.TokensUsed.CompletionTokens
		return usage
	}
	usage.PromptTokens = nlp.CountMessageTokens(counter, messages)
	if resp != nil {
		usage.OutputTokens = counter.CountTokens(resp.Content)
	}
	return usage
}

// repairJSON extracts and repairs the first JSON object or array in a model
// response. Models wrap JSON in prose or markdown fences often enough that
// parsing the raw content directly is a losing strategy.
func repairJSON(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if start := strings.IndexAny(trimmed, "{["); start > 0 {
		trimmed = trimmed[start:]
	}
	return jsonrepair.JSONRepair(trimmed)
}

// mapPoint is one scored key point emitted by a map-phase call.
type mapPoint struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// parseMapPoints parses a map-phase response into key points. A response
// that cannot be parsed yields zero points; malformed model output is never
// escalated and never retried.
func parseMapPoints(content string) []mapPoint {
	repaired, err := repairJSON(content)
	if err != nil {
		return nil
	}
	var envelope struct {
		Points []mapPoint `json:"points"`
	}
	if err := json.Unmarshal([]byte(repaired), &envelope); err != nil {
		// Some models emit the bare array instead of the envelope.
		var points []mapPoint
		if err := json.Unmarshal([]byte(repaired), &points); err != nil {
			return nil
		}
		return points
	}
	return envelope.Points
}

// parseRelevanceScore parses the integer rating emitted by the relevance
// prompt. Unparseable ratings default to 0.
func parseRelevanceScore(content string) int {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 {
		return 0
	}
	score, err := strconv.Atoi(strings.Trim(fields[0], ".,"))
	if err != nil {
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// normalizeQuery canonicalizes a sub-query for visited-action dedup.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// truncateToTokens trims whole lines from the end of text until it fits the
// budget.
func truncateToTokens(counter nlp.TokenCounter, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if counter.CountTokens(text) <= maxTokens {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 0 {
		lines = lines[:len(lines)-1]
		candidate := strings.Join(lines, "\n")
		if counter.CountTokens(candidate) <= maxTokens {
			return candidate
		}
	}
	return ""
}
