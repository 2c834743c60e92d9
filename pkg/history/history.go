// Package history manages the conversation turns of a user session and
// renders them into a token-budgeted context block for prompting.
package history

import (
	"fmt"
	"strings"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

// Turn is one conversation message. Immutable once appended.
type Turn struct {
	Role    types.Role
	Content string
	// Index is the ordinal position within the conversation.
	Index int
}

// QATurn pairs one user turn with its following assistant turn (if any).
// It is a formatting view and is never persisted.
type QATurn struct {
	User      Turn
	Assistant *Turn
}

// Format renders the pair as prompt text.
func (q QATurn) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "user: %s\n", q.User.Content)
	if q.Assistant != nil {
		fmt.Fprintf(&sb, "assistant: %s\n", q.Assistant.Content)
	}
	return sb.String()
}

// Conversation is an append-only sequence of turns for one user session.
// It is not safe for concurrent mutation; searches operate on a Snapshot.
type Conversation struct {
	turns []Turn
}

// New creates an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// AddTurn appends a turn. The role must be one of system, user, assistant.
func (c *Conversation) AddTurn(role types.Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", types.ErrInvalidRole, role)
	}
	c.turns = append(c.turns, Turn{Role: role, Content: content, Index: len(c.turns)})
	return nil
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of the turn sequence.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Snapshot returns an independent copy for use by a single search call, so
// the caller may keep appending turns while the search runs.
func (c *Conversation) Snapshot() *Conversation {
	if c == nil {
		return nil
	}
	return &Conversation{turns: c.Turns()}
}

// QATurns converts the conversation to ordered QA pairs. System turns are
// skipped; an assistant turn is attached to the preceding user turn, and a
// trailing user turn yields a pair with no answer.
func (c *Conversation) QATurns() []QATurn {
	if c == nil {
		return nil
	}
	var pairs []QATurn
	for i := 0; i < len(c.turns); i++ {
		turn := c.turns[i]
		if turn.Role != types.RoleUser {
			continue
		}
		pair := QATurn{User: turn}
		if i+1 < len(c.turns) && c.turns[i+1].Role == types.RoleAssistant {
			assistant := c.turns[i+1]
			pair.Assistant = &assistant
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// BuildContext renders the conversation under a token budget. With recency
// bias, pairs are taken newest-first and the rendered text keeps
// chronological order; without it, pairs are taken oldest-first. A pair that
// would overflow the budget is dropped whole — no mid-pair truncation.
// Returns the empty string for an empty history or a non-positive budget.
func (c *Conversation) BuildContext(counter nlp.TokenCounter, maxTokens int, recencyBias bool) string {
	pairs := c.QATurns()
	if len(pairs) == 0 || maxTokens <= 0 {
		return ""
	}

	var included []QATurn
	budget := maxTokens

	if recencyBias {
		for i := len(pairs) - 1; i >= 0; i-- {
			cost := counter.CountTokens(pairs[i].Format())
			if cost > budget {
				break
			}
			budget -= cost
			included = append([]QATurn{pairs[i]}, included...)
		}
	} else {
		for i := 0; i < len(pairs); i++ {
			cost := counter.CountTokens(pairs[i].Format())
			if cost > budget {
				break
			}
			budget -= cost
			included = append(included, pairs[i])
		}
	}

	var sb strings.Builder
	for _, pair := range included {
		sb.WriteString(pair.Format())
	}
	return sb.String()
}
