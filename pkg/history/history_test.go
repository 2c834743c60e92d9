package history

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/types"
)

func conversationOf(t *testing.T, exchanges ...[2]string) *Conversation {
	t.Helper()
	c := New()
	for _, ex := range exchanges {
		require.NoError(t, c.AddTurn(types.RoleUser, ex[0]))
		require.NoError(t, c.AddTurn(types.RoleAssistant, ex[1]))
	}
	return c
}

func TestAddTurn(t *testing.T) {
	c := New()

	t.Run("rejects invalid role", func(t *testing.T) {
		err := c.AddTurn(types.Role("narrator"), "hello")
		assert.ErrorIs(t, err, types.ErrInvalidRole)
		assert.Zero(t, c.Len())
	})

	t.Run("appends valid turns in order", func(t *testing.T) {
		require.NoError(t, c.AddTurn(types.RoleUser, "first"))
		require.NoError(t, c.AddTurn(types.RoleAssistant, "second"))
		turns := c.Turns()
		require.Len(t, turns, 2)
		assert.Equal(t, 0, turns[0].Index)
		assert.Equal(t, 1, turns[1].Index)
	})
}

func TestQATurns(t *testing.T) {
	t.Run("pairs user with following assistant", func(t *testing.T) {
		c := conversationOf(t, [2]string{"q1", "a1"}, [2]string{"q2", "a2"})
		pairs := c.QATurns()
		require.Len(t, pairs, 2)
		assert.Equal(t, "q1", pairs[0].User.Content)
		require.NotNil(t, pairs[0].Assistant)
		assert.Equal(t, "a1", pairs[0].Assistant.Content)
	})

	t.Run("trailing user turn has no answer", func(t *testing.T) {
		c := New()
		require.NoError(t, c.AddTurn(types.RoleUser, "pending"))
		pairs := c.QATurns()
		require.Len(t, pairs, 1)
		assert.Nil(t, pairs[0].Assistant)
	})

	t.Run("system turns are skipped", func(t *testing.T) {
		c := New()
		require.NoError(t, c.AddTurn(types.RoleSystem, "setup"))
		require.NoError(t, c.AddTurn(types.RoleUser, "q"))
		require.NoError(t, c.AddTurn(types.RoleAssistant, "a"))
		assert.Len(t, c.QATurns(), 1)
	})
}

func TestBuildContext(t *testing.T) {
	counter := nlp.NewEstimatingTokenCounter()

	t.Run("empty history yields empty string", func(t *testing.T) {
		assert.Empty(t, New().BuildContext(counter, 100, true))
	})

	t.Run("stays within budget", func(t *testing.T) {
		c := conversationOf(t,
			[2]string{"what is alpha", "alpha is the first entity in the graph"},
			[2]string{"and beta", "beta follows alpha and links to gamma"},
			[2]string{"who owns gamma", "gamma is owned by the delta community"},
		)
		for _, budget := range []int{5, 15, 40, 1000} {
			text := c.BuildContext(counter, budget, true)
			assert.LessOrEqual(t, counter.CountTokens(text), budget, "budget %d", budget)
		}
	})

	t.Run("recency bias keeps a suffix of the pairs", func(t *testing.T) {
		c := conversationOf(t,
			[2]string{"oldest question", "oldest answer"},
			[2]string{"middle question", "middle answer"},
			[2]string{"newest question", "newest answer"},
		)
		full := c.BuildContext(counter, 1000, true)
		cost := counter.CountTokens(full)

		// A budget for roughly two pairs must keep the newest ones.
		text := c.BuildContext(counter, cost*2/3, true)
		assert.Contains(t, text, "newest question")
		assert.NotContains(t, text, "oldest question")
		// No partial pair: the included text is a contiguous suffix.
		if strings.Contains(text, "middle question") {
			assert.Contains(t, text, "middle answer")
		}
	})

	t.Run("without recency bias keeps a prefix", func(t *testing.T) {
		c := conversationOf(t,
			[2]string{"oldest question", "oldest answer"},
			[2]string{"newest question", "newest answer"},
		)
		full := c.BuildContext(counter, 1000, false)
		text := c.BuildContext(counter, counter.CountTokens(full)/2, false)
		assert.Contains(t, text, "oldest question")
		assert.NotContains(t, text, "newest question")
	})

	t.Run("zero budget yields empty string", func(t *testing.T) {
		c := conversationOf(t, [2]string{"q", "a"})
		assert.Empty(t, c.BuildContext(counter, 0, true))
	})
}

func TestSnapshot(t *testing.T) {
	c := conversationOf(t, [2]string{"q", "a"})
	snap := c.Snapshot()
	require.NoError(t, c.AddTurn(types.RoleUser, "later"))
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, 3, c.Len())

	var nilConv *Conversation
	assert.Nil(t, nilConv.Snapshot())
}
