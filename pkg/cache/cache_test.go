package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/types"
)

func TestKey(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleSystem, Content: "you are helpful"},
		{Role: types.RoleUser, Content: "hello"},
	}

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Key("gpt-4o", messages), Key("gpt-4o", messages))
	})

	t.Run("model changes key", func(t *testing.T) {
		assert.NotEqual(t, Key("gpt-4o", messages), Key("gpt-4o-mini", messages))
	})

	t.Run("content changes key", func(t *testing.T) {
		other := []types.Message{{Role: types.RoleUser, Content: "goodbye"}}
		assert.NotEqual(t, Key("gpt-4o", messages), Key("gpt-4o", other))
	})
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()

	t.Run("miss on absent key", func(t *testing.T) {
		_, ok := c.Get("nope")
		assert.False(t, ok)
	})

	t.Run("roundtrip", func(t *testing.T) {
		require.NoError(t, c.Set("k", []byte("v")))
		value, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), value)
	})

	t.Run("concurrent same-key writes keep a consistent value", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Set("race", []byte("same"))
			}()
		}
		wg.Wait()
		value, ok := c.Get("race")
		require.True(t, ok)
		assert.Equal(t, []byte("same"), value)
	})
}

func TestBadgerCache(t *testing.T) {
	c, err := NewBadgerCache(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("absent")
	assert.False(t, ok)

	require.NoError(t, c.Set("k", []byte("v")))
	value, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}
