package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherWithResults(t *testing.T) {
	ctx := context.Background()

	t.Run("preserves input order", func(t *testing.T) {
		results, errs := GatherWithResults(ctx, 2,
			func() (int, error) { return 1, nil },
			func() (int, error) { return 2, nil },
			func() (int, error) { return 3, nil },
		)
		require.Len(t, results, 3)
		assert.Equal(t, []int{1, 2, 3}, results)
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})

	t.Run("one failure does not cancel siblings", func(t *testing.T) {
		boom := errors.New("boom")
		results, errs := GatherWithResults(ctx, 2,
			func() (string, error) { return "", boom },
			func() (string, error) { return "ok", nil },
		)
		assert.ErrorIs(t, errs[0], boom)
		assert.NoError(t, errs[1])
		assert.Equal(t, "ok", results[1])
	})

	t.Run("panic becomes PanicError", func(t *testing.T) {
		_, errs := GatherWithResults(ctx, 1,
			func() (int, error) { panic("unexpected") },
		)
		var panicErr *PanicError
		assert.ErrorAs(t, errs[0], &panicErr)
	})

	t.Run("respects concurrency bound", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		fns := make([]func() (int, error), 16)
		for i := range fns {
			fns[i] = func() (int, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				defer inFlight.Add(-1)
				return 0, nil
			}
		}
		GatherWithResults(ctx, 3, fns...)
		assert.LessOrEqual(t, peak.Load(), int32(3))
	})

	t.Run("empty input", func(t *testing.T) {
		results, errs := GatherWithResults[int](ctx, 4)
		assert.Nil(t, results)
		assert.Nil(t, errs)
	})
}

func TestMapItems(t *testing.T) {
	results, errs := MapItems(context.Background(), 2, []string{"a", "bb", "ccc"},
		func(ctx context.Context, item string) (int, error) {
			return len(item), nil
		})
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, results)
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
