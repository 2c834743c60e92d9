package search

import (
	"github.com/soundprediction/interrogato/pkg/utils"
)

// Callbacks receives progress notifications during a search. Implementations
// need not be complete; embed NopCallbacks to pick up no-op defaults. A
// callback that returns an error or panics never aborts the search.
type Callbacks interface {
	// OnContextBuilt fires once the context for a call has been assembled.
	OnContextBuilt(result *ContextBuilderResult)

	// OnMapStart / OnMapEnd bracket the global map phase. batches is the
	// number of map units; responses holds each unit's raw model output,
	// empty string for a failed unit.
	OnMapStart(batches int)
	OnMapEnd(responses []string)

	// OnReduceStart / OnReduceEnd bracket the final synthesis call.
	OnReduceStart(pointsContext string)
	OnReduceEnd(response string)

	// OnLLMNewToken fires for each delta of a streamed generation, in order.
	OnLLMNewToken(token string)

	// OnError reports a failure before it is attached to the SearchResult.
	OnError(err error)
}

// NopCallbacks implements Callbacks with no-ops.
type NopCallbacks struct{}

func (NopCallbacks) OnContextBuilt(*ContextBuilderResult) {}
func (NopCallbacks) OnMapStart(int)                       {}
func (NopCallbacks) OnMapEnd([]string)                    {}
func (NopCallbacks) OnReduceStart(string)                 {}
func (NopCallbacks) OnReduceEnd(string)                   {}
func (NopCallbacks) OnLLMNewToken(string)                 {}
func (NopCallbacks) OnError(error)                        {}

// safeCallbacks shields the search from misbehaving callback code. Every
// hook runs under a recover so a callback panic cannot abort the call.
type safeCallbacks struct {
	inner Callbacks
}

func wrapCallbacks(cb Callbacks) safeCallbacks {
	if cb == nil {
		cb = NopCallbacks{}
	}
	return safeCallbacks{inner: cb}
}

func (s safeCallbacks) OnContextBuilt(result *ContextBuilderResult) {
	defer utils.Swallow()
	s.inner.OnContextBuilt(result)
}

func (s safeCallbacks) OnMapStart(batches int) {
	defer utils.Swallow()
	s.inner.OnMapStart(batches)
}

func (s safeCallbacks) OnMapEnd(responses []string) {
	defer utils.Swallow()
	s.inner.OnMapEnd(responses)
}

func (s safeCallbacks) OnReduceStart(pointsContext string) {
	defer utils.Swallow()
	s.inner.OnReduceStart(pointsContext)
}

func (s safeCallbacks) OnReduceEnd(response string) {
	defer utils.Swallow()
	s.inner.OnReduceEnd(response)
}

func (s safeCallbacks) OnLLMNewToken(token string) {
	defer utils.Swallow()
	s.inner.OnLLMNewToken(token)
}

func (s safeCallbacks) OnError(err error) {
	defer utils.Swallow()
	s.inner.OnError(err)
}
