package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/interrogato/pkg/config"
	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/search"
)

type mockEngine struct {
	lastType  search.SearchType
	lastQuery string
	lastConv  *history.Conversation
	result    *search.SearchResult
	err       error
	events    []search.StreamEvent
}

func (m *mockEngine) Search(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (*search.SearchResult, error) {
	m.lastType = searchType
	m.lastQuery = query
	m.lastConv = conv
	return m.result, m.err
}

func (m *mockEngine) StreamSearch(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (<-chan search.StreamEvent, error) {
	m.lastType = searchType
	m.lastQuery = query
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan search.StreamEvent, len(m.events))
	for _, event := range m.events {
		ch <- event
	}
	close(ch)
	return ch, nil
}

func okResult() *search.SearchResult {
	result := &search.SearchResult{
		Response:   "an answer",
		SearchType: search.LocalSearchType,
	}
	return result
}

func newTestServer(t *testing.T, engine QueryEngine) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Server.Mode = gin.TestMode
	srv := New(cfg, engine, nil)
	srv.Setup()
	return srv
}

// closeNotifyRecorder adds http.CloseNotifier to httptest.ResponseRecorder;
// gin's c.Stream requires it of the ResponseWriter, and a real HTTP/1.x
// server's writer provides it.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return c.closed }

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
	srv.Router().ServeHTTP(rec, req)
	return rec.ResponseRecorder
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, &mockEngine{result: okResult()})

	for _, path := range []string{"/health", "/ready", "/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSearchEndpoint(t *testing.T) {
	t.Run("returns the engine result", func(t *testing.T) {
		engine := &mockEngine{result: okResult()}
		srv := newTestServer(t, engine)

		rec := postJSON(t, srv, "/api/v1/search", SearchRequest{
			Query:      "what is the aurora project",
			SearchType: "local",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var got search.SearchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "an answer", got.Response)
		assert.Equal(t, search.LocalSearchType, engine.lastType)
		assert.Equal(t, "what is the aurora project", engine.lastQuery)
	})

	t.Run("defaults to local search", func(t *testing.T) {
		engine := &mockEngine{result: okResult()}
		srv := newTestServer(t, engine)

		rec := postJSON(t, srv, "/api/v1/search", SearchRequest{Query: "q"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, search.LocalSearchType, engine.lastType)
	})

	t.Run("rejects an empty query", func(t *testing.T) {
		srv := newTestServer(t, &mockEngine{result: okResult()})

		rec := postJSON(t, srv, "/api/v1/search", map[string]string{"query": "   "})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects an unknown search type", func(t *testing.T) {
		srv := newTestServer(t, &mockEngine{result: okResult()})

		rec := postJSON(t, srv, "/api/v1/search", SearchRequest{
			Query:      "q",
			SearchType: "hybrid",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown search type")
	})

	t.Run("forwards conversation history", func(t *testing.T) {
		engine := &mockEngine{result: okResult()}
		srv := newTestServer(t, engine)

		rec := postJSON(t, srv, "/api/v1/search", SearchRequest{
			Query: "and who funds it",
			History: []TurnRequest{
				{Role: "user", Content: "what is the aurora project"},
				{Role: "assistant", Content: "a research effort"},
			},
		})

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, engine.lastConv)
		assert.Equal(t, 2, engine.lastConv.Len())
	})

	t.Run("failed results map to bad gateway", func(t *testing.T) {
		failed := okResult()
		failed.Failed = true
		failed.FailureReason = "generation failed"
		srv := newTestServer(t, &mockEngine{result: failed})

		rec := postJSON(t, srv, "/api/v1/search", SearchRequest{Query: "q"})

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Contains(t, rec.Body.String(), "generation failed")
	})
}

func TestStreamSearchEndpoint(t *testing.T) {
	t.Run("streams deltas then the final result", func(t *testing.T) {
		engine := &mockEngine{
			events: []search.StreamEvent{
				{Delta: "an "},
				{Delta: "answer"},
				{Final: okResult()},
			},
		}
		srv := newTestServer(t, engine)

		rec := postJSON(t, srv, "/api/v1/search/stream", SearchRequest{Query: "q"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.Contains(t, body, "event:delta")
		assert.Contains(t, body, "event:result")
		assert.Contains(t, body, "an answer")
	})

	t.Run("forwards stream errors", func(t *testing.T) {
		engine := &mockEngine{
			events: []search.StreamEvent{
				{Delta: "partial"},
				{Err: context.DeadlineExceeded},
			},
		}
		srv := newTestServer(t, engine)

		rec := postJSON(t, srv, "/api/v1/search/stream", SearchRequest{Query: "q"})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "event:error")
	})

	t.Run("validates before opening the stream", func(t *testing.T) {
		srv := newTestServer(t, &mockEngine{})

		rec := postJSON(t, srv, "/api/v1/search/stream", map[string]string{"query": ""})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
