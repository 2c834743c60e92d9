package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/search"
	"github.com/soundprediction/interrogato/pkg/types"
)

// QueryEngine is the slice of the engine the server needs.
type QueryEngine interface {
	Search(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (*search.SearchResult, error)
	StreamSearch(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (<-chan search.StreamEvent, error)
}

// TurnRequest is one prior conversation turn supplied by the caller.
type TurnRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query      string        `json:"query" binding:"required"`
	SearchType string        `json:"search_type"`
	History    []TurnRequest `json:"history,omitempty"`
}

// SearchHandler serves the search endpoints.
type SearchHandler struct {
	engine QueryEngine
	logger *slog.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(engine QueryEngine, logger *slog.Logger) *SearchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandler{engine: engine, logger: logger}
}

func (h *SearchHandler) parseRequest(c *gin.Context) (*SearchRequest, search.SearchType, *history.Conversation, bool) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, "", nil, false
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query cannot be empty"})
		return nil, "", nil, false
	}

	searchType := search.SearchType(req.SearchType)
	if req.SearchType == "" {
		searchType = search.LocalSearchType
	}
	if !searchType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown search type: " + req.SearchType})
		return nil, "", nil, false
	}

	var conv *history.Conversation
	if len(req.History) > 0 {
		conv = history.New()
		for _, turn := range req.History {
			if err := conv.AddTurn(types.Role(turn.Role), turn.Content); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return nil, "", nil, false
			}
		}
	}
	return &req, searchType, conv, true
}

// Search handles POST /api/v1/search
func (h *SearchHandler) Search(c *gin.Context) {
	req, searchType, conv, ok := h.parseRequest(c)
	if !ok {
		return
	}

	result, err := h.engine.Search(c.Request.Context(), searchType, req.Query, conv)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.Failed {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StreamSearch handles POST /api/v1/search/stream, delivering response
// deltas as server-sent events and the final result as a terminal event.
func (h *SearchHandler) StreamSearch(c *gin.Context) {
	req, searchType, conv, ok := h.parseRequest(c)
	if !ok {
		return
	}

	events, err := h.engine.StreamSearch(c.Request.Context(), searchType, req.Query, conv)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		event, open := <-events
		if !open {
			return false
		}
		if event.Err != nil {
			c.SSEvent("error", gin.H{"error": event.Err.Error()})
			return false
		}
		if event.Final != nil {
			c.SSEvent("result", event.Final)
			return false
		}
		c.SSEvent("delta", gin.H{"content": event.Delta})
		return true
	})
}
