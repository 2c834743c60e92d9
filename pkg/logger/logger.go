// Package logger provides slog handlers for interrogato, including a
// colored terminal handler that highlights search activity.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// ColorHandler is a slog.Handler that writes human-readable colored lines.
// Warnings render yellow, errors red, and search strategy activity cyan.
type ColorHandler struct {
	opts *slog.HandlerOptions
	mu   *sync.Mutex
	w    io.Writer

	attrs  []slog.Attr
	groups []string
}

// NewColorHandler creates a colored handler writing to w.
func NewColorHandler(w io.Writer, opts *slog.HandlerOptions) *ColorHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ColorHandler{opts: opts, mu: &sync.Mutex{}, w: w}
}

// NewLogger creates a slog.Logger backed by a ColorHandler.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(NewColorHandler(w, opts))
}

// NewDefaultLogger creates a colored logger on stderr at the given level.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(os.Stderr, &slog.HandlerOptions{Level: level})
}

// FromConfig builds a logger from the configured level and format.
// Format "json" uses the standard JSON handler; anything else is colored text.
func FromConfig(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return NewLogger(os.Stderr, opts)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	color := ""
	switch {
	case r.Level >= slog.LevelError:
		color = ansiRed
	case r.Level >= slog.LevelWarn:
		color = ansiYellow
	case highlighted(r.Message):
		color = ansiCyan
	}

	var b strings.Builder
	if color != "" {
		b.WriteString(color)
	}
	b.WriteString(r.Time.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(r.Level.String())
	b.WriteString(" ")
	b.WriteString(r.Message)
	for _, attr := range h.attrs {
		writeAttr(&b, h.groups, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.groups, attr)
		return true
	})
	if color != "" {
		b.WriteString(ansiReset)
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func writeAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	b.WriteString(" ")
	for _, g := range groups {
		b.WriteString(g)
		b.WriteString(".")
	}
	b.WriteString(attr.Key)
	b.WriteString("=")
	b.WriteString(fmt.Sprint(attr.Value.Any()))
}

func highlighted(msg string) bool {
	lower := strings.ToLower(msg)
	for _, keyword := range []string{"search", "map phase", "reduce", "context built"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
