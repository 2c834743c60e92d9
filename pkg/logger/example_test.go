package logger_test

import (
	"log/slog"

	"github.com/soundprediction/interrogato/pkg/logger"
)

func ExampleNewDefaultLogger() {
	// Create a logger with default settings
	log := logger.NewDefaultLogger(slog.LevelDebug)

	// Log different levels
	log.Debug("This is a debug message")
	log.Info("This is an info message")
	log.Info("Search context built")      // Will be cyan in terminal
	log.Warn("This is a warning message") // Will be yellow in terminal
	log.Error("This is an error message") // Will be red in terminal
}

func ExampleNewLogger() {
	// Create a logger with custom configuration
	log := logger.NewDefaultLogger(slog.LevelInfo)

	// Log with attributes
	log.Info("Running global search", "batches", 4, "concurrency", 8) // Cyan
	log.Info("Map phase complete", "points", 12, "duration", "1.8s")  // Cyan
	log.Warn("Relevance rating failed, keeping report", "report_id", "c1-3")
	log.Error("Reduce call failed", "error", "timeout", "retry_count", 3) // Red
}
