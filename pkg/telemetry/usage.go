// Package telemetry persists per-phase usage records of search calls to
// parquet files, for downstream cost and latency dashboards.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/interrogato/pkg/search"
)

// UsageRecord is one phase of one search call.
type UsageRecord struct {
	ID            string    `parquet:"id"`
	SearchID      string    `parquet:"search_id"`
	Timestamp     time.Time `parquet:"timestamp"`
	SearchType    string    `parquet:"search_type"`
	Phase         string    `parquet:"phase"`
	LLMCalls      int       `parquet:"llm_calls"`
	PromptTokens  int       `parquet:"prompt_tokens"`
	OutputTokens  int       `parquet:"output_tokens"`
	CompletionMs  int64     `parquet:"completion_ms"`
	Failed        bool      `parquet:"failed"`
	FailureReason string    `parquet:"failure_reason"`
}

// UsageSink buffers usage records and writes them to timestamped parquet
// files in the output directory. Safe for concurrent use.
type UsageSink struct {
	outputDir string
	mu        sync.Mutex
	buffer    []UsageRecord
	batchSize int
}

// NewUsageSink creates a sink writing under outputDir.
func NewUsageSink(outputDir string) (*UsageSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	return &UsageSink{
		outputDir: outputDir,
		batchSize: 100,
		buffer:    make([]UsageRecord, 0, 100),
	}, nil
}

// Record converts a search result's breakdown into usage records, one per
// phase, sharing a generated search id.
func (s *UsageSink) Record(result *search.SearchResult) error {
	if result == nil {
		return nil
	}
	searchID := uuid.New().String()
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, phase := range []string{search.PhaseContext, search.PhaseMap, search.PhaseReduce, search.PhasePrimer, search.PhaseExplore, search.PhaseGenerate} {
		usage, ok := result.Breakdown[phase]
		if !ok {
			continue
		}
		s.buffer = append(s.buffer, UsageRecord{
			ID:            uuid.New().String(),
			SearchID:      searchID,
			Timestamp:     now,
			SearchType:    string(result.SearchType),
			Phase:         phase,
			LLMCalls:      usage.LLMCalls,
			PromptTokens:  usage.PromptTokens,
			OutputTokens:  usage.OutputTokens,
			CompletionMs:  result.CompletionTime.Milliseconds(),
			Failed:        result.Failed,
			FailureReason: result.FailureReason,
		})
	}
	if len(s.buffer) >= s.batchSize {
		return s.flush()
	}
	return nil
}

// Flush writes any buffered records to a new parquet file.
func (s *UsageSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// Close flushes remaining records.
func (s *UsageSink) Close() error {
	return s.Flush()
}

// flush writes the buffer to a new file. Caller must hold the lock.
func (s *UsageSink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	filename := fmt.Sprintf("search_usage_%s_%d.parquet", time.Now().Format("20060102_150405"), time.Now().UnixNano())
	if err := parquet.WriteFile(filepath.Join(s.outputDir, filename), s.buffer); err != nil {
		return fmt.Errorf("write telemetry parquet file: %w", err)
	}
	s.buffer = s.buffer[:0]
	return nil
}
