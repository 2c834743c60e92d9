package interrogato

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/interrogato"
	"github.com/soundprediction/interrogato/pkg/config"
	"github.com/soundprediction/interrogato/pkg/logger"
	"github.com/soundprediction/interrogato/pkg/search"
	"github.com/soundprediction/interrogato/pkg/telemetry"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question against the indexed knowledge graph",
	Long: `Run one search against the knowledge graph and print the answer
together with a token usage breakdown.

The --type flag selects the strategy: local, global, basic, or drift.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var (
	querySearchType string
	queryStream     bool
	queryShowCtx    bool
)

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVarP(&querySearchType, "type", "t", "local", "search strategy (local, global, basic, drift)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream the answer as it is generated")
	queryCmd.Flags().BoolVar(&queryShowCtx, "show-context", false, "print the context text that was prompted")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

	searchType := search.SearchType(querySearchType)
	if !searchType.Valid() {
		return fmt.Errorf("unknown search type: %s", querySearchType)
	}

	engine, err := interrogato.NewFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	ctx := cmd.Context()
	defer engine.Close(context.Background())

	var sink *telemetry.UsageSink
	if cfg.Telemetry.Enabled {
		sink, err = telemetry.NewUsageSink(cfg.Telemetry.ParquetPath)
		if err != nil {
			log.Warn("usage telemetry disabled", "error", err)
		} else {
			defer sink.Close()
		}
	}

	result, err := runSearch(ctx, engine, searchType, args[0])
	if err != nil {
		return err
	}
	if sink != nil {
		if err := sink.Record(result); err != nil {
			log.Warn("failed to record usage", "error", err)
		}
	}
	if result.Failed {
		return fmt.Errorf("search failed: %s", result.FailureReason)
	}

	if !queryStream {
		fmt.Println(result.Response)
	}
	if queryShowCtx && result.ContextText != "" {
		fmt.Println("\n--- Context ---")
		fmt.Println(result.ContextText)
	}
	printUsage(result)
	return nil
}

func runSearch(ctx context.Context, engine *interrogato.Engine, searchType search.SearchType, query string) (*search.SearchResult, error) {
	if !queryStream {
		return engine.Search(ctx, searchType, query, nil)
	}

	events, err := engine.StreamSearch(ctx, searchType, query, nil)
	if err != nil {
		return nil, err
	}
	for event := range events {
		switch {
		case event.Err != nil:
			return nil, event.Err
		case event.Final != nil:
			fmt.Println()
			return event.Final, nil
		default:
			fmt.Print(event.Delta)
		}
	}
	return nil, fmt.Errorf("stream ended without a final result")
}

func printUsage(result *search.SearchResult) {
	fmt.Fprintf(os.Stderr, "\n[%s search, %s, %d llm calls, %d prompt tokens, %d output tokens]\n",
		result.SearchType, result.CompletionTime.Round(time.Millisecond),
		result.LLMCalls, result.PromptTokens, result.OutputTokens)

	phases := make([]string, 0, len(result.Breakdown))
	for phase := range result.Breakdown {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		usage := result.Breakdown[phase]
		fmt.Fprintf(os.Stderr, "  %-10s calls=%d prompt=%d output=%d\n",
			phase, usage.LLMCalls, usage.PromptTokens, usage.OutputTokens)
	}
}
