package interrogato

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/interrogato"
	"github.com/soundprediction/interrogato/pkg/config"
	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/logger"
	"github.com/soundprediction/interrogato/pkg/search"
	"github.com/soundprediction/interrogato/pkg/server"
	"github.com/soundprediction/interrogato/pkg/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the interrogato HTTP server",
	Long: `Start the interrogato HTTP server to provide REST API access to the
query engine.

The server provides endpoints for:
- Searching the knowledge graph (POST /api/v1/search)
- Streaming search responses (POST /api/v1/search/stream)
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
	serveMode string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "server mode (debug, release, test)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serveMode
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

	engine, err := interrogato.NewFromConfig(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer engine.Close(context.Background())

	var queryEngine server.QueryEngine = engine
	if cfg.Telemetry.Enabled {
		sink, err := telemetry.NewUsageSink(cfg.Telemetry.ParquetPath)
		if err != nil {
			log.Warn("usage telemetry disabled", "error", err)
		} else {
			defer sink.Close()
			queryEngine = &recordingEngine{engine: engine, sink: sink, logger: log}
			log.Info("usage telemetry enabled", "path", cfg.Telemetry.ParquetPath)
		}
	}

	srv := server.New(cfg, queryEngine, log)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()
	log.Info("server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info("server stopped gracefully")
		return nil
	}
}

// recordingEngine forwards searches to the engine and records usage for
// completed non-streamed requests.
type recordingEngine struct {
	engine *interrogato.Engine
	sink   *telemetry.UsageSink
	logger *slog.Logger
}

func (r *recordingEngine) Search(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (*search.SearchResult, error) {
	result, err := r.engine.Search(ctx, searchType, query, conv)
	if err == nil && result != nil {
		if recordErr := r.sink.Record(result); recordErr != nil {
			r.logger.Warn("failed to record usage", "error", recordErr)
		}
	}
	return result, err
}

func (r *recordingEngine) StreamSearch(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (<-chan search.StreamEvent, error) {
	events, err := r.engine.StreamSearch(ctx, searchType, query, conv)
	if err != nil {
		return nil, err
	}
	out := make(chan search.StreamEvent)
	go func() {
		defer close(out)
		for event := range events {
			if event.Final != nil {
				if recordErr := r.sink.Record(event.Final); recordErr != nil {
					r.logger.Warn("failed to record usage", "error", recordErr)
				}
			}
			out <- event
		}
	}()
	return out, nil
}
