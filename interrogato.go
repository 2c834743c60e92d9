package interrogato

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/interrogato/pkg/cache"
	"github.com/soundprediction/interrogato/pkg/config"
	"github.com/soundprediction/interrogato/pkg/embedder"
	"github.com/soundprediction/interrogato/pkg/history"
	"github.com/soundprediction/interrogato/pkg/nlp"
	"github.com/soundprediction/interrogato/pkg/search"
	"github.com/soundprediction/interrogato/pkg/store"
)

// ErrUnknownSearchType is returned when a query names a strategy the engine
// does not know.
var ErrUnknownSearchType = errors.New("unknown search type")

// Engine dispatches queries to the four search strategies over one shared
// knowledge store and model client. All collaborators are injected; the
// engine keeps no global state.
type Engine struct {
	store    store.KnowledgeStore
	model    nlp.Client
	embedder embedder.Client
	counter  nlp.TokenCounter
	logger   *slog.Logger

	local  *search.LocalSearch
	global *search.GlobalSearch
	basic  *search.BasicSearch
	drift  *search.DriftSearch
}

// Options configures an Engine. Store, Model, and Embedder are required;
// everything else has working defaults.
type Options struct {
	Store    store.KnowledgeStore
	Model    nlp.Client
	Embedder embedder.Client

	// TokenCounter defaults to the estimating counter.
	TokenCounter nlp.TokenCounter

	// Callbacks receive progress hooks; nil means no-op.
	Callbacks search.Callbacks

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ContextConfig is shared by all strategies; zero values take defaults.
	ContextConfig search.ContextConfig

	// GlobalConfig and DriftConfig tune their strategies. A zero Context
	// inside them is replaced by ContextConfig.
	GlobalConfig search.GlobalConfig
	DriftConfig  search.DriftConfig
}

// New creates an engine from explicit collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("knowledge store is required")
	}
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("embedder client is required")
	}
	if opts.TokenCounter == nil {
		opts.TokenCounter = nlp.NewEstimatingTokenCounter()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GlobalConfig.Context == (search.ContextConfig{}) {
		opts.GlobalConfig.Context = opts.ContextConfig
	}
	if opts.DriftConfig.Context == (search.ContextConfig{}) {
		opts.DriftConfig.Context = opts.ContextConfig
	}

	localBuilder := search.NewLocalContextBuilder(opts.Store, opts.Embedder, opts.TokenCounter, opts.Logger)
	globalBuilder := search.NewGlobalContextBuilder(opts.Store, opts.Model, opts.TokenCounter, opts.Logger)
	basicBuilder := search.NewBasicContextBuilder(opts.Store, opts.Embedder, opts.TokenCounter, opts.Logger)
	driftBuilder := search.NewDriftContextBuilder(opts.Store, localBuilder, opts.TokenCounter, opts.Logger)

	return &Engine{
		store:    opts.Store,
		model:    opts.Model,
		embedder: opts.Embedder,
		counter:  opts.TokenCounter,
		logger:   opts.Logger,
		local:    search.NewLocalSearch(opts.Model, localBuilder, opts.TokenCounter, opts.ContextConfig, opts.Callbacks, opts.Logger),
		global:   search.NewGlobalSearch(opts.Model, globalBuilder, opts.TokenCounter, opts.GlobalConfig, opts.Callbacks, opts.Logger),
		basic:    search.NewBasicSearch(opts.Model, basicBuilder, opts.TokenCounter, opts.ContextConfig, opts.Callbacks, opts.Logger),
		drift:    search.NewDriftSearch(opts.Model, driftBuilder, opts.TokenCounter, opts.DriftConfig, opts.Callbacks, opts.Logger),
	}, nil
}

// NewFromConfig wires an engine from application configuration: the
// knowledge store backend, the model client with retry, circuit-breaker,
// and cache wrappers, and the embedder.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	knowledge, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	model, err := buildModel(cfg, logger)
	if err != nil {
		return nil, err
	}

	embed, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	contextConfig := contextConfigFrom(cfg.Search)
	return New(Options{
		Store:         knowledge,
		Model:         model,
		Embedder:      embed,
		Logger:        logger,
		ContextConfig: contextConfig,
		GlobalConfig: search.GlobalConfig{
			Context:               contextConfig,
			MaxConcurrency:        cfg.Search.MaxConcurrency,
			ReduceMaxTokens:       cfg.Search.ReduceMaxTokens,
			AllowGeneralKnowledge: cfg.Search.AllowGeneralKnowledge,
		},
		DriftConfig: search.DriftConfig{
			Context:       contextConfig,
			MaxIterations: cfg.Search.DriftMaxIterations,
			MaxQueueDepth: cfg.Search.DriftMaxQueueDepth,
			FanOut:        cfg.Search.DriftFanOut,
		},
	})
}

// Search answers the query with the named strategy.
func (e *Engine) Search(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (*search.SearchResult, error) {
	strategy, err := e.strategy(searchType)
	if err != nil {
		return nil, err
	}
	e.logger.Info("search", "type", searchType, "query", query)
	return strategy.Search(ctx, query, conv), nil
}

// StreamSearch answers the query incrementally with the named strategy.
func (e *Engine) StreamSearch(ctx context.Context, searchType search.SearchType, query string, conv *history.Conversation) (<-chan search.StreamEvent, error) {
	strategy, err := e.strategy(searchType)
	if err != nil {
		return nil, err
	}
	e.logger.Info("stream search", "type", searchType, "query", query)
	return strategy.StreamSearch(ctx, query, conv), nil
}

func (e *Engine) strategy(searchType search.SearchType) (search.Searcher, error) {
	switch searchType {
	case search.LocalSearchType:
		return e.local, nil
	case search.GlobalSearchType:
		return e.global, nil
	case search.BasicSearchType:
		return e.basic, nil
	case search.DriftSearchType:
		return e.drift, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSearchType, searchType)
	}
}

// Close releases the engine's backends.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.model.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func openStore(cfg *config.Config) (store.KnowledgeStore, error) {
	switch cfg.Store.Backend {
	case "parquet", "":
		return store.LoadParquetDir(cfg.Store.Dir)
	case "neo4j":
		return store.NewNeo4jStore(cfg.Store.URI, cfg.Store.Username, cfg.Store.Password, cfg.Store.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildModel(cfg *config.Config, logger *slog.Logger) (nlp.Client, error) {
	temperature := cfg.NLP.Temperature
	maxTokens := cfg.NLP.MaxTokens
	base, err := nlp.NewOpenAIClient(cfg.NLP.APIKey, nlp.Config{
		Model:       cfg.NLP.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		BaseURL:     cfg.NLP.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	var model nlp.Client = nlp.NewRetryClient(base, &nlp.RetryConfig{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	})

	if cfg.CircuitBreaker.Enabled {
		model = nlp.NewCircuitBreakerClient(model, nlp.CircuitBreakerConfig{
			Enabled:          true,
			MaxRequests:      cfg.CircuitBreaker.MaxRequests,
			Interval:         cfg.CircuitBreaker.Interval,
			Timeout:          cfg.CircuitBreaker.Timeout,
			ReadyToTripRatio: cfg.CircuitBreaker.ReadyToTripRatio,
		}, logger)
	}

	responseCache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	if responseCache != nil {
		model = nlp.NewCachingClient(model, responseCache)
	}
	return model, nil
}

func openCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "memory", "":
		return cache.NewMemoryCache(), nil
	case "badger":
		return cache.NewBadgerCache(cfg.Cache.Path)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func buildEmbedder(cfg *config.Config) (embedder.Client, error) {
	embedConfig := embedder.Config{
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		BaseURL:    cfg.Embedding.BaseURL,
	}
	switch cfg.Embedding.Provider {
	case "openai":
		return embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedConfig), nil
	case "embedeverything", "":
		return embedder.NewEmbedEverythingClient(embedConfig)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func contextConfigFrom(sc config.SearchConfig) search.ContextConfig {
	return search.ContextConfig{
		MaxTokens:              sc.MaxTokens,
		TopKEntities:           sc.TopKEntities,
		TopKTextUnits:          sc.TopKTextUnits,
		EntityProportion:       sc.EntityProportion,
		RelationshipProportion: sc.RelationshipProportion,
		TextUnitProportion:     sc.TextUnitProportion,
		CovariateProportion:    sc.CovariateProportion,
		CommunityLevel:         sc.CommunityLevel,
		BatchMaxTokens:         sc.BatchMaxTokens,
		RateRelevancy:          sc.RateRelevancy,
		MinRelevancyScore:      sc.MinRelevancyScore,
		IncludeHistory:         sc.IncludeHistory,
		HistoryMaxTokens:       sc.HistoryMaxTokens,
	}
}
