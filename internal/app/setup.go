package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/kjellm/anchor/db"
	"github.com/kjellm/anchor/internal/chat"
	"github.com/kjellm/anchor/internal/config"
	"github.com/kjellm/anchor/internal/embed"
	"github.com/kjellm/anchor/internal/grounding"
	"github.com/kjellm/anchor/internal/ingest"
	"github.com/kjellm/anchor/internal/log"
	"github.com/kjellm/anchor/internal/observability"
	"github.com/kjellm/anchor/internal/retrieval"
	"github.com/kjellm/anchor/internal/store"
)

// embedRateLimit bounds outbound embedding calls. Gemini's embedding quota
// is per-minute; 5 req/s with a small burst stays well under it while
// keeping batch ingestion fast.
const (
	embedRateLimit = rate.Limit(5)
	embedRateBurst = 10
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so model and
	// flow spans land on the instrumented provider.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	retryCfg := embed.DefaultRetryConfig()
	if cfg.EmbedTimeoutSec > 0 {
		retryCfg.CallTimeout = time.Duration(cfg.EmbedTimeoutSec) * time.Second
	}
	a.Embed = embed.NewClient(embedder, cfg.EmbedderModel, cfg.EmbedderDimension,
		retryCfg, rate.NewLimiter(embedRateLimit, embedRateBurst), logger)

	a.Store = store.NewManager(store.NewPGQueries(pool), logger)

	a.Engine = retrieval.NewEngine(a.Embed, a.Store, cfg.TopK, cfg.MinScore, logger)

	archive, err := ingest.NewArchive(cfg.ArchiveDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	a.Pipeline = ingest.NewPipeline(ingest.Config{
		IntakeDir:    cfg.IntakeDir,
		Namespace:    cfg.Namespace,
		ChunkWindow:  cfg.ChunkWindow,
		ChunkOverlap: cfg.ChunkOverlap,
	}, a.Embed, a.Store, archive, logger)

	validator := grounding.NewValidator(grounding.DefaultRules(), logger)
	generator := chat.NewGenkitGenerator(g, fullModelName(cfg))
	sessions := chat.NewSessions(0)
	a.Orchestrator = chat.NewOrchestrator(a.Engine, generator, validator, sessions, chat.Timeouts{
		Retrieve: time.Duration(cfg.RetrieveTimeoutSec) * time.Second,
		Generate: time.Duration(cfg.GenerateTimeoutSec) * time.Second,
	}, cfg.ModelName, logger)

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing when enabled.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		logger.Warn("setting up tracing, continuing without it", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default) and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// fullModelName returns the provider-qualified model name Genkit resolves.
func fullModelName(cfg *config.Config) string {
	if cfg.Provider == config.ProviderOllama {
		return "ollama/" + cfg.ModelName
	}
	return "googleai/" + cfg.ModelName
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}
