package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openai/openai-go/option"

	"github.com/papergent/papergent/db"
	"github.com/papergent/papergent/internal/agent"
	"github.com/papergent/papergent/internal/api"
	"github.com/papergent/papergent/internal/chat"
	"github.com/papergent/papergent/internal/config"
	"github.com/papergent/papergent/internal/log"
)

// deepseekProvider is the Genkit provider prefix for DeepSeek models,
// served through the OpenAI-compatible plugin.
const deepseekProvider = "deepseek"

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	arxivTool := provideArxivTool(g, logger)

	a.Agent, err = agent.New(agent.Config{
		Genkit:      g,
		Logger:      logger,
		Tools:       []ai.Tool{arxivTool},
		ModelName:   deepseekProvider + "/" + cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	a.Store = chat.NewStore(chat.NewQueries(pool), pool, logger)
	a.Service = chat.NewService(a.Store, a.Agent, logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Store:       a.Store,
		Service:     a.Service,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Handler = server.Handler()

	return a, nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", cfg.PostgresHost,
		"database", cfg.PostgresDBName,
	)

	return pool, nil
}

// provideGenkit initializes Genkit with DeepSeek via the OpenAI-compatible
// plugin and registers the configured chat model.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	plugin := &compat_oai.OpenAICompatible{
		Provider: deepseekProvider,
		Opts: []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
		},
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugin))
	if g == nil {
		return nil, errors.New("initializing genkit with deepseek provider")
	}

	if model := plugin.DefineModel(deepseekProvider, cfg.Model, ai.ModelOptions{
		Label: "DeepSeek " + cfg.Model,
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}); model == nil {
		return nil, fmt.Errorf("defining model %q", cfg.Model)
	}

	logger.Info("initialized Genkit with deepseek provider",
		"model", cfg.Model, "base_url", cfg.BaseURL)

	return g, nil
}

// provideArxivTool registers the arXiv paper search tool with Genkit.
func provideArxivTool(g *genkit.Genkit, logger log.Logger) ai.Tool {
	client := agent.NewArxivClient("", logger)
	return agent.RegisterArxivTool(g, client)
}
