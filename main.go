package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/config"
	"github.com/askdb-inc/askdb-engine/pkg/correction"
	"github.com/askdb-inc/askdb-engine/pkg/database"
	"github.com/askdb-inc/askdb-engine/pkg/datasource"
	"github.com/askdb-inc/askdb-engine/pkg/executor"
	"github.com/askdb-inc/askdb-engine/pkg/learning"
	"github.com/askdb-inc/askdb-engine/pkg/llm"
	"github.com/askdb-inc/askdb-engine/pkg/mcp"
	"github.com/askdb-inc/askdb-engine/pkg/mcp/tools"
	"github.com/askdb-inc/askdb-engine/pkg/metadata"
	"github.com/askdb-inc/askdb-engine/pkg/ratelimit"
	"github.com/askdb-inc/askdb-engine/pkg/tenant"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("engine_db", cfg.Database.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := newLearningStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to set up learning store", zap.Error(err))
	}
	defer cleanup()

	resolver, err := tenant.LoadStatic(cfg.TenantsFile)
	if err != nil {
		logger.Fatal("failed to load tenant descriptors",
			zap.String("path", cfg.TenantsFile), zap.Error(err))
	}

	pools := datasource.NewManager(datasource.ManagerConfig{
		PoolMaxConns:   cfg.Pool.MaxConnsPerTenant,
		AcquireTimeout: time.Duration(cfg.Pool.AcquireTimeoutSeconds) * time.Second,
		IdleTTL:        time.Duration(cfg.Pool.IdleTTLMinutes) * time.Minute,
	}, tenant.EnvCredentialResolver{}, logger)
	defer pools.Close()

	limiter := ratelimit.New(ratelimit.Config{
		Window:          cfg.RateLimit.Window(),
		PerPairLimit:    cfg.RateLimit.PerPairLimit,
		TenantPerSecond: float64(cfg.RateLimit.TenantPerSecond),
		TenantBurst:     cfg.RateLimit.TenantBurst,
	})

	exec := executor.New(executor.PoolSource{Manager: pools}, limiter, logger)

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create LLM client", zap.Error(err))
	}
	generator := llm.NewGenerator(client, logger)
	orchestrator := correction.New(generator, exec, store, logger)

	mcpServer := mcp.NewServer("askdb-engine", cfg.Version, logger)
	deps := &tools.Deps{
		Resolver:  resolver,
		Runner:    exec,
		Answerer:  orchestrator,
		Metadata:  metadata.NewPGProvider(pools, logger),
		Knowledge: store,
		Logger:    logger,
	}
	tools.RegisterQueryTools(mcpServer.MCP(), deps)
	tools.RegisterSchemaTools(mcpServer.MCP(), deps)

	mux := http.NewServeMux()
	mux.Handle("/mcp", requirePOST(mcpServer.NewStreamableHTTPServer()))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})

	srv := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting askdb-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newLearningStore wires the Postgres-backed store when the engine database
// is enabled, and falls back to the in-memory store otherwise.
func newLearningStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (learning.Store, func(), error) {
	if !cfg.Database.Enabled {
		logger.Info("engine database disabled, using in-memory learning store")
		return learning.NewMemoryStore(), func() {}, nil
	}

	// golang-migrate drives the stdlib driver; the pgx pool is used for
	// everything after that.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		migrationDB.Close() //nolint:errcheck
		return nil, nil, err
	}
	migrationDB.Close() //nolint:errcheck

	db, err := database.Connect(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, nil, err
	}
	return learning.NewPGStore(db), func() { db.Close() }, nil
}

func newLLMClient(cfg *config.Config, logger *zap.Logger) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(&llm.AnthropicConfig{
			Model:  cfg.LLM.Model,
			APIKey: cfg.LLM.APIKey,
		}, logger)
	default:
		return llm.NewOpenAIClient(&llm.OpenAIConfig{
			Endpoint: cfg.LLM.Endpoint,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
		}, logger)
	}
}

// requirePOST returns 405 Method Not Allowed for non-POST requests. MCP over
// HTTP streaming uses POST for JSON-RPC requests.
func requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
