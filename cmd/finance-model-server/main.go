package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iwvelando/finance-model/internal/catalog"
	"github.com/iwvelando/finance-model/internal/logging"
	"github.com/iwvelando/finance-model/internal/notify"
	"github.com/iwvelando/finance-model/internal/parameter"
	"github.com/iwvelando/finance-model/internal/scenario"
	"github.com/iwvelando/finance-model/internal/sensitivity"
	"github.com/iwvelando/finance-model/internal/server"
	"github.com/iwvelando/finance-model/internal/store"
	"github.com/iwvelando/finance-model/pkg/constants"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	configLocation := flag.String("config", constants.DefaultServerConfigFile, "path to server configuration file")
	address := flag.String("address", "", "listen address override")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load server configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}
	if *address != "" {
		cfg.Address = *address
	}

	logger, err := logging.New(cfg.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
	defer repo.Close()

	cat, err := catalog.Default()
	if err != nil {
		logger.Fatal("failed to load parameter catalog",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	notifier := notify.NewLogNotifier(logger)
	manager := scenario.NewManager(repo, cat, notifier, logger)
	handler := server.NewHandler(logger, server.Services{
		Catalog:    cat,
		Scenarios:  manager,
		Parameters: parameter.NewService(repo, cat, manager, notifier, logger),
		Analyzer: sensitivity.NewAnalyzer(sensitivity.Config{
			Workers:       cfg.Analysis.Workers,
			MaxIterations: cfg.Analysis.MaxIterations,
		}, cat, logger),
	}, server.Options{
		MaxBodySize:     cfg.BodySizeBytes(),
		AnalysisTimeout: cfg.AnalysisTimeout(),
		Version:         version,
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("op", "main"),
			zap.String("address", cfg.Address),
			zap.String("version", version),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped unexpectedly",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
	case <-ctx.Done():
		logger.Info("shutting down server",
			zap.String("op", "main"),
		)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
	}
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *server.Config, logger *zap.Logger) (store.Repository, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured; state is kept in memory only",
			zap.String("op", "main.openStore"),
		)
		return store.NewMemoryStore(), nil
	}

	pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	logger.Info("connected to postgres",
		zap.String("op", "main.openStore"),
	)
	return pg, nil
}
