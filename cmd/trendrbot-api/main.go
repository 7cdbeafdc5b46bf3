package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trendrbot/trendrbot/internal/api"
	"github.com/trendrbot/trendrbot/internal/api/shell"
	"github.com/trendrbot/trendrbot/internal/assistant"
	"github.com/trendrbot/trendrbot/internal/config"
	"github.com/trendrbot/trendrbot/internal/generation/gemini"
	"github.com/trendrbot/trendrbot/internal/model"
	"github.com/trendrbot/trendrbot/internal/observability"
	"github.com/trendrbot/trendrbot/internal/query"
	bigqueryengine "github.com/trendrbot/trendrbot/internal/query/bigquery"
	duckdbengine "github.com/trendrbot/trendrbot/internal/query/duckdb"
	s3store "github.com/trendrbot/trendrbot/internal/storage/s3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load .env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("trendrbot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	catalog := assistant.DefaultCatalog()
	if cfg.Catalog.File != "" {
		catalog, err = assistant.LoadCatalogFile(cfg.Catalog.File)
		if err != nil {
			logger.Error("failed to load catalog", slog.String("file", cfg.Catalog.File), slog.Any("error", err))
			os.Exit(1)
		}
	}

	var (
		engine    query.Engine
		readiness api.ReadinessCheck
	)
	switch cfg.Query.Backend {
	case config.BackendDuckDB:
		objectStore, err := s3store.New(startupCtx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		engine = duckdbengine.NewEngine(objectStore)
		readiness = api.CombineReadinessChecks(
			api.CheckObjectStoreConfig(cfg),
			api.CheckSnapshots(objectStore, catalog),
		)
	default:
		bq, err := bigqueryengine.NewEngine(startupCtx, cfg.Query.ProjectID)
		if err != nil {
			logger.Error("failed to initialize bigquery engine", slog.Any("error", err))
			os.Exit(1)
		}
		defer closeQuietly(bq)
		engine = bq
		readiness = api.CheckGCPProject(cfg)
	}

	generator, err := gemini.New(startupCtx, gemini.Config{
		Endpoint:  cfg.Gemini.Endpoint,
		BaseURL:   cfg.Gemini.BaseURL,
		APIKey:    cfg.Gemini.APIKey,
		ProjectID: cfg.Gemini.ProjectID,
		Location:  cfg.Gemini.Location,
		Timeout:   cfg.Gemini.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize gemini client", slog.Any("error", err))
		os.Exit(1)
	}

	ask, err := assistant.New(generator, engine, assistant.Config{
		Catalog:    catalog,
		Model:      modelFromConfig(cfg.Gemini),
		CharBudget: cfg.Query.CharBudget,
		RowLimit:   cfg.Query.RowLimit,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize assistant", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Assistant:         ask,
		UI:                shell.New(shell.Config{Title: cfg.UI.Title, ImageURL: cfg.UI.ImageURL}, ask, logger),
		Readiness:         readiness,
		DependencyTimeout: 2 * time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("backend", string(cfg.Query.Backend)),
			slog.String("gemini_endpoint", cfg.Gemini.Endpoint),
			slog.Int("sources", len(catalog.Sources)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
	}
}

func modelFromConfig(cfg config.GeminiConfig) model.Descriptor {
	return model.New("Gemini", cfg.Model, "Google Cloud", map[string]any{
		model.ParamMaxOutputTokens: cfg.MaxOutputTokens,
		model.ParamTemperature:     cfg.Temperature,
		model.ParamTopK:            cfg.TopK,
		model.ParamTopP:            cfg.TopP,
	})
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
