package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/trendrbot/trendrbot/internal/assistant"
	"github.com/trendrbot/trendrbot/internal/config"
	"github.com/trendrbot/trendrbot/internal/observability"
	"github.com/trendrbot/trendrbot/internal/storage"
	s3store "github.com/trendrbot/trendrbot/internal/storage/s3"
	"github.com/trendrbot/trendrbot/internal/trendsdata"
)

func main() {
	sourceLabel := flag.String("source", assistant.LabelUSTrends, "catalog source label the CSV export belongs to")
	csvPath := flag.String("csv", "", "CSV export with term,rank,week[,country_name] columns")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load .env file", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("trendrbot-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	if *csvPath == "" {
		logger.Error("-csv is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *sourceLabel, *csvPath); err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, label, csvPath string) error {
	catalog := assistant.DefaultCatalog()
	if cfg.Catalog.File != "" {
		loaded, err := assistant.LoadCatalogFile(cfg.Catalog.File)
		if err != nil {
			return err
		}
		catalog = loaded
	}
	source, ok := catalog.Source(label)
	if !ok {
		return fmt.Errorf("unknown catalog source %q", label)
	}

	file, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open csv export: %w", err)
	}
	defer func() { _ = file.Close() }()

	rows, err := trendsdata.ReadCSV(file)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := trendsdata.WriteParquet(&buf, rows); err != nil {
		return err
	}

	store, err := s3store.New(ctx, s3store.Config{
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
		return fmt.Errorf("initialize object store: %w", err)
	}

	info, err := store.Put(ctx, source.Object, bytes.NewReader(buf.Bytes()), int64(buf.Len()), storage.PutOptions{
		ContentType: storage.ParquetContentType,
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	logger.Info("snapshot uploaded",
		slog.String("source", source.Label),
		slog.String("table", source.Table),
		slog.String("object", info.Key),
		slog.Int("rows", len(rows)),
		slog.Int64("bytes", info.Size),
	)
	return nil
}
