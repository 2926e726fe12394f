package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/config"
	"github.com/hyperjump/hako/internal/definitions"
	"github.com/hyperjump/hako/internal/embedding"
	"github.com/hyperjump/hako/internal/metrics"
	"github.com/hyperjump/hako/internal/search"
	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vectorstore"
)

// Components holds initialized services.
type Components struct {
	Records  storage.Store
	Store    *vectorstore.Store
	Embedder embedding.Embedder
	Engine   *search.Engine
	Ingester *definitions.Ingester
	Metrics  *metrics.Collector
}

// Close flushes the vector store and releases everything it holds.
func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Records != nil {
		_ = c.Records.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// openRecords opens the configured record store backend.
func openRecords(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	switch cfg.Store.Backend {
	case config.BackendBadger:
		return storage.NewBadger(storage.BadgerOptions{Dir: cfg.Store.DatabasePath, Logger: logger})
	default:
		return storage.NewSQLite(cfg.Store.DatabasePath)
	}
}

// initializeComponents wires the record store, vector store, embedder, search engine and
// ingester. m may be nil.
func initializeComponents(cfg *config.Config, logger *zap.Logger, m *metrics.Collector) (*Components, error) {
	records, err := openRecords(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Records: records, Metrics: m}

	codec, err := storage.CodecByName(cfg.Store.Codec)
	if err != nil {
		c.Close()
		return nil, err
	}
	opts := []vectorstore.Option{
		vectorstore.WithLogger(logger),
		vectorstore.WithCodec(codec),
	}
	if m != nil {
		opts = append(opts, vectorstore.WithMetrics(m))
	}
	if c.Store, err = vectorstore.New(cfg.VectorStore(), records, opts...); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	c.Embedder, err = embedding.Open(
		cfg.Embedding.ModelPath,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
		logger,
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	logger.Info("vector store initialized",
		zap.String("backend", cfg.Store.Backend),
		zap.String("index_type", cfg.Store.IndexType),
		zap.String("metric", cfg.Store.Metric),
		zap.Int("dimensions", cfg.Store.Dimensions))

	c.Engine = search.NewEngine(c.Store, c.Embedder, cfg.Search.DefaultTop, cfg.Search.MaxTop)
	c.Ingester = definitions.NewIngester(
		c.Store,
		c.Embedder,
		definitions.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		definitions.WithLogger(logger),
		definitions.WithExtensions(cfg.Ingest.Extensions),
	)
	return c, nil
}

// ingestPath ingests a single file or every supported file under a directory.
func ingestPath(ctx context.Context, ing *definitions.Ingester, path string) ([]definitions.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return ing.IngestDirectory(ctx, path)
	}
	res, err := ing.IngestFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return []definitions.Result{res}, nil
}
