package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/embedding"
	"github.com/hyperjump/contextrag/internal/extract"
	"github.com/hyperjump/contextrag/internal/indexer"
	"github.com/hyperjump/contextrag/internal/llm"
	"github.com/hyperjump/contextrag/internal/search"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Config    *config.Config
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Snapshots *vector.SnapshotStore
	Store     *vector.Store
	Generator llm.Generator
	Engine    *search.Engine
	Indexer   *indexer.Indexer
}

// Close releases the database and embedder. It does not save the index.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// initializeComponents opens storage, loads the configured snapshot (if any) and wires
// the indexer and engine. withGenerator is false for commands that never generate.
func initializeComponents(cfg *config.Config, logger *zap.Logger, withGenerator bool) (*Components, error) {
	db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Config: cfg, Storage: db}

	embedder, err := embedding.NewFromConfig(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	c.Snapshots = vector.NewSnapshotStore(cfg.Storage.SnapshotDir,
		vector.WithCompression(cfg.Index.CompressOrDefault()))
	store, err := vector.OpenStore(cfg.Embedding.Dimensions, c.Snapshots, cfg.Index.SnapshotName,
		vector.WithLogger(logger),
		vector.WithOversample(cfg.Index.Oversample))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	c.Store = store

	if withGenerator {
		gen, err := llm.NewFromConfig(cfg.LLM, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize generator: %w", err)
		}
		c.Generator = gen
	}

	idxOpts := []indexer.IndexerOption{indexer.WithLogger(logger)}
	if cfg.Index.AutosaveOrDefault() {
		idxOpts = append(idxOpts, indexer.WithAutosave(cfg.Index.SnapshotName))
	}
	c.Indexer = indexer.NewIndexer(db, embedder, store, cfg.Chunking, cfg.Storage.UploadDir,
		extract.NewExtractor(), idxOpts...)
	c.Engine = search.NewEngine(db, embedder, store, c.Generator, search.WithLogger(logger))

	logger.Debug("components initialized",
		zap.String("database", cfg.Storage.DatabasePath),
		zap.String("snapshot_dir", cfg.Storage.SnapshotDir),
		zap.Int("vectors", store.Stats().TotalVectors))
	return c, nil
}

// saveIndex writes the active snapshot. Autosaving indexers have already done it.
func (c *Components) saveIndex(logger *zap.Logger) {
	if c.Config.Index.AutosaveOrDefault() {
		return
	}
	if err := c.Store.Save(c.Config.Index.SnapshotName); err != nil {
		logger.Warn("index save failed", zap.String("snapshot", c.Config.Index.SnapshotName), zap.Error(err))
	}
}
