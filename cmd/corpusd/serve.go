package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/scanner"
	"github.com/fyrsmithlabs/corpusd/internal/syncer"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
	"github.com/fyrsmithlabs/corpusd/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Long: `Run an initial scan of the document directory, then watch it for
changes and keep the vector collection synchronized until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runServe(ctx)
	},
}

// runServe wires the full pipeline and blocks until the context is
// cancelled. Startup failures are fatal; per-file failures during operation
// are not.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.String("documents_dir", cfg.Documents.Dir),
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection),
	)

	if _, err := os.Stat(cfg.Documents.Dir); err != nil {
		return fmt.Errorf("documents directory %s: %w", cfg.Documents.Dir, err)
	}

	engine, store, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing vector store", zap.Error(err))
		}
	}()

	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("initializing sync engine: %w", err)
	}

	ing := ingest.New(ingest.Config{
		MaxChunkChars: cfg.Ingest.MaxChunkChars,
		ChunkOverlap:  cfg.Ingest.ChunkOverlap,
	})

	// Initial pass brings the collection up to date before watching, so
	// changes made while the daemon was down are not missed.
	sc := scanner.New(engine, ing.Supported, cfg.Scanner.Workers, logger)
	if _, err := sc.Scan(ctx, cfg.Documents.Dir); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	w, err := watcher.New(watcher.Config{
		Root:      cfg.Documents.Dir,
		Debounce:  cfg.Watcher.Debounce.Duration(),
		Workers:   cfg.Watcher.Workers,
		QueueSize: cfg.Watcher.QueueSize,
	}, engine, ing.Supported, logger)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := w.Close(); err != nil {
		logger.Warn("closing watcher", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildEngine constructs the sync engine and its vector store from config.
// The store is returned separately so callers own its lifecycle.
func buildEngine(cfg *config.Config, logger *zap.Logger) (*syncer.Engine, vectorstore.Store, error) {
	tr, err := tracker.New(cfg.Documents.HashStore)
	if err != nil {
		return nil, nil, fmt.Errorf("creating hash tracker: %w", err)
	}

	provider, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
		APIKey:  cfg.Embedding.APIKey.Value(),
		Timeout: cfg.Embedding.Timeout.Duration(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding service: %w", err)
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	ing := ingest.New(ingest.Config{
		MaxChunkChars: cfg.Ingest.MaxChunkChars,
		ChunkOverlap:  cfg.Ingest.ChunkOverlap,
	})

	engine, err := syncer.New(tr, ing, provider, store, syncer.Options{
		Collection: cfg.VectorStore.Collection,
		Metric:     vectorstore.MetricType(cfg.VectorStore.Metric),
		Index:      vectorstore.IndexType(cfg.VectorStore.Index),
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("creating sync engine: %w", err)
	}
	return engine, store, nil
}

// buildStore constructs the configured vector store backend.
func buildStore(cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	store, err := vectorstore.New(vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.Chromem.Path,
			Compress: cfg.VectorStore.Chromem.Compress,
		},
		Qdrant: vectorstore.QdrantConfig{
			Host:   cfg.VectorStore.Qdrant.Host,
			Port:   cfg.VectorStore.Qdrant.Port,
			UseTLS: cfg.VectorStore.Qdrant.UseTLS,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	return store, nil
}
