// Package config provides configuration loading for corpusd.
package config

import (
	"fmt"
	"time"
)

// Config is the root corpusd configuration.
type Config struct {
	Documents   DocumentsConfig   `koanf:"documents"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Scanner     ScannerConfig     `koanf:"scanner"`
	Watcher     WatcherConfig     `koanf:"watcher"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// DocumentsConfig locates the tracked corpus.
type DocumentsConfig struct {
	// Dir is the root directory scanned and watched recursively.
	Dir string `koanf:"dir"`

	// HashStore is the path of the persisted path→hash JSON map.
	HashStore string `koanf:"hash_store"`
}

// IngestConfig holds chunking policy.
type IngestConfig struct {
	MaxChunkChars int `koanf:"max_chunk_chars"`
	ChunkOverlap  int `koanf:"chunk_overlap"`
}

// EmbeddingConfig configures the external embedding service.
type EmbeddingConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	// Collection is the vector collection name.
	Collection string `koanf:"collection"`

	// Metric is "inner_product" or "cosine".
	Metric string `koanf:"metric"`

	// Index is "flat", "ivf_flat" or "hnsw".
	Index string `koanf:"index"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory; empty means in-memory.
	Path string `koanf:"path"`

	Compress bool `koanf:"compress"`
}

// QdrantConfig configures the external store.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// ScannerConfig bounds directory-scan parallelism.
type ScannerConfig struct {
	Workers int `koanf:"workers"`
}

// WatcherConfig tunes filesystem event handling.
type WatcherConfig struct {
	Debounce  Duration `koanf:"debounce"`
	Workers   int      `koanf:"workers"`
	QueueSize int      `koanf:"queue_size"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults fills in defaults for unset values.
func applyDefaults(cfg *Config) {
	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = "documents"
	}
	if cfg.Documents.HashStore == "" {
		cfg.Documents.HashStore = "file_hashes.json"
	}
	if cfg.Ingest.MaxChunkChars == 0 {
		cfg.Ingest.MaxChunkChars = 1200
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 150
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8080"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "corpus_knowledge"
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = "inner_product"
	}
	if cfg.VectorStore.Index == "" {
		cfg.VectorStore.Index = "flat"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.Scanner.Workers == 0 {
		cfg.Scanner.Workers = 4
	}
	if cfg.Watcher.Debounce == 0 {
		cfg.Watcher.Debounce = Duration(500 * time.Millisecond)
	}
	if cfg.Watcher.Workers == 0 {
		cfg.Watcher.Workers = 4
	}
	if cfg.Watcher.QueueSize == 0 {
		cfg.Watcher.QueueSize = 256
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Documents.Dir == "" {
		return fmt.Errorf("documents.dir is required")
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider)
	}
	switch c.VectorStore.Metric {
	case "inner_product", "cosine":
	default:
		return fmt.Errorf("vectorstore.metric must be inner_product or cosine, got %q", c.VectorStore.Metric)
	}
	switch c.VectorStore.Index {
	case "flat", "ivf_flat", "hnsw":
	default:
		return fmt.Errorf("vectorstore.index must be flat, ivf_flat or hnsw, got %q", c.VectorStore.Index)
	}
	if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
		return fmt.Errorf("vectorstore.qdrant.port out of range: %d", c.VectorStore.Qdrant.Port)
	}
	return nil
}
