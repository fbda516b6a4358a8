package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a store backend.
type Config struct {
	// Provider is the backend: "chromem" (embedded, default) or "qdrant".
	Provider string

	// Chromem configures the embedded store.
	Chromem ChromemConfig

	// Qdrant configures the external store.
	Qdrant QdrantConfig
}

// New creates a Store for the configured provider.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
