package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces corpusd environment variables.
	envPrefix = "CORPUSD_"

	// maxConfigFileSize rejects oversized config files.
	maxConfigFileSize = 1024 * 1024
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (CORPUSD_EMBEDDING_BASE_URL, ...)
//  2. YAML config file
//  3. Defaults
//
// A missing config file is not an error; defaults plus environment apply.
// If configPath is empty, "corpusd.yaml" in the working directory is tried.
//
// Environment variables map to config keys by lowercasing and splitting on
// the first underscore after the prefix:
//
//	CORPUSD_EMBEDDING_BASE_URL    -> embedding.base_url
//	CORPUSD_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant.host
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = "corpusd.yaml"
	}

	if info, err := os.Stat(configPath); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
		}
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// transformEnvKey maps an environment variable to a config key. The section
// is the part before the first underscore; field names keep their
// underscores. Backend subsections (qdrant, chromem) get one more split.
func transformEnvKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	section, field := parts[0], parts[1]

	if section == "vectorstore" {
		for _, backend := range []string{"qdrant_", "chromem_"} {
			if strings.HasPrefix(field, backend) {
				return section + "." + strings.TrimSuffix(backend, "_") + "." + strings.TrimPrefix(field, backend)
			}
		}
	}
	return section + "." + field
}
