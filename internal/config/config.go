// Package config provides configuration loading and structs for the embedstore server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets and endpoints from the file.
const (
	EnvAPIKey   = "EMBEDSTORE_API_KEY"
	EnvEndpoint = "EMBEDSTORE_ENDPOINT"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds the storage root and snapshot backend.
type StorageConfig struct {
	Root string `yaml:"root"`
	// Backend is "file" or "sqlite". The vector ledger is always file based.
	Backend string `yaml:"backend"`
}

// IndexConfig selects and tunes the in-memory vector index.
type IndexConfig struct {
	Type           string `yaml:"type"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Seed           int64  `yaml:"seed"`
}

// CatalogConfig controls catalog snapshot cadence.
type CatalogConfig struct {
	FlushEvery int `yaml:"flush_every"`
}

// EmbeddingConfig holds provider and client settings.
type EmbeddingConfig struct {
	// Provider is "http" or "mock".
	Provider     string        `yaml:"provider"`
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	ModelVersion string        `yaml:"model_version"`
	APIKey       string        `yaml:"api_key"`
	APIKeyHeader string        `yaml:"api_key_header"`
	Timeout      time.Duration `yaml:"timeout"`
	// Dimensions is only used by the mock provider.
	Dimensions        int `yaml:"dimensions"`
	MaxRetries        int `yaml:"max_retries"`
	RequestsPerMinute int `yaml:"requests_per_minute"`
	MinBatch          int `yaml:"min_batch"`
	MaxBatch          int `yaml:"max_batch"`
	InitialBatch      int `yaml:"initial_batch"`
	CacheSize         int `yaml:"cache_size"`
	FailureThreshold  int `yaml:"failure_threshold"`
	Concurrency       int `yaml:"concurrency"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	// CandidateMultiplier widens the neighbor search when hits are grouped by document.
	CandidateMultiplier int `yaml:"candidate_multiplier"`
	SnippetLength       int `yaml:"snippet_length"`
}

// IndexerConfig holds chunking settings for text ingestion.
type IndexerConfig struct {
	ChunkLines   int      `yaml:"chunk_lines"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Extensions   []string `yaml:"extensions"`
}

// WatchConfig lists directories kept indexed while the server runs.
type WatchConfig struct {
	Directories []WatchDirectory `yaml:"directories"`
	// Debounce delays re-indexing after the last write to a file.
	Debounce time.Duration `yaml:"debounce"`
}

// WatchDirectory maps a directory tree to the namespace its files are indexed into.
type WatchDirectory struct {
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Load reads and parses the config file at path, expands paths, applies
// environment overrides and defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.Root = expandPath(cfg.Storage.Root, filepath.Dir(path))
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i].Path = expandPath(cfg.Watch.Directories[i].Path, filepath.Dir(path))
	}
	return &cfg, nil
}

// ApplyEnv overrides the API key and endpoint from the environment when set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Embedding.Endpoint = v
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
