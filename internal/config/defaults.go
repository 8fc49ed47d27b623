package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/usr/local/var/embedstore/data"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "hnsw"
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 16
	}
	if cfg.Index.EfConstruction == 0 {
		cfg.Index.EfConstruction = 200
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = 64
	}
	if cfg.Catalog.FlushEvery == 0 {
		cfg.Catalog.FlushEvery = 100
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "http"
	}
	if cfg.Embedding.APIKeyHeader == "" {
		cfg.Embedding.APIKeyHeader = "X-API-Key"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.MinBatch == 0 {
		cfg.Embedding.MinBatch = 1
	}
	if cfg.Embedding.MaxBatch == 0 {
		cfg.Embedding.MaxBatch = 50
	}
	if cfg.Embedding.InitialBatch == 0 {
		cfg.Embedding.InitialBatch = 10
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.FailureThreshold == 0 {
		cfg.Embedding.FailureThreshold = 5
	}
	if cfg.Embedding.Concurrency == 0 {
		cfg.Embedding.Concurrency = 4
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.CandidateMultiplier == 0 {
		cfg.Search.CandidateMultiplier = 4
	}
	if cfg.Search.SnippetLength == 0 {
		cfg.Search.SnippetLength = 200
	}
	if cfg.Indexer.ChunkLines == 0 {
		cfg.Indexer.ChunkLines = 40
	}
	if cfg.Indexer.ChunkOverlap == 0 {
		cfg.Indexer.ChunkOverlap = 5
	}
	if cfg.Indexer.Extensions == nil {
		cfg.Indexer.Extensions = []string{".txt", ".md", ".rst", ".go", ".py", ".js", ".ts", ".java", ".rs", ".c", ".h"}
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 400 * time.Millisecond
	}
	for i := range cfg.Watch.Directories {
		if cfg.Watch.Directories[i].Namespace == "" {
			cfg.Watch.Directories[i].Namespace = "default"
		}
	}
}
