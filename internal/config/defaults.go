package config

import (
	"github.com/hyperjump/hako/internal/vector"
	"github.com/hyperjump/hako/internal/vectorstore"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.PersistDir == "" {
		cfg.Store.PersistDir = "./data/indexes"
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = "./data/records.db"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendSQLite
	}
	if cfg.Store.Codec == "" {
		cfg.Store.Codec = "json"
	}
	if cfg.Store.IndexType == "" {
		cfg.Store.IndexType = string(vector.IndexTypeHNSW)
	}
	if cfg.Store.Metric == "" {
		cfg.Store.Metric = string(vector.MetricCosine)
	}
	if cfg.Store.Dimensions == 0 {
		cfg.Store.Dimensions = 384
	}
	if cfg.Store.Quantization == "" {
		cfg.Store.Quantization = string(vector.QuantizationF32)
	}
	if cfg.Store.BaseFetchCount == 0 {
		cfg.Store.BaseFetchCount = 20
	}
	if cfg.Store.FetchMultiplier == 0 {
		cfg.Store.FetchMultiplier = 4
	}
	if cfg.Store.SavePolicy == "" {
		cfg.Store.SavePolicy = string(vectorstore.SavePolicySync)
	}
	if cfg.Store.KeywordIndex == "" {
		cfg.Store.KeywordIndex = vectorstore.KeywordIndexMemory
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = cfg.Store.Dimensions
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".yaml", ".yml", ".xlsx", ".csv", ".txt", ".md", ".pdf", ".docx"}
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 200
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 20
	}
	if cfg.Search.DefaultTop == 0 {
		cfg.Search.DefaultTop = vectorstore.DefaultTop
	}
	if cfg.Search.MaxTop == 0 {
		cfg.Search.MaxTop = 100
	}
}

// Default returns a configuration with every default applied, rooted at baseDir.
func Default(baseDir string) *Config {
	cfg := &Config{baseDir: baseDir}
	ApplyDefaults(cfg)
	cfg.Store.PersistDir = expandPath(cfg.Store.PersistDir, baseDir)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, baseDir)
	return cfg
}
