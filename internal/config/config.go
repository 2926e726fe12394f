// Package config provides configuration loading and structs for the hako server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vector"
	"github.com/hyperjump/hako/internal/vectorstore"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`

	// baseDir is the directory of the loaded file; relative paths resolve against it.
	baseDir string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects the record store backend and the vector index parameters.
type StoreConfig struct {
	PersistDir      string `yaml:"persist_dir"`
	DatabasePath    string `yaml:"database_path"`
	Backend         string `yaml:"backend"`
	Codec           string `yaml:"codec"`
	IndexType       string `yaml:"index_type"`
	Metric          string `yaml:"metric"`
	Dimensions      int    `yaml:"dimensions"`
	Connectivity    int    `yaml:"connectivity"`
	ExpansionAdd    int    `yaml:"expansion_add"`
	ExpansionSearch int    `yaml:"expansion_search"`
	Quantization    string `yaml:"quantization"`
	BaseFetchCount  int    `yaml:"base_fetch_count"`
	FetchMultiplier int    `yaml:"fetch_multiplier"`
	SavePolicy      string `yaml:"save_policy"`
	KeywordIndex    string `yaml:"keyword_index"`
}

// Record store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// EmbeddingConfig holds embedder settings. An empty or missing model path selects the hash embedder.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// IngestConfig lists the definition sources loaded by `ingest` and watched by `serve`.
type IngestConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
}

// SearchConfig holds result window limits.
type SearchConfig struct {
	DefaultTop int `yaml:"default_top"`
	MaxTop     int `yaml:"max_top"`
}

// Load reads and parses the config file at path, applies defaults, expands paths and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.baseDir = filepath.Dir(abs)
	cfg.Store.PersistDir = expandPath(cfg.Store.PersistDir, cfg.baseDir)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, cfg.baseDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, cfg.baseDir)
	}
	for i := range cfg.Ingest.Directories {
		cfg.Ingest.Directories[i] = expandPath(cfg.Ingest.Directories[i], cfg.baseDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the store settings and the fields the engine does not see.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("%w: unknown store backend %q", vectorstore.ErrInvalidConfig, c.Store.Backend)
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("%w: database path is required", vectorstore.ErrInvalidConfig)
	}
	if _, err := storage.CodecByName(c.Store.Codec); err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrInvalidConfig, err)
	}
	if c.Embedding.Dimensions != 0 && c.Embedding.Dimensions != c.Store.Dimensions {
		return fmt.Errorf("%w: embedding dimensions %d differ from store dimensions %d",
			vectorstore.ErrInvalidConfig, c.Embedding.Dimensions, c.Store.Dimensions)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			vectorstore.ErrInvalidConfig, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return c.VectorStore().Validate()
}

// VectorStore maps the store section onto the engine configuration.
func (c *Config) VectorStore() vectorstore.Config {
	return vectorstore.Config{
		PersistDir:      c.Store.PersistDir,
		BaseDir:         c.baseDir,
		Dimensions:      c.Store.Dimensions,
		IndexType:       vector.IndexType(c.Store.IndexType),
		Metric:          vector.Metric(c.Store.Metric),
		Quantization:    vector.Quantization(c.Store.Quantization),
		Connectivity:    c.Store.Connectivity,
		ExpansionAdd:    c.Store.ExpansionAdd,
		ExpansionSearch: c.Store.ExpansionSearch,
		BaseFetchCount:  c.Store.BaseFetchCount,
		FetchMultiplier: c.Store.FetchMultiplier,
		SavePolicy:      vectorstore.SavePolicy(c.Store.SavePolicy),
		KeywordIndex:    c.Store.KeywordIndex,
	}
}

// ClampTop applies the default and maximum result window.
func (c *Config) ClampTop(top int) int {
	if top <= 0 {
		return c.Search.DefaultTop
	}
	return min(top, c.Search.MaxTop)
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

// expandPath makes path absolute. Relative paths, with or without "./", resolve against
// baseDir so the same file works from any working directory. "~/" expands to the home directory.
func expandPath(path string, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Join(baseDir, path)
}
