// Package config loads the YAML configuration file and applies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	CatalogPath string `yaml:"catalog_path"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	Backend string       `yaml:"backend"`
	Qdrant  QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig configures the remote Qdrant backend.
type QdrantConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	Collection     string `yaml:"collection"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Dimensions int    `yaml:"dimensions"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	CacheSize  int    `yaml:"cache_size"`
}

// SearchConfig bounds and defaults for search parameters.
type SearchConfig struct {
	DefaultK       int     `yaml:"default_k"`
	MaxK           int     `yaml:"max_k"`
	DefaultAlpha   float64 `yaml:"default_alpha"`
	CandidatePool  int     `yaml:"candidate_pool"`
	AnswerMaxChars int     `yaml:"answer_max_chars"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// WatchConfig configures the drop-directory auto-ingest watcher.
type WatchConfig struct {
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
}

// Load reads the configuration from path. A missing file is not an error:
// defaults apply. Paths in the result are absolute with ~ expanded.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.expandPaths()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8400,
		},
		Storage: StorageConfig{
			DataDir:     "~/.quarry/data",
			CatalogPath: "~/.quarry/catalog.db",
		},
		Vector: VectorConfig{
			Backend: "local",
			Qdrant: QdrantConfig{
				URL:            "http://127.0.0.1:6333",
				Collection:     "quarry",
				TimeoutSeconds: 15,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "mock",
			Dimensions: 384,
			APIKeyEnv:  "QUARRY_EMBED_API_KEY",
			CacheSize:  2048,
		},
		Search: SearchConfig{
			DefaultK:       5,
			MaxK:           50,
			DefaultAlpha:   0.5,
			CandidatePool:  50,
			AnswerMaxChars: 600,
		},
		Chunking: ChunkingConfig{
			MaxChars: 500,
		},
		Watch: WatchConfig{
			Extensions: []string{".txt", ".md"},
		},
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := defaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Storage.CatalogPath == "" {
		c.Storage.CatalogPath = d.Storage.CatalogPath
	}
	if c.Vector.Backend == "" {
		c.Vector.Backend = d.Vector.Backend
	}
	if c.Vector.Qdrant.URL == "" {
		c.Vector.Qdrant.URL = d.Vector.Qdrant.URL
	}
	if c.Vector.Qdrant.Collection == "" {
		c.Vector.Qdrant.Collection = d.Vector.Qdrant.Collection
	}
	if c.Vector.Qdrant.TimeoutSeconds == 0 {
		c.Vector.Qdrant.TimeoutSeconds = d.Vector.Qdrant.TimeoutSeconds
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = d.Embedding.Provider
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = d.Embedding.Dimensions
	}
	if c.Embedding.APIKeyEnv == "" {
		c.Embedding.APIKeyEnv = d.Embedding.APIKeyEnv
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = d.Embedding.CacheSize
	}
	if c.Search.DefaultK == 0 {
		c.Search.DefaultK = d.Search.DefaultK
	}
	if c.Search.MaxK == 0 {
		c.Search.MaxK = d.Search.MaxK
	}
	if c.Search.DefaultAlpha == 0 {
		c.Search.DefaultAlpha = d.Search.DefaultAlpha
	}
	if c.Search.CandidatePool == 0 {
		c.Search.CandidatePool = d.Search.CandidatePool
	}
	if c.Search.AnswerMaxChars == 0 {
		c.Search.AnswerMaxChars = d.Search.AnswerMaxChars
	}
	if c.Chunking.MaxChars == 0 {
		c.Chunking.MaxChars = d.Chunking.MaxChars
	}
	if len(c.Watch.Extensions) == 0 {
		c.Watch.Extensions = d.Watch.Extensions
	}
}

func (c *Config) expandPaths() {
	c.Storage.DataDir = expandPath(c.Storage.DataDir)
	c.Storage.CatalogPath = expandPath(c.Storage.CatalogPath)
	if c.Watch.Directory != "" {
		c.Watch.Directory = expandPath(c.Watch.Directory)
	}
}

func (c *Config) validate() error {
	if c.Search.DefaultAlpha < 0 || c.Search.DefaultAlpha > 1 {
		return fmt.Errorf("search.default_alpha must be between 0 and 1, got %v", c.Search.DefaultAlpha)
	}
	if c.Search.DefaultK > c.Search.MaxK {
		return fmt.Errorf("search.default_k (%d) must not exceed search.max_k (%d)", c.Search.DefaultK, c.Search.MaxK)
	}
	switch c.Vector.Backend {
	case "local", "qdrant":
	default:
		return fmt.Errorf("vector.backend must be local or qdrant, got %q", c.Vector.Backend)
	}
	switch c.Embedding.Provider {
	case "mock", "openai":
	default:
		return fmt.Errorf("embedding.provider must be mock or openai, got %q", c.Embedding.Provider)
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandPath resolves a leading ~ against the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
