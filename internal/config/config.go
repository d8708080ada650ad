// Package config provides configuration management for taxon.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/taxon/internal/cluster"
	"github.com/thebtf/taxon/internal/embedding"
	"github.com/thebtf/taxon/internal/index"
	"github.com/thebtf/taxon/internal/manifold"
	"github.com/thebtf/taxon/internal/profile"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// Environment overrides, applied after the config file.
const (
	EnvOllamaURL = "TAXON_OLLAMA_URL"
	EnvModel     = "TAXON_MODEL"
)

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	Dimensions     int    `yaml:"dimensions"`
	BatchSize      int    `yaml:"batch_size"`
	MaxTokens      int    `yaml:"max_tokens"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ReduceConfig tunes the dimensionality reduction stage.
type ReduceConfig struct {
	NNeighbors  int    `yaml:"n_neighbors"`
	NComponents int    `yaml:"n_components"`
	Metric      string `yaml:"metric"`
	NEpochs     int    `yaml:"n_epochs"`
	Seed        int64  `yaml:"seed"`
}

// ClusterConfig tunes the density clustering stage.
type ClusterConfig struct {
	MinClusterSize int `yaml:"min_cluster_size"`
	MinSamples     int `yaml:"min_samples"`
}

// ProfileConfig tunes cluster characterization.
type ProfileConfig struct {
	TopKeywords   int `yaml:"top_keywords"`
	TopMetadata   int `yaml:"top_metadata"`
	Exemplars     int `yaml:"exemplars"`
	MinWordLength int `yaml:"min_word_length"`
}

// PrivacyConfig controls redaction of document text.
type PrivacyConfig struct {
	Redact bool `yaml:"redact"`
}

// Config is the full taxon configuration.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reduce    ReduceConfig    `yaml:"reduce"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Profile   ProfileConfig   `yaml:"profile"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:       ProviderOllama,
			Model:          embedding.DefaultModel,
			BaseURL:        embedding.DefaultBaseURL,
			Dimensions:     embedding.DefaultDimensions,
			BatchSize:      index.DefaultBatchSize,
			MaxTokens:      index.DefaultMaxTokens,
			TimeoutSeconds: 60,
		},
		Reduce: ReduceConfig{
			NNeighbors:  manifold.DefaultNNeighbors,
			NComponents: manifold.DefaultNComponents,
			Metric:      manifold.DefaultMetric,
			NEpochs:     manifold.DefaultNEpochs,
			Seed:        manifold.DefaultSeed,
		},
		Cluster: ClusterConfig{
			MinClusterSize: cluster.DefaultMinClusterSize,
			MinSamples:     cluster.DefaultMinSamples,
		},
		Profile: ProfileConfig{
			TopKeywords:   profile.DefaultTopKeywords,
			TopMetadata:   profile.DefaultTopMetadata,
			Exemplars:     profile.DefaultExemplars,
			MinWordLength: 4,
		},
		Privacy: PrivacyConfig{
			Redact: true,
		},
	}
}

// DataDir returns the taxon data directory (~/.taxon).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".taxon")
}

// DBPath returns the vector store path inside the data directory.
func DBPath() string {
	return filepath.Join(DataDir(), "vectors.db")
}

// HistoryPath returns the run history database path.
func HistoryPath() string {
	return filepath.Join(DataDir(), "history.db")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// Load reads configuration from path, or from ConfigPath() when path is
// empty. A missing file yields the defaults. A malformed file also
// yields the defaults, with a warning, so a typo in one key never
// bricks the tool. Environment overrides apply last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Malformed config, using defaults")
			cfg = Default()
		}
	}

	if url := os.Getenv(EnvOllamaURL); url != "" {
		cfg.Embedding.BaseURL = url
	}
	if model := os.Getenv(EnvModel); model != "" {
		cfg.Embedding.Model = model
	}
	return cfg, nil
}
