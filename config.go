package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrConfiguration = errors.New("invalid configuration")

// Vector dimensions of known embedding models; open_ai.dimension /
// gemini.dimension override for models not listed here.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"text-embedding-004":     768,
}

type ProviderConfig struct {
	Model     string `yaml:"model"`
	ChatModel string `yaml:"chat_model"`
	ApiKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
}

type CleanupConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MaxFileAgeHours float64 `yaml:"max_file_age_hours"`
	MaxStorageMb    int64   `yaml:"max_storage_mb"`
	MaxFileSizeMb   int64   `yaml:"max_file_size_mb"`
	IntervalMinutes int     `yaml:"interval_minutes"`
}

type Config struct {
	LogFile       string          `yaml:"log"`
	DocRoot       string          `yaml:"doc_root"`
	UploadDir     string          `yaml:"upload_dir"`
	DataDir       string          `yaml:"data_dir"`
	MergeEventsMs int             `yaml:"write_debounce_ms"`
	ChunkSize     int             `yaml:"chunk_size"`
	ChunkOverlap  int             `yaml:"chunk_overlap"`
	RequestSize   int             `yaml:"request_size"`
	Results       int             `yaml:"results"`
	MaxResults    int             `yaml:"max_results"`
	MinScore      float32         `yaml:"min_score"`
	ContextBudget int             `yaml:"context_budget"`
	ServerAddr    string          `yaml:"server_addr"`
	OpenAI        *ProviderConfig `yaml:"open_ai"`
	Gemini        *ProviderConfig `yaml:"gemini"`
	Cleanup       CleanupConfig   `yaml:"cleanup"`
}

func readConfig(cfgPath string) (*Config, error) {
	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := &Config{}
	dec := yaml.NewDecoder(cfgFile)
	err = dec.Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 512
	}
	if c.ChunkOverlap == 0 && c.ChunkSize > 50 {
		c.ChunkOverlap = 50
	}
	if c.RequestSize == 0 {
		c.RequestSize = 32
	}
	if c.Results == 0 {
		c.Results = 5
	}
	if c.MaxResults == 0 {
		c.MaxResults = 20
	}
	if c.ContextBudget == 0 {
		c.ContextBudget = 3000
	}
	if c.MergeEventsMs == 0 {
		c.MergeEventsMs = 500
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 10
	}
}

func (c *Config) validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrConfiguration)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size)", ErrConfiguration)
	}
	if c.OpenAI == nil && c.Gemini == nil {
		return fmt.Errorf("%w: an embeddings provider (open_ai or gemini) is required", ErrConfiguration)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be in [0, 1]", ErrConfiguration)
	}
	if c.Cleanup.MaxFileAgeHours < 0 || c.Cleanup.MaxStorageMb < 0 || c.Cleanup.MaxFileSizeMb < 0 {
		return fmt.Errorf("%w: cleanup limits must not be negative", ErrConfiguration)
	}
	if c.Cleanup.IntervalMinutes <= 0 {
		return fmt.Errorf("%w: cleanup interval_minutes must be positive", ErrConfiguration)
	}

	return nil
}

// embeddingDimension resolves the vector dimension fixed by the configured
// embedding model.
func (c *Config) embeddingDimension() (int, error) {
	provider := c.OpenAI
	if provider == nil {
		provider = c.Gemini
	}

	if provider.Dimension > 0 {
		return provider.Dimension, nil
	}
	if dim, ok := modelDimensions[provider.Model]; ok {
		return dim, nil
	}

	return 0, fmt.Errorf("%w: unknown embedding model %q, set dimension explicitly", ErrConfiguration, provider.Model)
}

func (c *Config) maxFileAge() time.Duration {
	return time.Duration(c.Cleanup.MaxFileAgeHours * float64(time.Hour))
}

func (c *Config) maxStorageBytes() int64 {
	return c.Cleanup.MaxStorageMb * 1024 * 1024
}

func (c *Config) maxFileSizeBytes() int64 {
	return c.Cleanup.MaxFileSizeMb * 1024 * 1024
}

func (c *Config) cleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}
