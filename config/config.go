// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"fmt"
	"time"

	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/jsonl"
	"github.com/poiesic/embedvector/matching"
	"github.com/poiesic/embedvector/staleness"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverChromem  = "chromem"
)

// Config is the complete process configuration.
type Config struct {
	Provider ProviderConfig `koanf:"provider"`
	Matching MatchingConfig `koanf:"matching"`
	Batch    BatchConfig    `koanf:"batch"`
	Embed    EmbedConfig    `koanf:"embed"`
	Storage  StorageConfig  `koanf:"storage"`
	Sync     SyncConfig     `koanf:"sync"`

	// Sources are SQL tables registered as searchable types.
	Sources []SourceConfig `koanf:"sources"`
}

// ProviderConfig configures the OpenAI-compatible provider.
type ProviderConfig struct {
	APIKey            string        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	EmbeddingModel    string        `koanf:"embedding_model"`
	Endpoint          string        `koanf:"endpoint"`
	CompletionWindow  string        `koanf:"completion_window"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout"`
}

// AIConfig converts the section into an ai.Config.
func (p ProviderConfig) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithAPIKey(p.APIKey),
		ai.WithBaseURL(p.BaseURL),
		ai.WithEmbeddingModel(p.EmbeddingModel),
		ai.WithCompletionWindow(p.CompletionWindow),
		ai.WithRequestsPerSecond(p.RequestsPerSecond),
		ai.WithTimeout(p.Timeout),
		func(c *ai.Config) { c.Endpoint = p.Endpoint },
	)
}

// MatchingConfig selects the distance metric and query strategy.
type MatchingConfig struct {
	Distance string `koanf:"distance"`
	Strategy string `koanf:"strategy"`
}

// BatchConfig configures file generation and the batch lifecycle.
type BatchConfig struct {
	ChunkSize       int           `koanf:"chunk_size"`
	LotSize         int           `koanf:"lot_size"`
	IngestBatchSize int           `koanf:"ingest_batch_size"`
	InputDir        string        `koanf:"input_dir"`
	OutputDir       string        `koanf:"output_dir"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	Workers         int           `koanf:"workers"`
}

// EmbedConfig configures synchronous bulk embedding.
type EmbedConfig struct {
	BatchSize  int           `koanf:"batch_size"`
	MaxRetries int           `koanf:"max_retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`
	Workers    int           `koanf:"workers"`
	Normalize  bool          `koanf:"normalize"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Driver is one of sqlite, postgres, badger or chromem.
	Driver string `koanf:"driver"`

	// DSN is the postgres connection string.
	DSN string `koanf:"dsn"`

	// Path is the sqlite file or the badger/chromem directory.
	Path string `koanf:"path"`

	// Dimensions is the vector length used for postgres HNSW indexes.
	// Zero skips index creation.
	Dimensions int `koanf:"dimensions"`
}

// SyncConfig configures staleness tracking.
type SyncConfig struct {
	// Queue is one of flag, table or redis.
	Queue     string `koanf:"queue"`
	RedisAddr string `koanf:"redis_addr"`
	RedisKey  string `koanf:"redis_key_prefix"`

	// Fields lists, per type, the fields whose change makes a record stale.
	Fields map[string][]string `koanf:"fields"`
}

// SourceConfig describes one SQL table holding records of a type.
type SourceConfig struct {
	Type        string   `koanf:"type"`
	Table       string   `koanf:"table"`
	Key         string   `koanf:"key"`
	Columns     []string `koanf:"columns"`
	TextColumns []string `koanf:"text_columns"`

	// Driver and DSN locate the table. When both are empty the table lives
	// in the storage database, which must then be sqlite or postgres.
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	p := ai.DefaultConfig()
	return &Config{
		Provider: ProviderConfig{
			BaseURL:           p.BaseURL,
			EmbeddingModel:    p.EmbeddingModel,
			Endpoint:          p.Endpoint,
			CompletionWindow:  p.CompletionWindow,
			RequestsPerSecond: p.RequestsPerSecond,
			Timeout:           p.Timeout,
		},
		Matching: MatchingConfig{
			Distance: string(core.MetricCosine),
			Strategy: string(matching.StrategyAuto),
		},
		Batch: BatchConfig{
			ChunkSize:       jsonl.DefaultChunkSize,
			LotSize:         jsonl.DefaultLotSize,
			IngestBatchSize: 500,
			InputDir:        "embeddings/input",
			OutputDir:       "embeddings/output",
			PollInterval:    time.Minute,
			Workers:         4,
		},
		Embed: EmbedConfig{
			BatchSize:  100,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Workers:    4,
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			Path:       "embedvector.db",
			Dimensions: 1536,
		},
		Sync: SyncConfig{
			Queue: staleness.VariantFlag,
		},
	}
}

// Validate checks every section. Errors wrap core.ErrConfiguration. The API
// key is not checked here; use RequireProvider before reaching the provider.
func (c *Config) Validate() error {
	metric, err := core.ParseMetric(c.Matching.Distance)
	if err != nil {
		return err
	}
	if _, err := matching.ParseStrategy(c.Matching.Strategy); err != nil {
		return err
	}

	positive := []struct {
		name  string
		value int
	}{
		{"batch.chunk_size", c.Batch.ChunkSize},
		{"batch.lot_size", c.Batch.LotSize},
		{"batch.ingest_batch_size", c.Batch.IngestBatchSize},
		{"batch.workers", c.Batch.Workers},
		{"embed.batch_size", c.Embed.BatchSize},
		{"embed.max_retries", c.Embed.MaxRetries},
		{"embed.workers", c.Embed.Workers},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", core.ErrConfiguration, p.name, p.value)
		}
	}
	if c.Batch.InputDir == "" || c.Batch.OutputDir == "" {
		return fmt.Errorf("%w: batch.input_dir and batch.output_dir are required", core.ErrConfiguration)
	}
	if c.Batch.PollInterval <= 0 {
		return fmt.Errorf("%w: batch.poll_interval must be positive", core.ErrConfiguration)
	}
	if c.Storage.Dimensions < 0 {
		return fmt.Errorf("%w: storage.dimensions must not be negative", core.ErrConfiguration)
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", core.ErrConfiguration)
		}
	case DriverSQLite, DriverBadger, DriverChromem:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for %s", core.ErrConfiguration, c.Storage.Driver)
		}
		if c.Storage.Driver == DriverChromem && metric != core.MetricCosine {
			return fmt.Errorf("%w: chromem storage supports only cosine distance, got %q", core.ErrConfiguration, c.Matching.Distance)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", core.ErrConfiguration, c.Storage.Driver)
	}

	switch c.Sync.Queue {
	case staleness.VariantFlag, staleness.VariantTable:
	case staleness.VariantRedis:
		if c.Sync.RedisAddr == "" {
			return fmt.Errorf("%w: sync.redis_addr is required for the redis queue", core.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown sync queue %q", core.ErrConfiguration, c.Sync.Queue)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if err := c.validateSource(src); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[src.Type] {
			return fmt.Errorf("%w: sources[%d]: type %q is declared twice", core.ErrConfiguration, i, src.Type)
		}
		seen[src.Type] = true
	}
	return nil
}

func (c *Config) validateSource(src SourceConfig) error {
	if src.Type == "" || src.Table == "" {
		return fmt.Errorf("%w: type and table are required", core.ErrConfiguration)
	}
	if len(src.TextColumns) == 0 {
		return fmt.Errorf("%w: source %q has no text_columns", core.ErrConfiguration, src.Type)
	}
	switch src.Driver {
	case "":
		if src.DSN != "" {
			return fmt.Errorf("%w: source %q sets dsn without a driver", core.ErrConfiguration, src.Type)
		}
		if c.Storage.Driver != DriverSQLite && c.Storage.Driver != DriverPostgres {
			return fmt.Errorf("%w: source %q needs a driver when storage is %s", core.ErrConfiguration, src.Type, c.Storage.Driver)
		}
	case DriverSQLite, DriverPostgres:
		if src.DSN == "" {
			return fmt.Errorf("%w: source %q needs a dsn", core.ErrConfiguration, src.Type)
		}
	default:
		return fmt.Errorf("%w: source %q: unsupported driver %q", core.ErrConfiguration, src.Type, src.Driver)
	}
	return nil
}

// RequireProvider validates the provider section, including the API key.
func (c *Config) RequireProvider() error {
	return c.Provider.AIConfig().Validate()
}
