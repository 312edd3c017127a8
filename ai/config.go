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


package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/embedvector/core"
)

// Config holds configuration for the embedding provider.
type Config struct {
	// APIKey authenticates against the provider. Local OpenAI-compatible
	// servers accept any non-empty value.
	APIKey string

	// BaseURL is the base URL of the provider API.
	// Example: "https://api.openai.com/v1", "http://localhost:1234/v1"
	BaseURL string

	// EmbeddingModel is the model identifier used for embeddings, both in
	// batch request lines and synchronous calls.
	EmbeddingModel string

	// Endpoint is the provider endpoint batch jobs run against.
	Endpoint string

	// CompletionWindow is the time frame the provider has to finish a job.
	CompletionWindow string

	// RequestsPerSecond paces calls to the batch API. Zero disables pacing.
	RequestsPerSecond float64

	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL sets the provider base URL.
func WithBaseURL(url string) ConfigOption {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithCompletionWindow sets the batch completion window.
func WithCompletionWindow(window string) ConfigOption {
	return func(c *Config) {
		c.CompletionWindow = window
	}
}

// WithRequestsPerSecond sets the batch API pacing.
func WithRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// DefaultConfig returns a Config targeting the OpenAI API. The API key is
// left empty and must be provided.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://api.openai.com/v1",
		EmbeddingModel:    "text-embedding-3-small",
		Endpoint:          "/v1/embeddings",
		CompletionWindow:  "24h",
		RequestsPerSecond: 5,
		Timeout:           2 * time.Minute,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    WithEmbeddingModel("text-embedding-3-large"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It adds the /v1 suffix to the base URL if missing, which is required by
// most OpenAI-compatible APIs (LM Studio, Ollama, vLLM).
func (c *Config) Normalize() {
	if c.BaseURL != "" && !strings.HasSuffix(c.BaseURL, "/v1") {
		c.BaseURL = strings.TrimSuffix(c.BaseURL, "/") + "/v1"
	}
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration before validation. Errors wrap
// core.ErrConfiguration.
func (c *Config) Validate() error {
	c.Normalize()

	if c.APIKey == "" {
		return fmt.Errorf("%w: ai config: APIKey is required", core.ErrConfiguration)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: ai config: BaseURL is required", core.ErrConfiguration)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: ai config: EmbeddingModel is required", core.ErrConfiguration)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("%w: ai config: Endpoint is required", core.ErrConfiguration)
	}
	if c.CompletionWindow == "" {
		return fmt.Errorf("%w: ai config: CompletionWindow is required", core.ErrConfiguration)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: ai config: RequestsPerSecond must not be negative", core.ErrConfiguration)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: ai config: Timeout must not be negative", core.ErrConfiguration)
	}
	return nil
}
