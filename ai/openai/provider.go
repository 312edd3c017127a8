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


package openai

import (
	"log/slog"
	"net/http"

	"github.com/poiesic/embedvector/ai"
)

// Provider implements ai.Provider using OpenAI-compatible services.
// It manages the embedder and batch client instances.
type Provider struct {
	config   *ai.Config
	embedder *Embedder
	batches  *BatchClient
	logger   *slog.Logger
}

// Option configures a Provider.
type Option func(*providerOptions)

type providerOptions struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// WithLogger sets the logger used by the provider and its services.
func WithLogger(logger *slog.Logger) Option {
	return func(o *providerOptions) {
		o.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for the batch API.
func WithHTTPClient(client *http.Client) Option {
	return func(o *providerOptions) {
		o.httpClient = client
	}
}

// NewProvider creates a new provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.Provider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config, opts ...Option) (ai.Provider, error) {
	return newProvider(config, opts...)
}

func newProvider(config *ai.Config, opts ...Option) (*Provider, error) {
	o := providerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config, o.logger)
	if err != nil {
		return nil, err
	}

	batches, err := newBatchClient(config, o.httpClient, o.logger)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:   config,
		embedder: embedder,
		batches:  batches,
		logger:   o.logger.With("component", "openai-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// BatchClient returns the batch API client.
func (p *Provider) BatchClient() ai.BatchClient {
	return p.batches
}

// Close releases resources held by the provider.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	p.batches.http.CloseIdleConnections()
	return nil
}
