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


package mock

import "github.com/poiesic/embedvector/ai"

// MockProvider is a test double for ai.Provider.
// It aggregates a mock embedder and a mock batch client.
type MockProvider struct {
	embedder *MockEmbedder
	batches  *MockBatchClient
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns the concrete type so tests can reach the mocks through
// GetMockEmbedder and GetMockBatchClient.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder: NewMockEmbedder(),
		batches:  NewMockBatchClient(),
	}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
func NewMockProviderWithServices(embedder *MockEmbedder, batches *MockBatchClient) *MockProvider {
	return &MockProvider{
		embedder: embedder,
		batches:  batches,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// BatchClient returns the mock batch client.
func (p *MockProvider) BatchClient() ai.BatchClient {
	return p.batches
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockBatchClient returns the underlying mock batch client for test assertions.
func (p *MockProvider) GetMockBatchClient() *MockBatchClient {
	return p.batches
}

var (
	_ ai.Provider    = (*MockProvider)(nil)
	_ ai.Embedder    = (*MockEmbedder)(nil)
	_ ai.BatchClient = (*MockBatchClient)(nil)
)
