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
	"context"
	"io"
)

// PurposeBatch is the upload purpose of batch input files.
const PurposeBatch = "batch"

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error wrapping core.ErrNoEmbeddingFound if the provider
	// answered without a vector.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// BatchJob is the provider's view of an asynchronous embedding job.
type BatchJob struct {
	ID           string
	InputFileID  string
	Status       string // Raw provider status, see core.NormalizeStatus
	OutputFileID string // Set once the provider has produced results
	ErrorMessage string
}

// BatchClient talks to the provider's files and batches APIs.
// Implementations must be thread-safe for concurrent use.
type BatchClient interface {
	// UploadFile uploads the content read from r and returns the provider file id.
	UploadFile(ctx context.Context, name string, r io.Reader, purpose string) (string, error)

	// CreateBatchJob starts a job over an uploaded input file.
	CreateBatchJob(ctx context.Context, inputFileID, endpoint, completionWindow string) (*BatchJob, error)

	// GetJobStatus returns the current state of a job.
	GetJobStatus(ctx context.Context, jobID string) (*BatchJob, error)

	// DownloadFile streams the content of a provider file. The caller closes it.
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Provider aggregates the provider services for initialization and lifecycle
// management.
type Provider interface {
	// Embedder returns the synchronous embedding service.
	Embedder() Embedder

	// BatchClient returns the batch API client.
	BatchClient() BatchClient

	// Close releases resources held by the provider and its services.
	Close() error
}
