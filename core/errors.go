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


package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indicates missing or invalid configuration such as
	// provider credentials.
	ErrConfiguration = errors.New("configuration error")

	// ErrFileOperationFailed indicates a local file could not be created,
	// written, read or removed.
	ErrFileOperationFailed = errors.New("file operation failed")

	// ErrProviderRequestFailed indicates an upload, job creation, status poll or
	// download against the embedding provider failed.
	ErrProviderRequestFailed = errors.New("provider request failed")

	// ErrInvalidModel indicates a record type lacks a required capability or
	// is not registered.
	ErrInvalidModel = errors.New("invalid model")

	// ErrNoEmbeddingFound indicates the provider returned no vector.
	ErrNoEmbeddingFound = errors.New("no embedding found")

	// ErrUnreadable indicates a downloaded result file could not be opened.
	ErrUnreadable = errors.New("result file unreadable")

	// ErrBatchNotFound indicates no batch exists with the given id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrInvalidTransition indicates a batch status change that would move
	// the lifecycle backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid batch status transition")

	// ErrDimensionMismatch indicates two vectors of different length were compared.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidEmbedding indicates an Embedding failed validation.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrInvalidBatch indicates a Batch failed validation.
	ErrInvalidBatch = errors.New("invalid batch")
)

// FileOperationFailed wraps a local I/O error with the operation and path.
func FileOperationFailed(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrFileOperationFailed, op, path, err)
}

// ProviderRequestFailed wraps a provider error with the operation name.
func ProviderRequestFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProviderRequestFailed, op, err)
}

// InvalidModel reports that modelType does not provide capability.
func InvalidModel(modelType, capability string) error {
	return fmt.Errorf("%w: %q must implement %s", ErrInvalidModel, modelType, capability)
}
