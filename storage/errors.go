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


package storage

import "errors"

// Errors shared by every backend. Backends wrap them with the key or batch
// id involved, so match with errors.Is.
var (
	// ErrNotFound is returned for a missing embedding or batch.
	ErrNotFound = errors.New("not found in vector store")

	// ErrDuplicateKey is returned by CreateBatch for a batch id that exists.
	ErrDuplicateKey = errors.New("batch id already exists")

	// ErrStorageClosed is returned by any call after Close.
	ErrStorageClosed = errors.New("vector store is closed")

	// ErrInvalidQuery rejects a NearestQuery without a type, vector or
	// positive limit.
	ErrInvalidQuery = errors.New("invalid nearest-neighbor query")

	// ErrUnsupportedMetric means the backend cannot rank by the metric.
	ErrUnsupportedMetric = errors.New("unsupported distance metric")

	// ErrSerializationFailed wraps codec errors for stored values.
	ErrSerializationFailed = errors.New("stored value codec failed")

	// ErrTruncatedData means a vector blob's length is not a multiple of 4.
	ErrTruncatedData = errors.New("vector blob truncated")
)
