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

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/poiesic/embedvector/core"
)

// EncodeVector serializes a vector as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector deserializes a vector written by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob of %d bytes", ErrTruncatedData, len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}

type embeddingRecord struct {
	ModelID      string    `json:"model_id"`
	ModelType    string    `json:"model_type"`
	Vector       []byte    `json:"embedding"`
	SyncRequired bool      `json:"embedding_sync_required"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MarshalEmbedding serializes an embedding for key-value backends.
func MarshalEmbedding(e *core.Embedding) ([]byte, error) {
	data, err := json.Marshal(embeddingRecord{
		ModelID:      e.ModelID,
		ModelType:    e.ModelType,
		Vector:       EncodeVector(e.Vector),
		SyncRequired: e.SyncRequired,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalEmbedding deserializes an embedding written by MarshalEmbedding.
func UnmarshalEmbedding(data []byte) (*core.Embedding, error) {
	var rec embeddingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	vec, err := DecodeVector(rec.Vector)
	if err != nil {
		return nil, err
	}
	return &core.Embedding{
		ModelID:      rec.ModelID,
		ModelType:    rec.ModelType,
		Vector:       vec,
		SyncRequired: rec.SyncRequired,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

type batchRecord struct {
	BatchID         string           `json:"batch_id"`
	InputFileID     string           `json:"input_file_id"`
	OutputFileID    string           `json:"output_file_id,omitempty"`
	SavedFilePath   string           `json:"saved_file_path,omitempty"`
	EmbeddableModel string           `json:"embeddable_model"`
	Status          core.BatchStatus `json:"status"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// MarshalBatch serializes a batch for key-value backends.
func MarshalBatch(b *core.Batch) ([]byte, error) {
	data, err := json.Marshal(batchRecord(*b))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalBatch deserializes a batch written by MarshalBatch.
func UnmarshalBatch(data []byte) (*core.Batch, error) {
	var rec batchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	b := core.Batch(rec)
	return &b, nil
}
