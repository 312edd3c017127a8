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


package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/embedvector/core"
)

// Key prefixes for different data types
const (
	embeddingPrefix    = "emb"
	syncRequiredPrefix = "embsync"
	batchPrefix        = "batch"
	batchOrderPrefix   = "batchord"
	syncQueuePrefix    = "syncq"
)

// makeEmbeddingKey generates the primary key of an embedding.
// Format: prefix:type:id
func makeEmbeddingKey(key core.Key) []byte {
	return append(makeEmbeddingTypePrefix(key.ModelType), key.ModelID...)
}

// makeEmbeddingTypePrefix generates the scan prefix for every embedding of a type.
func makeEmbeddingTypePrefix(modelType string) []byte {
	return typedPrefix(embeddingPrefix, modelType)
}

// makeSyncRequiredKey generates the stale-flag index key of an embedding.
// Format: prefix:type:id
func makeSyncRequiredKey(key core.Key) []byte {
	return append(typedPrefix(syncRequiredPrefix, key.ModelType), key.ModelID...)
}

func makeSyncRequiredTypePrefix(modelType string) []byte {
	return typedPrefix(syncRequiredPrefix, modelType)
}

// makeBatchKey generates the primary key of a batch.
func makeBatchKey(batchID string) []byte {
	return []byte(batchPrefix + ":" + batchID)
}

// makeBatchOrderKey generates a composite key for the creation-order index.
// Format: prefix:timestamp:id
func makeBatchOrderKey(createdAt time.Time, batchID string) []byte {
	prefix := batchOrderPrefix + ":"
	buf := make([]byte, len(prefix)+8+len(batchID))
	offset := copy(buf, prefix)
	// BigEndian so lexicographic order is chronological
	binary.BigEndian.PutUint64(buf[offset:], uint64(createdAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], batchID)
	return buf
}

// makeSyncQueueKey generates the key of a queued record.
// Format: prefix:type:id
func makeSyncQueueKey(key core.Key) []byte {
	return append(makeSyncQueueTypePrefix(key.ModelType), key.ModelID...)
}

func makeSyncQueueTypePrefix(modelType string) []byte {
	return typedPrefix(syncQueuePrefix, modelType)
}

func typedPrefix(prefix, modelType string) []byte {
	buf := make([]byte, 0, len(prefix)+len(modelType)+2)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	buf = append(buf, modelType...)
	return append(buf, ':')
}
