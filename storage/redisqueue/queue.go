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


// Package redisqueue implements storage.SyncQueue on Redis sets, one set per
// model type, so several processes can share the queue.
package redisqueue

import (
	"context"
	"fmt"
	"slices"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the queue sets.
const DefaultKeyPrefix = "embedvector:syncq:"

// Queue is a SyncQueue backed by Redis sets.
type Queue struct {
	client redis.UniversalClient
	prefix string
}

var _ storage.SyncQueue = (*Queue)(nil)

// New creates a queue. An empty prefix uses DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", core.ErrConfiguration)
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Queue{client: client, prefix: prefix}, nil
}

func (q *Queue) key(modelType string) string {
	return q.prefix + modelType
}

// Enqueue adds keys to the per-type sets in one round trip.
func (q *Queue) Enqueue(ctx context.Context, keys ...core.Key) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	for modelType, ids := range groupByType(keys) {
		pipe.SAdd(ctx, q.key(modelType), ids...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Dequeue removes keys from the per-type sets.
func (q *Queue) Dequeue(ctx context.Context, keys ...core.Key) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	for modelType, ids := range groupByType(keys) {
		pipe.SRem(ctx, q.key(modelType), ids...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Members returns the queued ids of a type, sorted ascending.
func (q *Queue) Members(ctx context.Context, modelType string) ([]string, error) {
	ids, err := q.client.SMembers(ctx, q.key(modelType)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// Contains reports whether the key is queued.
func (q *Queue) Contains(ctx context.Context, key core.Key) (bool, error) {
	return q.client.SIsMember(ctx, q.key(key.ModelType), key.ModelID).Result()
}

func groupByType(keys []core.Key) map[string][]any {
	out := make(map[string][]any)
	for _, k := range keys {
		out[k.ModelType] = append(out[k.ModelType], k.ModelID)
	}
	return out
}
