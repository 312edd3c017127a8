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


// Package storage defines the persistence boundary for embeddings, batch
// jobs and the sync queue.
//
// Callers are written against the interfaces in this package and never
// against a concrete backend:
//
//   - VectorStore: one vector per (model_id, model_type), upsert-only writes,
//     stale flags and nearest-neighbour queries using the store's own
//     distance operators.
//   - JoinSearcher: optional capability of a VectorStore that shares a
//     database with the records it embeds and can rank them in one query.
//   - BatchRepository: the local record of provider batch jobs.
//   - SyncQueue: a member-once set of records due for re-embedding.
//
// # Backends
//
//   - sqlite: embedded-column style store in the same SQLite database as the
//     application tables. Implements every interface including JoinSearcher.
//   - postgres: pgvector-backed store. Implements every interface including
//     JoinSearcher.
//   - badger: separate key-value store. VectorStore, BatchRepository, SyncQueue.
//   - chromem: separate embedded vector database. VectorStore only.
//   - redisqueue: SyncQueue only.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. Writes to the vector
// table always go through the upsert path so concurrent ingestion of the same
// result file cannot create duplicate rows.
package storage
