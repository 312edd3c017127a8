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


// Package batch drives the asynchronous embedding lifecycle.
//
//	generate -> Submitter -> provider (async) -> Poller -> Ingester -> vector store
//
// A Batch is created in "validating" when its input file has been uploaded
// and a provider job started. The Poller refreshes open batches, downloads
// the result file when the provider reports completion, and hands the batch
// to the Ingester, which upserts the vectors and archives the batch.
//
// No lock is taken on a batch. Two concurrent poll cycles may ingest the same
// file twice; upserts keyed by (model_id, model_type) and deleting the result
// file as the very last step make that harmless.
//
// Submission and ingestion report a core.Outcome so a caller driving several
// types in one run can report partial success.
package batch
