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


// Package ai defines the boundary to the embedding provider.
//
// Two services are exposed, and a Provider aggregates them so they share
// configuration and lifecycle:
//
//   - Embedder: synchronous embeddings for one text or a page of texts
//   - BatchClient: the asynchronous batch API (upload a JSONL file, create a
//     job, poll it, download the result file)
//
// # Implementation Packages
//
//   - ai/openai: OpenAI and OpenAI-compatible servers
//   - ai/mock: deterministic test doubles, including an in-memory batch API
//
// Public constructors return interface types. Mock constructors return
// concrete types so tests can inject behavior and inspect call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithAPIKey(os.Getenv("OPENAI_API_KEY")))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	fileID, err := provider.BatchClient().UploadFile(ctx, "embeddings_1.jsonl", f, ai.PurposeBatch)
//	job, err := provider.BatchClient().CreateBatchJob(ctx, fileID, cfg.Endpoint, cfg.CompletionWindow)
package ai
