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


// Package jsonl reads and writes the newline-delimited JSON files exchanged
// with the batch embedding API.
//
// Generator streams the records of a catalog.Source into request files of at
// most LotSize lines each, paging the source by primary key. Reader streams
// a downloaded result file one line at a time.
//
// Files are written to <root>/<type>/<mode>/embeddings_<n>.jsonl with n
// starting at 1. The directory is cleared before generation, and a source
// that yields no records produces no file at all.
package jsonl
