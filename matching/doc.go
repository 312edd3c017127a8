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


// Package matching ranks the records of a target type by vector similarity
// to a source record.
//
// The source vector is resolved first: a missing or stale vector is embedded
// synchronously and stored before the query runs. Then one of two query
// strategies is used:
//
//   - optimized: the vector store and the target table share a database, so
//     one statement joins them, filters, scores and limits.
//   - cross_connection: matching ids are resolved from the target source,
//     the vector store ranks them, and the records are fetched by id.
//
// StrategyAuto picks optimized whenever co-location can be established.
// Both strategies order by distance ascending with ties broken by model id,
// so they return the same ranking for the same stored state.
//
// # Usage
//
//	engine, err := matching.NewEngine(registry, store, provider.Embedder(),
//	    matching.WithMetric(core.MetricCosine),
//	    matching.WithTracker(tracker),
//	)
//	matches, err := engine.Match(ctx, matching.Request{
//	    Source:     customer,
//	    TargetType: "job",
//	    TopK:       5,
//	    Filter:     filter.Eq("status", "open"),
//	})
package matching
