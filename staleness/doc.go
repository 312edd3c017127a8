// Package staleness records which stored vectors no longer match their
// source records.
//
// Two storage variants implement Tracker:
//
//   - FlagTracker sets embedding_sync_required on the embedding row. Records
//     that were never embedded cannot be flagged; init mode covers them.
//   - QueueTracker adds the record to a member-once sync queue, either a
//     table in the vector store's database or a redis set.
//
// Watcher decides when a change to a record makes its vector stale: only
// changes to the fields configured for its type count, and a type with no
// configured fields never becomes stale automatically.
package staleness
