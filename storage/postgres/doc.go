// Package postgres implements the storage interfaces on PostgreSQL with the
// pgvector extension.
//
// Distances use pgvector's operators (<=> for cosine, <-> for L2). When the
// store knows the vector dimension it declares a fixed-width column and an
// HNSW index for the configured metric. Rows are always ordered by distance
// and then by model id in byte order, so results agree with the other
// backends even when distances tie.
package postgres
