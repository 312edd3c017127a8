// Package sqlite implements every storage interface on a SQLite database
// using the pure Go modernc.org/sqlite driver.
//
// Vectors are stored as little-endian float32 BLOBs in the embeddings table
// and compared with the vec_distance_cosine and vec_distance_l2 SQL functions
// registered by this package. When application tables live in the same
// database the store also implements storage.JoinSearcher.
package sqlite
