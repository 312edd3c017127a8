// Package catalog registers the record types that can be embedded and
// searched.
//
// Each type is served by a Source that can page its records by primary key,
// fetch records by id and resolve a filter expression to a set of ids. Sources
// whose records live in a SQL table also describe that table, which lets a
// vector store in the same database answer match queries with a single join.
package catalog
