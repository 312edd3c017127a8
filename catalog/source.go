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


package catalog

import (
	"context"
	"strconv"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
)

// Item is an embeddable record with an integer primary key used for paging.
type Item interface {
	core.Embeddable
	PrimaryKey() int64
}

// Query selects one page of records.
type Query struct {
	// AfterKey restricts the page to records with a primary key greater than it.
	AfterKey int64

	// Limit is the maximum number of records returned.
	Limit int

	// IDs optionally restricts the page to the given record ids.
	// A nil slice means no restriction; an empty non-nil slice matches nothing.
	IDs []string
}

// Source provides the records of one type.
// Implementations must be safe for concurrent use.
type Source interface {
	// Type returns the type name the records are registered under.
	Type() string

	// Chunk returns up to q.Limit records with primary key greater than
	// q.AfterKey, ordered by primary key ascending.
	Chunk(ctx context.Context, q Query) ([]Item, error)

	// Fetch returns the records with the given ids. Unknown ids are skipped
	// and the order of the result is unspecified.
	Fetch(ctx context.Context, ids []string) ([]core.Embeddable, error)

	// FilterIDs returns the ids of all records satisfying expr, ordered by
	// primary key. A nil expr selects every record.
	FilterIDs(ctx context.Context, expr *filter.Expr) ([]string, error)
}

// Record is a generic Item carrying its field values. Sources built on SQL
// tables and the in-memory source both produce Records.
type Record struct {
	Key    int64
	Type   string
	Text   string
	Fields map[string]any
}

var _ Item = (*Record)(nil)

func (r *Record) EmbeddingID() string   { return FormatKey(r.Key) }
func (r *Record) EmbeddingType() string { return r.Type }
func (r *Record) EmbeddingText() string { return r.Text }
func (r *Record) PrimaryKey() int64     { return r.Key }

// Field returns the value of a field, or nil when it is not set.
func (r *Record) Field(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// FormatKey renders an integer primary key as a record id.
func FormatKey(key int64) string {
	return strconv.FormatInt(key, 10)
}

// ParseKey parses a record id back into an integer primary key.
func ParseKey(id string) (int64, bool) {
	k, err := strconv.ParseInt(id, 10, 64)
	return k, err == nil
}
