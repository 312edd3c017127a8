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


package reembed

import (
	"context"

	"github.com/poiesic/embedvector/catalog"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each page
	DefaultBatchSize = 100
)

// ItemIterator pages over the records of one source in primary key order.
type ItemIterator struct {
	source    catalog.Source
	batchSize int
	ids       []string
}

// NewItemIterator creates a new iterator.
// batchSize: number of records to fetch in each page (<= 0 selects DefaultBatchSize)
// ids: optional restriction to these record ids; nil means every record
func NewItemIterator(source catalog.Source, batchSize int, ids []string) *ItemIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ItemIterator{
		source:    source,
		batchSize: batchSize,
		ids:       ids,
	}
}

// ForEach calls fn for each page of records.
// Iteration stops on the first error from fn or when the source is exhausted.
// Context cancellation is checked between pages.
func (it *ItemIterator) ForEach(ctx context.Context, fn func([]catalog.Item) error) error {
	if it.ids != nil && len(it.ids) == 0 {
		return nil
	}

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := it.source.Chunk(ctx, catalog.Query{AfterKey: after, Limit: it.batchSize, IDs: it.ids})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}

		if len(page) < it.batchSize {
			return nil
		}
		after = page[len(page)-1].PrimaryKey()
	}
}
