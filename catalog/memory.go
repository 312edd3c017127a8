package catalog

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/filter"
)

// MemorySource is an in-process Source backed by a map of Records.
// The record key is exposed to filters as the "id" field.
type MemorySource struct {
	modelType string
	mu        sync.RWMutex
	records   map[int64]*Record
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource creates a source for modelType holding the given records.
func NewMemorySource(modelType string, records ...*Record) *MemorySource {
	s := &MemorySource{
		modelType: modelType,
		records:   make(map[int64]*Record),
	}
	s.Put(records...)
	return s
}

func (s *MemorySource) Type() string { return s.modelType }

// Put inserts or replaces records. Their Type is forced to the source's type.
func (s *MemorySource) Put(records ...*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		cp := *r
		cp.Type = s.modelType
		cp.Fields = maps.Clone(r.Fields)
		s.records[r.Key] = &cp
	}
}

// Get returns a copy of the record with the given key.
func (s *MemorySource) Get(key int64) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return nil, false
	}
	cp := *r
	cp.Fields = maps.Clone(r.Fields)
	return &cp, true
}

// Delete removes a record.
func (s *MemorySource) Delete(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (s *MemorySource) sortedKeys() []int64 {
	keys := slices.Collect(maps.Keys(s.records))
	slices.Sort(keys)
	return keys
}

func (s *MemorySource) Chunk(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var only map[string]bool
	if q.IDs != nil {
		only = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			only[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var page []Item
	for _, k := range s.sortedKeys() {
		if k <= q.AfterKey {
			continue
		}
		r := s.records[k]
		if only != nil && !only[r.EmbeddingID()] {
			continue
		}
		cp := *r
		page = append(page, &cp)
		if q.Limit > 0 && len(page) == q.Limit {
			break
		}
	}
	return page, nil
}

func (s *MemorySource) Fetch(ctx context.Context, ids []string) ([]core.Embeddable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Embeddable, 0, len(ids))
	for _, id := range ids {
		k, ok := ParseKey(id)
		if !ok {
			continue
		}
		if r, ok := s.records[k]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemorySource) FilterIDs(ctx context.Context, expr *filter.Expr) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := expr.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []string{}
	for _, k := range s.sortedKeys() {
		r := s.records[k]
		fields := maps.Clone(r.Fields)
		if fields == nil {
			fields = map[string]any{}
		}
		fields["id"] = r.Key
		ok, err := expr.Matches(fields)
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, r.EmbeddingID())
		}
	}
	return ids, nil
}
