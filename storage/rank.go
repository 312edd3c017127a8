package storage

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/poiesic/embedvector/core"
)

// Validate checks the query parameters.
func (q *NearestQuery) Validate() error {
	if q.ModelType == "" {
		return fmt.Errorf("%w: model type is empty", ErrInvalidQuery)
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: query vector is empty", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidQuery)
	}
	if _, err := core.ParseMetric(string(q.Metric)); err != nil {
		return err
	}
	return nil
}

// Candidates returns a predicate applying the IDs restriction and the
// exclusion list of the query.
func (q *NearestQuery) Candidates() func(modelID string) bool {
	var only map[string]bool
	if q.IDs != nil {
		only = make(map[string]bool, len(q.IDs))
		for _, id := range q.IDs {
			only[id] = true
		}
	}
	excluded := make(map[string]bool, len(q.Exclude))
	for _, id := range q.Exclude {
		excluded[id] = true
	}
	return func(id string) bool {
		if excluded[id] {
			return false
		}
		return only == nil || only[id]
	}
}

// CompareNeighbors orders by distance ascending, then model id ascending.
func CompareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	return cmp.Compare(a.ModelID, b.ModelID)
}

// RankNeighbors sorts neighbours and truncates them to limit. Backends that
// compute distances in process use it so their ordering matches SQL backends.
func RankNeighbors(neighbors []Neighbor, limit int) []Neighbor {
	slices.SortFunc(neighbors, CompareNeighbors)
	if limit > 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors
}

// NewNeighbor computes distance and match percent for a stored vector.
func NewNeighbor(metric core.Metric, modelID string, query, stored []float32) (Neighbor, error) {
	d, err := metric.Distance(query, stored)
	if err != nil {
		return Neighbor{}, fmt.Errorf("%s: %w", modelID, err)
	}
	return Neighbor{ModelID: modelID, Distance: d, MatchPercent: core.MatchPercent(d)}, nil
}
