package staleness

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/poiesic/embedvector/core"
)

// Watcher marks records stale when a watched field changes.
type Watcher struct {
	tracker Tracker
	fields  map[string][]string
	logger  *slog.Logger
}

// NewWatcher creates a watcher. fields maps a type name to the fields whose
// changes make its vector stale.
func NewWatcher(tracker Tracker, fields map[string][]string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		tracker: tracker,
		fields:  fields,
		logger:  logger.With("component", "staleness-watcher"),
	}
}

// Changed reports whether any field watched for modelType differs between
// before and after.
func (w *Watcher) Changed(modelType string, before, after map[string]any) bool {
	for _, f := range w.fields[modelType] {
		if !reflect.DeepEqual(before[f], after[f]) {
			return true
		}
	}
	return false
}

// Observe is called after a record was saved with its previous and current
// field values. It marks the record stale when a watched field changed and
// reports whether it did.
func (w *Watcher) Observe(ctx context.Context, e core.Embeddable, before, after map[string]any) (bool, error) {
	if !w.Changed(e.EmbeddingType(), before, after) {
		return false, nil
	}
	key := core.KeyOf(e)
	if err := w.tracker.MarkStale(ctx, key); err != nil {
		return false, err
	}
	w.logger.Debug("record marked stale", "key", key.String())
	return true, nil
}
