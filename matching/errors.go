package matching

import "errors"

var (
	// ErrStrategyUnavailable indicates the optimized strategy was requested
	// for a target that is not co-located with the vector store.
	ErrStrategyUnavailable = errors.New("search strategy unavailable")

	// ErrRegistryRequired indicates a nil registry was provided.
	ErrRegistryRequired = errors.New("registry is required")

	// ErrVectorStoreRequired indicates a nil vector store was provided.
	ErrVectorStoreRequired = errors.New("vector store is required")

	// ErrEmbedderRequired indicates a nil embedder was provided.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrSourceRequired indicates a request without a source record.
	ErrSourceRequired = errors.New("source record is required")
)
