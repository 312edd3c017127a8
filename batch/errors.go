package batch

import "errors"

var (
	// ErrNoFilesGenerated indicates a type had nothing to embed in the
	// requested mode.
	ErrNoFilesGenerated = errors.New("no files were generated for batch embedding")

	// ErrBatchNotReady indicates a batch is not in the completed state.
	ErrBatchNotReady = errors.New("batch is not ready for processing")

	// ErrBatchClientRequired indicates a nil batch client was provided.
	ErrBatchClientRequired = errors.New("batch client is required")

	// ErrBatchRepositoryRequired indicates a nil batch repository was provided.
	ErrBatchRepositoryRequired = errors.New("batch repository is required")

	// ErrVectorStoreRequired indicates a nil vector store was provided.
	ErrVectorStoreRequired = errors.New("vector store is required")
)
