// Package mock provides test doubles for the ai package interfaces.
//
// The doubles avoid network access and behave deterministically, so the
// batch lifecycle and the matching engine can be exercised end to end in
// unit tests.
//
// # Usage in Tests
//
//	provider := mock.NewMockProvider()
//	vector, err := provider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return []float32{0.1, 0.2, 0.3}, nil
//	}
//
//	// Drive a batch job to completion
//	batches := provider.GetMockBatchClient()
//	err = batches.CompleteJob(ctx, jobID, provider.Embedder())
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockBatchClient: Stores uploads in memory, creates jobs in "validating"
//     and serves output files produced by CompleteJob
//   - MockProvider: Aggregates the two
package mock
