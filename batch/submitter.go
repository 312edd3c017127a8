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


package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

// Outcome messages reported per submitted file.
const (
	MsgSubmitted       = "File uploaded and batch created successfully! We will process it soon."
	msgSubmitFailedFmt = "Error while processing file for batch embedding: %v"
)

// Submitter uploads generated input files and records the resulting jobs.
type Submitter struct {
	client  ai.BatchClient
	batches storage.BatchRepository
	opts    options
	logger  *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(client ai.BatchClient, batches storage.BatchRepository, opts ...Option) (*Submitter, error) {
	if client == nil {
		return nil, ErrBatchClientRequired
	}
	if batches == nil {
		return nil, ErrBatchRepositoryRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Submitter{
		client:  client,
		batches: batches,
		opts:    o,
		logger:  o.logger.With("component", "batch-submitter"),
	}, nil
}

// Submit uploads the file at path, creates a provider job over it and stores
// a Batch in "validating". The local file is deleted once the batch is
// stored. On failure no batch is stored and the file is kept for a retry.
func (s *Submitter) Submit(ctx context.Context, path, modelType string) (*core.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.FileOperationFailed("open", path, err)
	}
	fileID, err := s.client.UploadFile(ctx, filepath.Base(path), f, ai.PurposeBatch)
	f.Close()
	if err != nil {
		return nil, wrapProvider("upload "+path, err)
	}

	job, err := s.client.CreateBatchJob(ctx, fileID, s.opts.endpoint, s.opts.completionWindow)
	if err != nil {
		return nil, wrapProvider("create batch for "+fileID, err)
	}

	now := s.opts.now()
	b := &core.Batch{
		BatchID:         job.ID,
		InputFileID:     fileID,
		EmbeddableModel: modelType,
		Status:          core.BatchStatusValidating,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.batches.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("store batch %s: %w", job.ID, err)
	}
	s.logger.Info("batch submitted", "batch_id", b.BatchID, "input_file_id", fileID, "type", modelType)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove submitted input file", "path", path, "err", err)
	}
	return b, nil
}

// SubmitAll submits each file in order. A failing file is reported in the
// outcome and does not stop the remaining files.
func (s *Submitter) SubmitAll(ctx context.Context, paths []string, modelType string) core.Outcome {
	out := core.NewOutcome()
	for _, path := range paths {
		if _, err := s.Submit(ctx, path, modelType); err != nil {
			s.logger.Error("batch submission failed", "path", path, "type", modelType, "err", err)
			s.opts.metrics.submissionFailed(modelType)
			out.Failf(msgSubmitFailedFmt, err)
			continue
		}
		s.opts.metrics.submitted(modelType)
		out.Infof(MsgSubmitted)
	}
	return out
}

// wrapProvider makes sure provider errors match core.ErrProviderRequestFailed
// whatever client produced them.
func wrapProvider(op string, err error) error {
	if errors.Is(err, core.ErrProviderRequestFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return core.ProviderRequestFailed(op, err)
}
