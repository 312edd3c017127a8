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
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/poiesic/embedvector/ai"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
)

// Poller advances open batches and hands completed ones to the Ingester.
type Poller struct {
	client   ai.BatchClient
	batches  storage.BatchRepository
	ingester *Ingester
	opts     options
	logger   *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(client ai.BatchClient, batches storage.BatchRepository, ingester *Ingester, opts ...Option) (*Poller, error) {
	if client == nil {
		return nil, ErrBatchClientRequired
	}
	if batches == nil {
		return nil, ErrBatchRepositoryRequired
	}
	if ingester == nil {
		return nil, ErrVectorStoreRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Poller{
		client:   client,
		batches:  batches,
		ingester: ingester,
		opts:     o,
		logger:   o.logger.With("component", "batch-poller"),
	}, nil
}

// Poll runs one cycle. Batches already downloaded but not archived are
// ingested first, then every open batch is refreshed from the provider.
// A failure on one batch is recorded in the outcome and the cycle moves on;
// the returned error is reserved for failing to list batches.
func (p *Poller) Poll(ctx context.Context) (core.Outcome, error) {
	p.opts.metrics.pollCycle()
	out := core.NewOutcome()

	completed, err := p.batches.ListBatches(ctx, core.BatchStatusCompleted)
	if err != nil {
		return out, fmt.Errorf("list completed batches: %w", err)
	}
	for _, b := range completed {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p.ingest(ctx, b, &out)
	}

	open, err := p.batches.ListBatches(ctx, core.OpenStatuses...)
	if err != nil {
		return out, fmt.Errorf("list open batches: %w", err)
	}
	p.logger.Debug("poll cycle", "completed", len(completed), "open", len(open))
	for _, b := range open {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p.refresh(ctx, b, &out)
	}
	return out, nil
}

// ProcessBatch ingests one batch if it is completed locally. Unknown ids
// yield core.ErrBatchNotFound; batches in any other state yield
// ErrBatchNotReady.
func (p *Poller) ProcessBatch(ctx context.Context, batchID string) (core.Outcome, error) {
	out := core.NewOutcome()
	b, err := p.batches.GetBatch(ctx, batchID)
	if errors.Is(err, storage.ErrNotFound) {
		return out, fmt.Errorf("%w: %s", core.ErrBatchNotFound, batchID)
	}
	if err != nil {
		return out, err
	}
	if b.Status != core.BatchStatusCompleted {
		out.Infof("Batch status: %s", b.Status)
		return out, fmt.Errorf("%w: batch %s is %s", ErrBatchNotReady, batchID, b.Status)
	}
	p.ingest(ctx, b, &out)
	return out, nil
}

func (p *Poller) ingest(ctx context.Context, b *core.Batch, out *core.Outcome) {
	stats, err := p.ingester.Ingest(ctx, b)
	if err != nil {
		p.logger.Error("ingestion failed", "batch_id", b.BatchID, "err", err)
		out.Failf("Error while processing batch %s: %v", b.BatchID, err)
		return
	}
	if stats.AlreadyArchived {
		out.Infof("Batch %s was already processed", b.BatchID)
		return
	}
	out.Infof("Processed batch %s: %d embeddings stored, %d lines skipped", b.BatchID, stats.Ingested, stats.Skipped)
}

// refresh asks the provider about one open batch and applies the answer.
func (p *Poller) refresh(ctx context.Context, b *core.Batch, out *core.Outcome) {
	job, err := p.client.GetJobStatus(ctx, b.BatchID)
	if err != nil {
		p.logger.Warn("status poll failed", "batch_id", b.BatchID, "err", err)
		out.Failf("Error while checking batch %s: %v", b.BatchID, err)
		return
	}
	status, ok := core.NormalizeStatus(job.Status)
	if !ok {
		if job.Status == "" {
			p.logger.Info("no status found, skipping batch", "batch_id", b.BatchID)
		} else {
			p.logger.Warn("unrecognized provider status, keeping current status",
				"batch_id", b.BatchID, "provider_status", job.Status, "status", b.Status)
		}
		return
	}

	if status == core.BatchStatusCompleted && job.OutputFileID == "" {
		status = core.BatchStatusFailed
		if job.ErrorMessage == "" {
			job.ErrorMessage = "provider completed the batch without an output file"
		}
	}

	switch status {
	case core.BatchStatusCompleted:
		if err := p.download(ctx, b, job.OutputFileID); err != nil {
			p.logger.Error("result download failed", "batch_id", b.BatchID, "err", err)
			out.Failf("Error while downloading batch %s: %v", b.BatchID, err)
			return
		}
		p.ingest(ctx, b, out)
	case core.BatchStatusFailed:
		msg := job.ErrorMessage
		if msg == "" {
			msg = "provider reported status " + job.Status
		}
		if err := p.update(ctx, b, status, msg); err != nil {
			out.Failf("Error while updating batch %s: %v", b.BatchID, err)
			return
		}
		out.Failf("Batch %s failed: %s", b.BatchID, msg)
	default:
		if status == b.Status {
			return
		}
		if !core.CanTransition(b.Status, status) {
			p.logger.Warn("ignoring backwards status", "batch_id", b.BatchID, "from", b.Status, "to", status)
			return
		}
		if err := p.update(ctx, b, status, ""); err != nil {
			out.Failf("Error while updating batch %s: %v", b.BatchID, err)
			return
		}
		out.Infof("Batch %s not completed, status is now %s", b.BatchID, status)
	}
}

func (p *Poller) update(ctx context.Context, b *core.Batch, status core.BatchStatus, msg string) error {
	updated := *b
	if err := updated.Transition(status); err != nil {
		return err
	}
	if msg != "" {
		updated.ErrorMessage = msg
	}
	updated.UpdatedAt = p.opts.now()
	if err := p.batches.UpdateBatch(ctx, &updated); err != nil {
		return err
	}
	*b = updated
	p.opts.metrics.statusChanged(string(status))
	p.logger.Info("batch status updated", "batch_id", b.BatchID, "status", status)
	return nil
}

// download saves the output file, unless a previous cycle already did, and
// marks the batch completed.
func (p *Poller) download(ctx context.Context, b *core.Batch, outputFileID string) error {
	path := b.SavedFilePath
	if path == "" {
		saved, err := p.fetch(ctx, b.BatchID, outputFileID)
		if err != nil {
			return err
		}
		path = saved
	}

	updated := *b
	updated.SavedFilePath = path
	updated.OutputFileID = outputFileID
	if err := updated.Transition(core.BatchStatusCompleted); err != nil {
		return err
	}
	updated.UpdatedAt = p.opts.now()
	if err := p.batches.UpdateBatch(ctx, &updated); err != nil {
		return fmt.Errorf("record download of batch %s: %w", b.BatchID, err)
	}
	*b = updated
	p.opts.metrics.statusChanged(string(core.BatchStatusCompleted))
	p.logger.Info("result file downloaded", "batch_id", b.BatchID, "path", path)
	return nil
}

// fetch writes a provider file under the output directory. The content goes
// to a temporary name first so a partial download never sits at the final
// path.
func (p *Poller) fetch(ctx context.Context, batchID, fileID string) (string, error) {
	dir := p.opts.outputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", core.FileOperationFailed("create", dir, err)
	}
	path := filepath.Join(dir, "output_embeddings_"+batchID+".jsonl")
	tmp := filepath.Join(dir, ".download-"+uuid.NewString())

	rc, err := p.client.DownloadFile(ctx, fileID)
	if err != nil {
		return "", wrapProvider("download "+fileID, err)
	}
	defer rc.Close()

	f, err := os.Create(tmp)
	if err != nil {
		return "", core.FileOperationFailed("create", tmp, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", wrapProvider("download "+fileID, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", core.FileOperationFailed("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", core.FileOperationFailed("rename", tmp, err)
	}
	return path, nil
}
