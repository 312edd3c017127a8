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
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/jsonl"
)

// DueLister returns the ids of records whose vectors are stale.
type DueLister interface {
	DueForSync(ctx context.Context, modelType string) ([]string, error)
}

// Service generates and submits batches per type and exposes the poll cycle.
type Service struct {
	registry  *catalog.Registry
	generator *jsonl.Generator
	submitter *Submitter
	poller    *Poller
	due       DueLister
	opts      options
	logger    *slog.Logger
}

// NewService wires the lifecycle components together. due may be nil when
// only init mode is used.
func NewService(
	registry *catalog.Registry,
	generator *jsonl.Generator,
	submitter *Submitter,
	poller *Poller,
	due DueLister,
	opts ...Option,
) (*Service, error) {
	if registry == nil || generator == nil || submitter == nil || poller == nil {
		return nil, fmt.Errorf("%w: batch service needs a registry, generator, submitter and poller", core.ErrConfiguration)
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Service{
		registry:  registry,
		generator: generator,
		submitter: submitter,
		poller:    poller,
		due:       due,
		opts:      o,
		logger:    o.logger.With("component", "batch-service"),
	}, nil
}

// Embed generates the input files of one type in the given mode and submits
// them. It returns ErrNoFilesGenerated when there was nothing to embed and
// an error wrapping core.ErrInvalidModel for unregistered types. Per-file
// failures are reported in the outcome.
func (s *Service) Embed(ctx context.Context, modelType string, mode core.Mode) (core.Outcome, error) {
	src, err := s.registry.Source(modelType)
	if err != nil {
		return core.Outcome{}, err
	}

	var ids []string
	if mode == core.ModeSync {
		if s.due == nil {
			return core.Outcome{}, fmt.Errorf("%w: sync mode needs a staleness tracker", core.ErrConfiguration)
		}
		ids, err = s.due.DueForSync(ctx, modelType)
		if err != nil {
			return core.Outcome{}, fmt.Errorf("list %s due for sync: %w", modelType, err)
		}
		if ids == nil {
			ids = []string{}
		}
	}

	files, err := s.generator.Generate(ctx, src, mode, ids)
	if err != nil {
		return core.Outcome{}, err
	}
	if len(files) == 0 {
		return core.Outcome{}, fmt.Errorf("%w: %s (%s)", ErrNoFilesGenerated, modelType, mode)
	}
	s.logger.Info("submitting batch input", "type", modelType, "mode", mode, "files", len(files))
	return s.submitter.SubmitAll(ctx, files, modelType), nil
}

// EmbedAll runs Embed for several types on a worker pool and merges the
// outcomes in the order of types. A type with nothing to embed contributes
// an informational message; any other error marks the outcome failed.
func (s *Service) EmbedAll(ctx context.Context, types []string, mode core.Mode) (core.Outcome, error) {
	pool, err := ants.NewPool(s.opts.workers)
	if err != nil {
		return core.Outcome{}, err
	}
	defer pool.Release()

	results := make([]core.Outcome, len(types))
	var wg sync.WaitGroup
	for i, modelType := range types {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results[i] = s.embedOutcome(ctx, modelType, mode)
		})
		if err != nil {
			wg.Done()
			results[i] = core.NewOutcome()
			results[i].Failf("Error while scheduling %s: %v", modelType, err)
		}
	}
	wg.Wait()

	out := core.NewOutcome()
	for _, r := range results {
		out.Merge(r)
	}
	return out, nil
}

func (s *Service) embedOutcome(ctx context.Context, modelType string, mode core.Mode) core.Outcome {
	res, err := s.Embed(ctx, modelType, mode)
	switch {
	case errors.Is(err, ErrNoFilesGenerated):
		out := core.NewOutcome()
		out.Infof("No files generated for %s. Its records may already be embedded.", modelType)
		return out
	case err != nil:
		s.logger.Error("embedding run failed", "type", modelType, "err", err)
		out := core.NewOutcome()
		out.Failf("Error while embedding %s: %v", modelType, err)
		return out
	}
	return res
}

// Poll runs one poll cycle.
func (s *Service) Poll(ctx context.Context) (core.Outcome, error) {
	return s.poller.Poll(ctx)
}

// ProcessBatch ingests one completed batch.
func (s *Service) ProcessBatch(ctx context.Context, batchID string) (core.Outcome, error) {
	return s.poller.ProcessBatch(ctx, batchID)
}
