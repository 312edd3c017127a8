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


package jsonl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/embedvector/catalog"
	"github.com/poiesic/embedvector/core"
)

const (
	// DefaultChunkSize is the number of records fetched per page.
	DefaultChunkSize = 500

	// DefaultLotSize is the maximum number of lines per file, the provider's
	// per-batch request limit.
	DefaultLotSize = 50000
)

// Generator writes batch request files for the records of a source.
type Generator struct {
	root      string
	model     string
	url       string
	chunkSize int
	lotSize   int
	logger    *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator) error

// WithChunkSize sets the page size used when reading the source.
func WithChunkSize(n int) GeneratorOption {
	return func(g *Generator) error {
		if n <= 0 {
			return fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrConfiguration, n)
		}
		g.chunkSize = n
		return nil
	}
}

// WithLotSize sets the maximum number of lines per file.
func WithLotSize(n int) GeneratorOption {
	return func(g *Generator) error {
		if n <= 0 {
			return fmt.Errorf("%w: lot size must be positive, got %d", core.ErrConfiguration, n)
		}
		g.lotSize = n
		return nil
	}
}

// WithURL sets the endpoint written into each request line.
func WithURL(url string) GeneratorOption {
	return func(g *Generator) error {
		g.url = url
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// NewGenerator creates a generator writing under root for the given model.
func NewGenerator(root, model string, opts ...GeneratorOption) (*Generator, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: generator needs an output directory", core.ErrConfiguration)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: generator needs an embedding model", core.ErrConfiguration)
	}
	g := &Generator{
		root:      root,
		model:     model,
		url:       DefaultURL,
		chunkSize: DefaultChunkSize,
		lotSize:   DefaultLotSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "jsonl-generator")
	return g, nil
}

// Dir returns the directory files for a type and mode are written to.
func (g *Generator) Dir(modelType string, mode core.Mode) string {
	return filepath.Join(g.root, modelType, string(mode))
}

// FileName returns the path of the n-th file, counting from 1.
func (g *Generator) FileName(modelType string, mode core.Mode, n int) string {
	return filepath.Join(g.Dir(modelType, mode), fmt.Sprintf("embeddings_%d.jsonl", n))
}

// Generate clears the directory for the source's type and mode, then writes
// the source's records in primary key order. ids restricts the records when
// non-nil (sync mode); an empty non-nil slice yields no files. It returns the
// written file paths in order.
func (g *Generator) Generate(ctx context.Context, src catalog.Source, mode core.Mode, ids []string) ([]string, error) {
	modelType := src.Type()
	dir := g.Dir(modelType, mode)
	if err := os.RemoveAll(dir); err != nil {
		return nil, core.FileOperationFailed("clear", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.FileOperationFailed("create", dir, err)
	}
	if ids != nil && len(ids) == 0 {
		g.logger.Info("nothing to generate", "type", modelType, "mode", mode)
		return nil, nil
	}

	lot := &lotWriter{g: g, modelType: modelType, mode: mode}
	defer lot.abort()

	var after int64
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := src.Chunk(ctx, catalog.Query{AfterKey: after, Limit: g.chunkSize, IDs: ids})
		if err != nil {
			return nil, fmt.Errorf("read %s page after %d: %w", modelType, after, err)
		}
		for _, item := range items {
			req := NewRequest(item.EmbeddingID(), g.model, item.EmbeddingText())
			req.URL = g.url
			if err := lot.write(req); err != nil {
				return nil, err
			}
			after = item.PrimaryKey()
		}
		total += len(items)
		g.logger.Debug("page written", "type", modelType, "count", len(items), "after", after)
		if len(items) < g.chunkSize {
			break
		}
	}

	if err := lot.close(); err != nil {
		return nil, err
	}
	g.logger.Info("generated batch input", "type", modelType, "mode", mode, "records", total, "files", len(lot.files))
	return lot.files, nil
}

// lotWriter opens files lazily and rolls over when a file reaches lotSize lines.
type lotWriter struct {
	g         *Generator
	modelType string
	mode      core.Mode
	file      *os.File
	w         *Writer
	files     []string
}

func (l *lotWriter) write(req Request) error {
	if l.file == nil {
		path := l.g.FileName(l.modelType, l.mode, len(l.files)+1)
		f, err := os.Create(path)
		if err != nil {
			return core.FileOperationFailed("create", path, err)
		}
		l.file = f
		l.w = NewWriter(f)
		l.files = append(l.files, path)
	}
	if err := l.w.Write(req); err != nil {
		return core.FileOperationFailed("write", l.file.Name(), err)
	}
	if l.w.Count() >= l.g.lotSize {
		return l.close()
	}
	return nil
}

func (l *lotWriter) close() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := l.w.Flush(); err != nil {
		f.Close()
		return core.FileOperationFailed("write", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return core.FileOperationFailed("close", f.Name(), err)
	}
	return nil
}

func (l *lotWriter) abort() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
