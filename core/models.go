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


package core

import (
	"fmt"
	"time"
)

// Embeddable is implemented by any record that can be projected to text and
// converted into a vector.
type Embeddable interface {
	// EmbeddingID returns the stable identifier of the record within its type.
	EmbeddingID() string

	// EmbeddingType returns the type discriminator used to separate rows of
	// different record types in a shared vector store.
	EmbeddingType() string

	// EmbeddingText returns the text that is sent to the embedding model.
	EmbeddingText() string
}

// Key identifies one embedding row. At most one row exists per Key.
type Key struct {
	ModelID   string
	ModelType string
}

// KeyOf returns the Key of an embeddable record.
func KeyOf(e Embeddable) Key {
	return Key{ModelID: e.EmbeddingID(), ModelType: e.EmbeddingType()}
}

// String returns the key as "type:id".
func (k Key) String() string {
	return k.ModelType + ":" + k.ModelID
}

// Embedding is a stored vector belonging to one record.
type Embedding struct {
	ModelID      string
	ModelType    string
	Vector       []float32
	SyncRequired bool      // Vector is stale relative to the source record
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the (model_id, model_type) pair of the embedding.
func (e *Embedding) Key() Key {
	return Key{ModelID: e.ModelID, ModelType: e.ModelType}
}

// BatchStatus is the lifecycle state of a provider batch job as tracked locally.
type BatchStatus string

const (
	BatchStatusValidating BatchStatus = "validating"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusFinalizing BatchStatus = "finalizing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusArchived   BatchStatus = "archived"
	BatchStatusFailed     BatchStatus = "failed"
)

// OpenStatuses are the states the poller asks the provider about.
var OpenStatuses = []BatchStatus{
	BatchStatusValidating,
	BatchStatusInProgress,
	BatchStatusFinalizing,
}

// IsTerminal reports whether no further transitions are possible.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusArchived || s == BatchStatusFailed
}

// IsOpen reports whether the batch is still running on the provider side.
func (s BatchStatus) IsOpen() bool {
	switch s {
	case BatchStatusValidating, BatchStatusInProgress, BatchStatusFinalizing:
		return true
	}
	return false
}

// Batch records one submitted provider batch job.
type Batch struct {
	BatchID         string
	InputFileID     string
	OutputFileID    string // Empty until the provider reports completion
	SavedFilePath   string // Local path of the downloaded result file
	EmbeddableModel string // Type of the records embedded by this batch
	Status          BatchStatus
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Mode selects which records of a type are embedded.
type Mode string

const (
	// ModeInit embeds every record of the type.
	ModeInit Mode = "init"
	// ModeSync embeds only records flagged as stale.
	ModeSync Mode = "sync"
)

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInit, ModeSync:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrConfiguration, s)
}

// Match is one ranked result of a similarity query.
type Match struct {
	Item         Embeddable
	Distance     float64
	MatchPercent float64
}

// Outcome is the structured result reported by batch submission and ingestion.
// Failures of individual files or batches are recorded as messages instead of
// aborting sibling work.
type Outcome struct {
	Success  bool
	Messages []string
}

// NewOutcome returns a successful outcome with no messages.
func NewOutcome() Outcome {
	return Outcome{Success: true}
}

// Infof appends a message without changing the success flag.
func (o *Outcome) Infof(format string, args ...any) {
	o.Messages = append(o.Messages, fmt.Sprintf(format, args...))
}

// Failf appends a message and marks the outcome failed.
func (o *Outcome) Failf(format string, args ...any) {
	o.Success = false
	o.Messages = append(o.Messages, fmt.Sprintf(format, args...))
}

// Merge folds another outcome into o.
func (o *Outcome) Merge(other Outcome) {
	o.Success = o.Success && other.Success
	o.Messages = append(o.Messages, other.Messages...)
}
