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

import "fmt"

// statusRank orders the provider progression. Failed is handled separately.
var statusRank = map[BatchStatus]int{
	BatchStatusValidating: 0,
	BatchStatusInProgress: 1,
	BatchStatusFinalizing: 2,
	BatchStatusCompleted:  3,
	BatchStatusArchived:   4,
}

// IsValidStatus reports whether s is a known local batch status.
func IsValidStatus(s BatchStatus) bool {
	if s == BatchStatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a batch may move from one status to another.
//
// Rules:
//   - staying in the same status is always allowed
//   - terminal states (archived, failed) never change
//   - any other state may move to failed
//   - otherwise the status only moves forward; archived is reachable only
//     from completed
func CanTransition(from, to BatchStatus) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to == BatchStatusFailed {
		return true
	}
	if to == BatchStatusArchived {
		return from == BatchStatusCompleted
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// AllStatuses lists every local batch status in lifecycle order.
var AllStatuses = []BatchStatus{
	BatchStatusValidating,
	BatchStatusInProgress,
	BatchStatusFinalizing,
	BatchStatusCompleted,
	BatchStatusArchived,
	BatchStatusFailed,
}

// AllowedFrom lists the statuses a batch may hold to move to target. SQL
// backends use it to guard an update in a single statement.
func AllowedFrom(target BatchStatus) []string {
	var out []string
	for _, st := range AllStatuses {
		if CanTransition(st, target) {
			out = append(out, string(st))
		}
	}
	return out
}

// Transition checks and applies a status change to b.
func (b *Batch) Transition(to BatchStatus) error {
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s (batch %s)", ErrInvalidTransition, b.Status, to, b.BatchID)
	}
	b.Status = to
	return nil
}

// NormalizeStatus maps a provider status string onto a local status.
// The boolean is false when the provider reported no status or one this
// package does not know; callers keep the batch's current status. Provider
// states that end a job without output (expired, cancelling, cancelled) map
// to failed.
func NormalizeStatus(provider string) (BatchStatus, bool) {
	switch provider {
	case "":
		return "", false
	case "expired", "cancelling", "cancelled", "canceled":
		return BatchStatusFailed, true
	}
	s := BatchStatus(provider)
	if !IsValidStatus(s) {
		return "", false
	}
	return s, true
}

// ValidateEmbedding validates an Embedding before it is written.
//
// Validation rules:
//   - ModelID and ModelType must not be empty
//   - Vector must not be empty
func ValidateEmbedding(e *Embedding) error {
	if e == nil {
		return fmt.Errorf("%w: embedding is nil", ErrInvalidEmbedding)
	}
	if e.ModelID == "" {
		return fmt.Errorf("%w: model id is empty", ErrInvalidEmbedding)
	}
	if e.ModelType == "" {
		return fmt.Errorf("%w: model type is empty", ErrInvalidEmbedding)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: vector is empty for %s", ErrInvalidEmbedding, e.Key())
	}
	return nil
}

// ValidateBatch validates a Batch before it is persisted.
func ValidateBatch(b *Batch) error {
	if b == nil {
		return fmt.Errorf("%w: batch is nil", ErrInvalidBatch)
	}
	if b.BatchID == "" {
		return fmt.Errorf("%w: batch id is empty", ErrInvalidBatch)
	}
	if b.EmbeddableModel == "" {
		return fmt.Errorf("%w: embeddable model is empty", ErrInvalidBatch)
	}
	if !IsValidStatus(b.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidBatch, b.Status)
	}
	return nil
}
