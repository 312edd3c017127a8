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


package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/poiesic/embedvector/core"
)

// SourceCapability names the interface a type must provide to be embedded
// or matched. It appears in InvalidModel errors.
const SourceCapability = "catalog.Source"

// ErrDuplicateType indicates a type name was registered twice.
var ErrDuplicateType = errors.New("type already registered")

// Registry maps type names to their sources.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates a registry holding the given sources.
func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a source under its type name.
func (r *Registry) Register(s Source) error {
	if s == nil || s.Type() == "" {
		return fmt.Errorf("%w: source without a type name", core.ErrInvalidModel)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[s.Type()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, s.Type())
	}
	r.sources[s.Type()] = s
	return nil
}

// Source returns the source registered for modelType. Unknown types yield an
// error wrapping core.ErrInvalidModel.
func (r *Registry) Source(modelType string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[modelType]
	if !ok {
		return nil, core.InvalidModel(modelType, SourceCapability)
	}
	return s, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.sources))
	for t := range r.sources {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
