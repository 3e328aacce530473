/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package devicemodel tracks which device each fgtrack client has selected and
// answers the arbitration question of whether any other client still needs a device.
package devicemodel

import (
	"sync"

	"github.com/carverauto/fgtrack/pkg/models"
)

// Handle is one client's selection as seen by the registry.
type Handle interface {
	SelectedDevice() *models.DeviceDescriptor
}

// Registry is the arbitration service shared by every client in a process.
type Registry interface {
	Register(h Handle)
	Deregister(h Handle)
	// IsSelectedByAnyOtherThan reports whether a live handle other than self
	// currently selects device.
	IsSelectedByAnyOtherThan(device models.DeviceDescriptor, self Handle) bool
}

// OrderedRegistry is a concurrency-safe, insertion-ordered set of handles.
type OrderedRegistry struct {
	mu      sync.RWMutex
	handles []Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *OrderedRegistry {
	return &OrderedRegistry{}
}

func (r *OrderedRegistry) Register(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.handles {
		if existing == h {
			return
		}
	}

	r.handles = append(r.handles, h)
}

func (r *OrderedRegistry) Deregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.handles {
		if existing == h {
			r.handles = append(r.handles[:i:i], r.handles[i+1:]...)
			return
		}
	}
}

// Handles returns a snapshot of the live handles in registration order.
func (r *OrderedRegistry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Handle(nil), r.handles...)
}

// IsSelectedByAnyOtherThan takes one snapshot of the live set and decides from it.
// A handle deregistering right after the snapshot is still counted.
func (r *OrderedRegistry) IsSelectedByAnyOtherThan(device models.DeviceDescriptor, self Handle) bool {
	for _, h := range r.Handles() {
		if h == self {
			continue
		}

		if selected := h.SelectedDevice(); selected != nil && *selected == device {
			return true
		}
	}

	return false
}
