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

package devicemodel

import (
	"sync"

	"github.com/carverauto/fgtrack/pkg/lifecycle"
	"github.com/carverauto/fgtrack/pkg/models"
)

// ProcessSelector is the client's process model; its selection is only
// meaningful relative to the selected device.
type ProcessSelector interface {
	SetSelectedProcess(process *models.ProcessDescriptor)
}

// SelectedDeviceListener is told about every change of the selected device.
type SelectedDeviceListener func(device *models.DeviceDescriptor)

// DeviceModel is one client's device selection.
type DeviceModel struct {
	registry  Registry
	processes ProcessSelector

	mu        sync.Mutex
	selected  *models.DeviceDescriptor
	listeners map[uint64]SelectedDeviceListener
	nextID    uint64

	closeOnce sync.Once
}

// New registers a model in registry. Disposing scope (or calling Close)
// deregisters it. processes may be nil.
func New(scope *lifecycle.Scope, registry Registry, processes ProcessSelector) *DeviceModel {
	m := &DeviceModel{
		registry:  registry,
		processes: processes,
		listeners: make(map[uint64]SelectedDeviceListener),
	}

	registry.Register(m)

	if scope != nil {
		scope.OnDispose(m.Close)
	}

	return m
}

// SelectedDevice returns a copy of the current selection, or nil.
func (m *DeviceModel) SelectedDevice() *models.DeviceDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selected == nil {
		return nil
	}

	device := *m.selected

	return &device
}

// SetSelectedDevice changes the selection. On an actual change the listeners
// are notified and the process selection is cleared.
func (m *DeviceModel) SetSelectedDevice(device *models.DeviceDescriptor) {
	m.mu.Lock()

	if sameDevice(m.selected, device) {
		m.mu.Unlock()
		return
	}

	if device == nil {
		m.selected = nil
	} else {
		selected := *device
		m.selected = &selected
	}

	listeners := make([]SelectedDeviceListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}

	m.mu.Unlock()

	for _, l := range listeners {
		l(device)
	}

	if m.processes != nil {
		m.processes.SetSelectedProcess(nil)
	}
}

// AddSelectedDeviceListener registers l and returns a function that removes it.
func (m *DeviceModel) AddSelectedDeviceListener(l SelectedDeviceListener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.listeners, id)
	}
}

// Close deregisters the model. It is idempotent.
func (m *DeviceModel) Close() {
	m.closeOnce.Do(func() {
		m.registry.Deregister(m)
	})
}

func sameDevice(a, b *models.DeviceDescriptor) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
