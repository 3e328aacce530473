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

// Package processes is an in-memory process-discovery model: the processes
// known per device and the client's selected process.
package processes

import (
	"sort"
	"sync"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
)

// SelectedProcessListener is told about every change of the selected process.
type SelectedProcessListener = func(process *models.ProcessDescriptor)

type processKey struct {
	serial string
	pid    int32
}

// Model holds discovered processes and the selected one.
type Model struct {
	logger logger.Logger

	mu        sync.Mutex
	processes map[processKey]models.ProcessDescriptor
	selected  *models.ProcessDescriptor
	listeners map[uint64]SelectedProcessListener
	nextID    uint64
}

// New returns an empty model.
func New(log logger.Logger) *Model {
	return &Model{
		logger:    log,
		processes: make(map[processKey]models.ProcessDescriptor),
		listeners: make(map[uint64]SelectedProcessListener),
	}
}

func keyOf(p models.ProcessDescriptor) processKey {
	return processKey{serial: p.Device.Serial, pid: p.PID}
}

// AddProcess records a discovered process, replacing any earlier entry for the same pid.
func (m *Model) AddProcess(p models.ProcessDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processes[keyOf(p)] = p
}

// RemoveProcess forgets a process. If it was selected, the selection is kept
// but marked as no longer running.
func (m *Model) RemoveProcess(device models.DeviceDescriptor, pid int32) {
	m.mu.Lock()

	delete(m.processes, processKey{serial: device.Serial, pid: pid})

	if m.selected == nil || m.selected.Device != device || m.selected.PID != pid || !m.selected.IsRunning {
		m.mu.Unlock()
		return
	}

	dead := *m.selected
	dead.IsRunning = false

	listeners := m.setSelectedLocked(&dead)
	m.mu.Unlock()

	notify(listeners, &dead)
}

// Processes lists the known processes of device ordered by pid.
func (m *Model) Processes(device models.DeviceDescriptor) []models.ProcessDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ProcessDescriptor

	for _, p := range m.processes {
		if p.Device == device {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })

	return out
}

// IsDebuggable reports whether fg on device matches a known running process.
// Unknown processes are not debuggable.
func (m *Model) IsDebuggable(device models.DeviceDescriptor, fg models.ForegroundProcess) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.processes[processKey{serial: device.Serial, pid: fg.PID}]

	return ok && p.IsRunning && p.Matches(device, fg)
}

// SelectedProcess returns a copy of the selected process, or nil.
func (m *Model) SelectedProcess() *models.ProcessDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.selected == nil {
		return nil
	}

	p := *m.selected

	return &p
}

// SetSelectedProcess changes the selection and notifies listeners on change.
func (m *Model) SetSelectedProcess(process *models.ProcessDescriptor) {
	m.mu.Lock()

	if sameProcess(m.selected, process) {
		m.mu.Unlock()
		return
	}

	listeners := m.setSelectedLocked(process)
	m.mu.Unlock()

	notify(listeners, process)
}

// Stop ends inspection of the selected process by clearing the selection.
func (m *Model) Stop() {
	if p := m.SelectedProcess(); p != nil {
		m.logger.Debug().
			Str("device_serial", p.Device.Serial).
			Int32("pid", p.PID).
			Msg("Stopping process inspection")
	}

	m.SetSelectedProcess(nil)
}

// OnSelectedProcessChanged registers l and returns a function that removes it.
func (m *Model) OnSelectedProcessChanged(l SelectedProcessListener) func() {
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

func (m *Model) setSelectedLocked(process *models.ProcessDescriptor) []SelectedProcessListener {
	if process == nil {
		m.selected = nil
	} else {
		p := *process
		m.selected = &p
	}

	listeners := make([]SelectedProcessListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}

	return listeners
}

func notify(listeners []SelectedProcessListener, process *models.ProcessDescriptor) {
	for _, l := range listeners {
		if process == nil {
			l(nil)
			continue
		}

		p := *process
		l(&p)
	}
}

func sameProcess(a, b *models.ProcessDescriptor) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
