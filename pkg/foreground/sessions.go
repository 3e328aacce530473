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

package foreground

import (
	"sync"

	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/carverauto/fgtrack/pkg/transport"
)

// SessionTable records which devices the agent is tracking, process-wide.
// Every Detection that shares a Registry must share one SessionTable so a
// stop sent by one client is visible to the others.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[models.DeviceDescriptor]transport.StreamID
}

// NewSessionTable returns an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[models.DeviceDescriptor]transport.StreamID)}
}

// open records that tracking was started for device on stream.
func (t *SessionTable) open(device models.DeviceDescriptor, stream transport.StreamID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[device] = stream
}

// close removes device's session if it runs on stream and reports whether
// it did. A stop command is owed only when close returns true.
func (t *SessionTable) close(device models.DeviceDescriptor, stream transport.StreamID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[device]; !ok || s != stream {
		return false
	}

	delete(t.sessions, device)

	return true
}

// drop forgets device's session on stream, which ended with its stream.
func (t *SessionTable) drop(device models.DeviceDescriptor, stream transport.StreamID) {
	t.close(device, stream)
}

// devices returns a snapshot of the tracked devices.
func (t *SessionTable) devices() map[models.DeviceDescriptor]transport.StreamID {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[models.DeviceDescriptor]transport.StreamID, len(t.sessions))
	for device, stream := range t.sessions {
		out[device] = stream
	}

	return out
}
