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

package transport

import (
	"fmt"

	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/google/uuid"
)

// StreamID identifies one agent connection. A device that reconnects gets a new stream.
type StreamID int64

func (s StreamID) String() string {
	return fmt.Sprintf("%d", int64(s))
}

// CommandType names an agent command.
type CommandType string

const (
	CommandIsTrackingForegroundProcessSupported CommandType = "is_tracking_foreground_process_supported"
	CommandStartTrackingForegroundProcess       CommandType = "start_tracking_foreground_process"
	CommandStopTrackingForegroundProcess        CommandType = "stop_tracking_foreground_process"
)

// Command is a request addressed to one stream.
type Command struct {
	ID       string      `json:"id"`
	StreamID StreamID    `json:"stream_id"`
	Type     CommandType `json:"type"`
	Payload  []byte      `json:"payload,omitempty"`
}

// NewCommand returns a command of type t for stream with a fresh id.
func NewCommand(stream StreamID, t CommandType) Command {
	return Command{
		ID:       uuid.New().String(),
		StreamID: stream,
		Type:     t,
	}
}

// Ack is the agent's reply to a Command.
type Ack struct {
	CommandID string `json:"command_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// EventKind names an agent event.
type EventKind string

const (
	EventStreamConnected                    EventKind = "stream_connected"
	EventStreamDisconnected                 EventKind = "stream_disconnected"
	EventTrackingForegroundProcessSupported EventKind = "tracking_foreground_process_supported"
	EventForegroundProcess                  EventKind = "foreground_process"
	EventProcessStarted                     EventKind = "process_started"
	EventProcessEnded                       EventKind = "process_ended"
)

// Event is one message from an agent. Which optional field is set depends on Kind:
// Device for stream-connected, Handshake for capability responses and Process for
// foreground-process reports and process start and end.
type Event struct {
	StreamID  StreamID                  `json:"stream_id"`
	Kind      EventKind                 `json:"kind"`
	Timestamp int64                     `json:"timestamp"`
	Device    *models.DeviceDescriptor  `json:"device,omitempty"`
	Handshake *models.HandshakeResult   `json:"handshake,omitempty"`
	Process   *models.ForegroundProcess `json:"process,omitempty"`
}
