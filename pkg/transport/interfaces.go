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

// Package transport carries foreground-tracking commands to device agents and
// their events back to fgtrack clients.
package transport

//go:generate mockgen -destination=mock_transport.go -package=transport github.com/carverauto/fgtrack/pkg/transport Client

import "context"

// Client is the command channel plus event stream shared by every device agent.
type Client interface {
	// SendCommand delivers cmd to the agent behind cmd.StreamID and waits for its ack.
	SendCommand(ctx context.Context, cmd Command) (*Ack, error)
	// Events streams agent events in transport order. The channel is closed when
	// ctx ends.
	Events(ctx context.Context) (<-chan Event, error)
}
