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

package handshake

import "github.com/carverauto/fgtrack/pkg/models"

// State is an input to a Machine. The concrete types are Connected,
// UnknownSupported, Supported, NotSupported and Disconnected.
type State interface {
	isState()
}

// Connected reports that the device's agent became reachable.
type Connected struct{}

// UnknownSupported carries a response where the agent could not yet decide,
// typically while the device is still booting.
type UnknownSupported struct {
	Result models.HandshakeResult
}

// Supported is a terminal verdict: the agent can stream foreground processes.
type Supported struct {
	Result models.HandshakeResult
}

// NotSupported is a terminal verdict: the agent cannot stream foreground processes.
type NotSupported struct {
	Result models.HandshakeResult
}

// Disconnected reports that the device went away.
type Disconnected struct{}

func (Connected) isState()        {}
func (UnknownSupported) isState() {}
func (Supported) isState()        {}
func (NotSupported) isState()     {}
func (Disconnected) isState()     {}

// StateFor maps a capability response to the matching State.
func StateFor(result models.HandshakeResult) State {
	switch result.SupportType {
	case models.SupportSupported:
		return Supported{Result: result}
	case models.SupportNotSupported:
		return NotSupported{Result: result}
	case models.SupportUnknown:
		return UnknownSupported{Result: result}
	default:
		return UnknownSupported{Result: result}
	}
}
