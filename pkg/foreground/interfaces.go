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

// Package foreground coordinates foreground-process tracking across the
// devices connected to the transport. Each client owns one Detection; all
// Detections of a process share a devicemodel.Registry so that tracking of a
// device another client still watches is never stopped.
package foreground

import (
	"github.com/carverauto/fgtrack/pkg/models"
)

// DeviceModel is the client's own device selection. It must also be the
// handle registered with the Registry.
type DeviceModel interface {
	SelectedDevice() *models.DeviceDescriptor
	SetSelectedDevice(device *models.DeviceDescriptor)
}

// ProcessDiscovery answers debuggability questions and reports changes of the
// client's selected process.
type ProcessDiscovery interface {
	IsDebuggable(device models.DeviceDescriptor, process models.ForegroundProcess) bool
	OnSelectedProcessChanged(fn func(process *models.ProcessDescriptor)) func()
}

// Listener receives foreground-process changes of the tracked device.
// Implementations must be comparable (typically a pointer) so they can be removed.
type Listener interface {
	OnNewProcess(device models.DeviceDescriptor, process models.ForegroundProcess, debuggable bool)
}

// PollingStopper stops polling of the selected device.
type PollingStopper interface {
	StopPollingSelectedDevice()
}

// ProcessStopper ends inspection of the selected process.
type ProcessStopper interface {
	Stop()
}
