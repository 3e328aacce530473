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

// Package models holds the value types shared by the fgtrack packages.
package models

import "fmt"

// DeviceDescriptor identifies a physical or virtual device. It is a
// comparable value and is used directly as a map key; Serial is the field
// that distinguishes devices in practice.
type DeviceDescriptor struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	IsEmulator   bool   `json:"is_emulator"`
	APILevel     int32  `json:"api_level"`
	Version      string `json:"version,omitempty"`
	Codename     string `json:"codename,omitempty"`
}

func (d DeviceDescriptor) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Manufacturer, d.Model, d.Serial)
}

// ForegroundProcess is the most recent process reported in the foreground of
// a device.
type ForegroundProcess struct {
	PID         int32  `json:"pid"`
	ProcessName string `json:"process_name"`
}

// ProcessDescriptor is a process known to process discovery.
type ProcessDescriptor struct {
	Device    DeviceDescriptor `json:"device"`
	PID       int32            `json:"pid"`
	Name      string           `json:"name"`
	IsRunning bool             `json:"is_running"`
}

// Matches reports whether the foreground process p on device refers to this
// process.
func (p ProcessDescriptor) Matches(device DeviceDescriptor, fg ForegroundProcess) bool {
	return p.Device == device && p.PID == fg.PID && p.Name == fg.ProcessName
}
