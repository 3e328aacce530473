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

// Package metrics records handshake and transport telemetry for foreground detection.
package metrics

//go:generate mockgen -destination=mock_metrics.go -package=metrics github.com/carverauto/fgtrack/pkg/metrics HandshakeMetrics

import "github.com/carverauto/fgtrack/pkg/models"

// HandshakeMetrics receives fire-and-forget telemetry from handshake machines and
// the detection coordinator. Implementations must not block.
type HandshakeMetrics interface {
	LogHandshakeResult(result models.HandshakeResult, device models.DeviceDescriptor)
	LogHandshakeConversion(conversion models.HandshakeConversion, device models.DeviceDescriptor)
	LogTransportCorrupted(device models.DeviceDescriptor)
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogHandshakeResult(models.HandshakeResult, models.DeviceDescriptor)         {}
func (Nop) LogHandshakeConversion(models.HandshakeConversion, models.DeviceDescriptor) {}
func (Nop) LogTransportCorrupted(models.DeviceDescriptor)                              {}
