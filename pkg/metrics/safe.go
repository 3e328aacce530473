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

package metrics

import (
	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
)

type safeMetrics struct {
	inner  HandshakeMetrics
	logger logger.Logger
}

// Safe wraps inner so a panicking backend is logged instead of unwinding into
// the caller. A nil inner yields Nop.
func Safe(inner HandshakeMetrics, log logger.Logger) HandshakeMetrics {
	if inner == nil {
		return Nop{}
	}

	if _, ok := inner.(*safeMetrics); ok {
		return inner
	}

	return &safeMetrics{inner: inner, logger: log}
}

func (s *safeMetrics) contain(op string) {
	if r := recover(); r != nil {
		s.logger.Error().Interface("panic", r).Str("op", op).Msg("Metrics backend panicked")
	}
}

func (s *safeMetrics) LogHandshakeResult(result models.HandshakeResult, device models.DeviceDescriptor) {
	defer s.contain("handshake_result")

	s.inner.LogHandshakeResult(result, device)
}

func (s *safeMetrics) LogHandshakeConversion(conversion models.HandshakeConversion, device models.DeviceDescriptor) {
	defer s.contain("handshake_conversion")

	s.inner.LogHandshakeConversion(conversion, device)
}

func (s *safeMetrics) LogTransportCorrupted(device models.DeviceDescriptor) {
	defer s.contain("transport_corrupted")

	s.inner.LogTransportCorrupted(device)
}
