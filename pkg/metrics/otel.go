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
	"context"
	"fmt"
	"strconv"

	"github.com/carverauto/fgtrack/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "fgtrack.foreground"

	metricHandshakeResults     = "fgtrack_handshake_results_total"
	metricHandshakeConversions = "fgtrack_handshake_conversions_total"
	metricTransportCorrupted   = "fgtrack_transport_corrupted_total"
)

// OTelHandshakeMetrics counts handshake outcomes with OpenTelemetry instruments.
type OTelHandshakeMetrics struct {
	results     metric.Int64Counter
	conversions metric.Int64Counter
	corrupted   metric.Int64Counter
}

// NewOTelHandshakeMetrics registers the handshake counters on provider. A nil
// provider uses the global MeterProvider.
func NewOTelHandshakeMetrics(provider metric.MeterProvider) (*OTelHandshakeMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)

	results, err := meter.Int64Counter(
		metricHandshakeResults,
		metric.WithDescription("Foreground-process tracking handshake results by support type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", metricHandshakeResults, err)
	}

	conversions, err := meter.Int64Counter(
		metricHandshakeConversions,
		metric.WithDescription("Devices whose handshake left the UNKNOWN state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", metricHandshakeConversions, err)
	}

	corrupted, err := meter.Int64Counter(
		metricTransportCorrupted,
		metric.WithDescription("Device connections discarded because stream timestamps went backwards"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", metricTransportCorrupted, err)
	}

	return &OTelHandshakeMetrics{
		results:     results,
		conversions: conversions,
		corrupted:   corrupted,
	}, nil
}

func deviceAttributes(device models.DeviceDescriptor) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("device_manufacturer", device.Manufacturer),
		attribute.String("device_model", device.Model),
		attribute.String("api_level", strconv.Itoa(int(device.APILevel))),
		attribute.Bool("emulator", device.IsEmulator),
	}
}

func (m *OTelHandshakeMetrics) LogHandshakeResult(result models.HandshakeResult, device models.DeviceDescriptor) {
	attrs := append(deviceAttributes(device), attribute.String("support_type", string(result.SupportType)))
	if result.Reason != models.ReasonUnspecified {
		attrs = append(attrs, attribute.String("reason", string(result.Reason)))
	}

	m.results.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *OTelHandshakeMetrics) LogHandshakeConversion(conversion models.HandshakeConversion, device models.DeviceDescriptor) {
	attrs := append(deviceAttributes(device), attribute.String("conversion", string(conversion)))

	m.conversions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *OTelHandshakeMetrics) LogTransportCorrupted(device models.DeviceDescriptor) {
	m.corrupted.Add(context.Background(), 1, metric.WithAttributes(deviceAttributes(device)...))
}
