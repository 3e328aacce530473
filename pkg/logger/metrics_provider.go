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

package logger

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
	"google.golang.org/grpc/credentials"
)

var (
	ErrOTelMetricsDisabled = errors.New("OTel metrics exporter disabled")
	errFailedToParseCACert = errors.New("failed to parse CA certificate")
)

const (
	defaultServiceName    = "fgtrack"
	defaultServiceVersion = "1.0.0"
	defaultExportInterval = 15 * time.Second
)

// MetricsConfig selects the OTLP metrics pipeline for one process.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	OTel           *OTelConfig
}

func (c MetricsConfig) enabled() bool {
	return c.OTel != nil && c.OTel.Enabled && c.OTel.Endpoint != ""
}

func (c MetricsConfig) serviceName() string {
	switch {
	case c.ServiceName != "":
		return c.ServiceName
	case c.OTel.ServiceName != "":
		return c.OTel.ServiceName
	default:
		return defaultServiceName
	}
}

func (c MetricsConfig) serviceVersion() string {
	if c.ServiceVersion != "" {
		return c.ServiceVersion
	}

	return defaultServiceVersion
}

func (c MetricsConfig) exportInterval() time.Duration {
	if c.OTel.ExportInterval > 0 {
		return c.OTel.ExportInterval
	}

	return defaultExportInterval
}

func (c MetricsConfig) exporterOptions() ([]otlpmetricgrpc.Option, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(c.OTel.Endpoint)}

	switch {
	case c.OTel.Insecure:
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	case c.OTel.TLS != nil:
		tlsConfig, err := setupTLSConfig(c.OTel.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to setup metrics TLS configuration: %w", err)
		}

		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(tlsConfig)))
	}

	if len(c.OTel.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(c.OTel.Headers))
	}

	return opts, nil
}

// One pipeline per process; it also backs the global MeterProvider.
//
//nolint:gochecknoglobals // coordinated shutdown needs the installed provider
var pipeline struct {
	mu       sync.Mutex
	provider *metric.MeterProvider
}

// InitializeMetrics installs an OTLP/gRPC MeterProvider as the global provider
// and returns it. Later calls return the installed provider. When export is not
// configured it returns ErrOTelMetricsDisabled and installs nothing.
func InitializeMetrics(ctx context.Context, config MetricsConfig) (*metric.MeterProvider, error) {
	if !config.enabled() {
		return nil, ErrOTelMetricsDisabled
	}

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()

	if pipeline.provider != nil {
		return pipeline.provider, nil
	}

	opts, err := config.exporterOptions()
	if err != nil {
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(config.serviceName()),
			semconv.ServiceVersion(config.serviceVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(config.exportInterval()))),
	)

	otel.SetMeterProvider(provider)
	pipeline.provider = provider

	return provider, nil
}

// ShutdownMetrics flushes pending measurements and removes the installed
// provider. It is a no-op when InitializeMetrics installed nothing.
func ShutdownMetrics(ctx context.Context) error {
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()

	if pipeline.provider == nil {
		return nil
	}

	if err := pipeline.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down meter provider: %w", err)
	}

	pipeline.provider = nil

	return nil
}

func setupTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		out.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile == "" {
		return out, nil
	}

	pem, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	out.RootCAs = x509.NewCertPool()
	if !out.RootCAs.AppendCertsFromPEM(pem) {
		return nil, errFailedToParseCACert
	}

	return out, nil
}
