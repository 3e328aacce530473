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
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	log, err := New(&Config{Level: "warn", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log, err = New(&Config{Level: "warn", Debug: true})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	log, err = New(&Config{})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())

	_, err = New(&Config{Level: "loud"})
	require.Error(t, err)
}

func TestConfigWriter(t *testing.T) {
	assert.Equal(t, os.Stderr, (&Config{Output: "stderr"}).Writer())
	assert.Equal(t, os.Stdout, (&Config{Output: "stdout"}).Writer())
	assert.Equal(t, os.Stdout, (&Config{}).Writer())
}

func TestDefaultOTelConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_METRICS_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_HEADERS", "authorization=Bearer x, tenant = lab")
	t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "30s")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := DefaultOTelConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, "Bearer x", cfg.Headers["authorization"])
	assert.Equal(t, "lab", cfg.Headers["tenant"])
	assert.Equal(t, "30s", cfg.ExportInterval.String())
	assert.Equal(t, "fgtrack", cfg.ServiceName)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)

	_, err = InitializeMetrics(context.Background(), MetricsConfig{OTel: &OTelConfig{Enabled: true}})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)

	require.NoError(t, ShutdownMetrics(context.Background()))
}

func TestSetupTLSConfigBadCA(t *testing.T) {
	caFile := t.TempDir() + "/ca.pem"
	require.NoError(t, os.WriteFile(caFile, []byte("not a certificate"), 0o600))

	_, err := setupTLSConfig(&TLSConfig{CAFile: caFile})
	require.ErrorIs(t, err, errFailedToParseCACert)
}

func TestNewTestLoggerDiscards(t *testing.T) {
	log := NewTestLogger()

	log.Info().Str("device_serial", "emulator-5554").Msg("discarded")
	assert.Equal(t, zerolog.Disabled, log.WithComponent("handshake").GetLevel())
}
