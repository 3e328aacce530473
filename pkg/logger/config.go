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
	"os"
	"strings"
	"time"
)

// Config controls how component loggers are built.
type Config struct {
	Level      string `json:"level"`
	Debug      bool   `json:"debug"`
	Output     string `json:"output"`
	TimeFormat string `json:"time_format"`
}

// OTelConfig points the metrics pipeline at an OTLP collector.
type OTelConfig struct {
	Enabled        bool              `json:"enabled"`
	Endpoint       string            `json:"endpoint"`
	Headers        map[string]string `json:"headers"`
	ServiceName    string            `json:"service_name"`
	ExportInterval time.Duration     `json:"export_interval"`
	Insecure       bool              `json:"insecure"`
	TLS            *TLSConfig        `json:"tls,omitempty"`
}

// TLSConfig holds the collector client certificate files.
type TLSConfig struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file,omitempty"`
}

// DefaultConfig reads LOG_LEVEL, DEBUG, LOG_OUTPUT and LOG_TIME_FORMAT.
func DefaultConfig() *Config {
	return &Config{
		Level:      envString("LOG_LEVEL", "info"),
		Debug:      envBool("DEBUG"),
		Output:     envString("LOG_OUTPUT", "stdout"),
		TimeFormat: os.Getenv("LOG_TIME_FORMAT"),
	}
}

// DefaultOTelConfig reads the standard OTEL_* metrics exporter variables.
func DefaultOTelConfig() *OTelConfig {
	cfg := &OTelConfig{
		Enabled:        envBool("OTEL_METRICS_ENABLED"),
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		Headers:        make(map[string]string),
		ServiceName:    envString("OTEL_SERVICE_NAME", defaultServiceName),
		ExportInterval: defaultExportInterval,
		Insecure:       envBool("OTEL_EXPORTER_OTLP_METRICS_INSECURE"),
	}

	for _, pair := range strings.Split(os.Getenv("OTEL_EXPORTER_OTLP_METRICS_HEADERS"), ",") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			cfg.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	if d, err := time.ParseDuration(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); err == nil && d > 0 {
		cfg.ExportInterval = d
	}

	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
