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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/carverauto/fgtrack/pkg/lifecycle"
	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errInvalidConfigPtr    = errors.New("config must be a non-nil pointer")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	// DefaultEnvPrefix is used by the env loader when CONFIG_ENV_PREFIX is unset.
	DefaultEnvPrefix = "FGTRACK_"
)

//nolint:gochecknoglobals // reflect type constant
var securityConfigType = reflect.TypeOf((*models.SecurityConfig)(nil))

// Config selects a loader from CONFIG_SOURCE and post-processes what it loads.
type Config struct {
	fileLoader ConfigLoader
	logger     logger.Logger
}

// NewConfig returns a Config that logs through log, or through a warn-level
// stderr logger when log is nil.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		var err error

		log, err = lifecycle.CreateComponentLogger("config", &logger.Config{Level: "warn", Output: "stderr"})
		if err != nil {
			log = logger.NewTestLogger()
		}
	}

	return &Config{
		fileLoader: &FileConfigLoader{logger: log},
		logger:     log,
	}
}

// LoadAndValidate loads cfg from path (or the environment), resolves the TLS
// paths of every SecurityConfig section and runs cfg's Validate if it has one.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	loader, err := c.loader()
	if err != nil {
		return err
	}

	if err := loader.Load(ctx, path, cfg); err != nil {
		return err
	}

	if err := c.normalizeSecurityConfig(cfg); err != nil {
		return fmt.Errorf("failed to normalize SecurityConfig: %w", err)
	}

	if v, ok := cfg.(Validator); ok {
		return v.Validate()
	}

	return nil
}

func (c *Config) loader() (ConfigLoader, error) {
	switch source := strings.ToLower(os.Getenv("CONFIG_SOURCE")); source {
	case configSourceFile, "":
		return c.fileLoader, nil
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = DefaultEnvPrefix
		}

		return NewEnvConfigLoader(c.logger, prefix), nil
	default:
		return nil, fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}
}

// normalizeSecurityConfig walks the exported fields of *cfg, including nested
// sections, and resolves each non-nil *models.SecurityConfig.
func (c *Config) normalizeSecurityConfig(cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errInvalidConfigPtr
	}

	c.walkSecurity(v.Elem(), "")

	return nil
}

func (c *Config) walkSecurity(v reflect.Value, path string) {
	if v.Kind() != reflect.Struct {
		return
	}

	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		field := v.Field(i)
		name := strings.TrimPrefix(path+"."+sf.Name, ".")

		switch {
		case sf.Type == securityConfigType:
			if field.IsNil() {
				continue
			}

			sec := field.Interface().(*models.SecurityConfig)
			sec.ResolvePaths()

			c.logger.Debug().
				Str("section", name).
				Str("cert_file", sec.TLS.CertFile).
				Str("key_file", sec.TLS.KeyFile).
				Str("ca_file", sec.TLS.CAFile).
				Msg("Resolved TLS paths")
		case field.Kind() == reflect.Struct:
			c.walkSecurity(field, name)
		case field.Kind() == reflect.Ptr && !field.IsNil():
			c.walkSecurity(field.Elem(), name)
		}
	}
}
