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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/rs/zerolog"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

var durationTypes = map[reflect.Type]bool{
	reflect.TypeOf(time.Duration(0)):   true,
	reflect.TypeOf(models.Duration(0)): true,
}

// EnvConfigLoader loads configuration from environment variables. Field names
// come from json tags and nest with underscores, so with the FGTRACK_ prefix
// FGTRACK_TRANSPORT_SUBJECT_PREFIX sets Transport.SubjectPrefix.
// <prefix>CONFIG_JSON, when set, replaces the per-field lookup entirely.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

// NewEnvConfigLoader creates a new environment variable config loader.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
	}
}

// Load implements ConfigLoader.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if raw := os.Getenv(e.prefix + "CONFIG_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		e.debug().Msg("Loaded configuration from CONFIG_JSON")

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	if v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	set := e.loadStruct(v.Elem(), e.prefix)

	e.debug().Int("fields", set).Str("prefix", e.prefix).Msg("Loaded configuration from environment")

	return nil
}

// loadStruct fills v from variables under prefix and returns how many fields were set.
func (e *EnvConfigLoader) loadStruct(v reflect.Value, prefix string) int {
	t := v.Type()
	set := 0

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		envName := prefix + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))

		n, err := e.loadField(field, envName)
		if err != nil {
			// A bad value leaves the field at its file or zero default.
			e.debug().Err(err).Str("env", envName).Msg("Ignoring environment variable")
			continue
		}

		set += n
	}

	return set
}

func (e *EnvConfigLoader) loadField(field reflect.Value, envName string) (int, error) {
	switch {
	case field.Kind() == reflect.Struct:
		return e.loadStruct(field, envName+"_"), nil
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.Struct:
		// Optional sections stay nil unless something targets them.
		if field.IsNil() && !hasEnvPrefix(envName+"_") {
			return 0, nil
		}

		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		return e.loadStruct(field.Elem(), envName+"_"), nil
	}

	raw, ok := os.LookupEnv(envName)
	if !ok || raw == "" {
		return 0, nil
	}

	if field.Kind() == reflect.Ptr {
		elem := reflect.New(field.Type().Elem())
		if err := setScalar(elem.Elem(), raw); err != nil {
			return 0, err
		}

		field.Set(elem)

		return 1, nil
	}

	if err := setScalar(field, raw); err != nil {
		return 0, err
	}

	return 1, nil
}

func setScalar(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if durationTypes[field.Type()] {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}

			field.SetInt(int64(d))

			return nil
		}

		i, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return json.Unmarshal([]byte(raw), field.Addr().Interface())
		}

		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))

		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}

		field.Set(slice)
	default:
		// Maps and anything else are taken as JSON.
		if err := json.Unmarshal([]byte(raw), field.Addr().Interface()); err != nil {
			return fmt.Errorf("unsupported %s value: %w", field.Kind(), err)
		}
	}

	return nil
}

func hasEnvPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}

// debug returns a nil event, which zerolog treats as disabled, when no logger is set.
func (e *EnvConfigLoader) debug() *zerolog.Event {
	if e.logger == nil {
		return nil
	}

	return e.logger.Debug()
}
