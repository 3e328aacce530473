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
	"io"

	"github.com/rs/zerolog"
)

// Logger is the structured logger injected into every fgtrack component.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	WithComponent(component string) Logger
	SetLevel(level zerolog.Level)
	GetLevel() zerolog.Level
}

// Wrap adapts a zerolog.Logger to Logger.
func Wrap(zl zerolog.Logger) Logger {
	return &zerologLogger{zl: zl}
}

// NewTestLogger returns a Logger that discards everything.
func NewTestLogger() Logger {
	return Wrap(zerolog.New(io.Discard).Level(zerolog.Disabled))
}

type zerologLogger struct {
	zl zerolog.Logger
}

func (l *zerologLogger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *zerologLogger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *zerologLogger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *zerologLogger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *zerologLogger) Error() *zerolog.Event { return l.zl.Error() }

func (l *zerologLogger) WithComponent(component string) Logger {
	return Wrap(l.zl.With().Str("component", component).Logger())
}

// SetLevel is not safe to call while other goroutines log through l.
func (l *zerologLogger) SetLevel(level zerolog.Level) { l.zl = l.zl.Level(level) }

func (l *zerologLogger) GetLevel() zerolog.Level { return l.zl.GetLevel() }
