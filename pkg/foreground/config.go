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

package foreground

import (
	"time"

	"github.com/carverauto/fgtrack/pkg/handshake"
	"github.com/carverauto/fgtrack/pkg/models"
)

const defaultCommandTimeout = 5 * time.Second

// Config controls foreground-process detection.
type Config struct {
	// PollInterval is the delay between capability queries while a device's
	// verdict is unresolved.
	PollInterval models.Duration `json:"poll_interval"`
	// CommandTimeout bounds every command sent to the transport.
	CommandTimeout models.Duration `json:"command_timeout"`
}

// Validate fills defaults and rejects negative durations.
func (c *Config) Validate() error {
	if c.PollInterval < 0 {
		return errInvalidInterval
	}

	if c.CommandTimeout < 0 {
		return errInvalidTimeout
	}

	if c.PollInterval == 0 {
		c.PollInterval = models.Duration(handshake.DefaultPollInterval)
	}

	if c.CommandTimeout == 0 {
		c.CommandTimeout = models.Duration(defaultCommandTimeout)
	}

	return nil
}
