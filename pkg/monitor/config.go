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

package monitor

import (
	"fmt"

	"github.com/carverauto/fgtrack/pkg/foreground"
	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/transport"
)

const defaultServiceName = "fgtrack-monitor"

// Config is the fgtrack-monitor configuration file.
type Config struct {
	ServiceName string               `json:"service_name"`
	Foreground  foreground.Config    `json:"foreground"`
	Transport   transport.NATSConfig `json:"transport"`
	Logging     *logger.Config       `json:"logging"`
	Metrics     *logger.OTelConfig   `json:"metrics"`

	// WebSocket, when set, replaces the NATS transport with a direct
	// connection to an agent bridge.
	WebSocket *transport.WebSocketConfig `json:"websocket"`
}

// Validate fills defaults for every section.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}

	if err := c.Foreground.Validate(); err != nil {
		return fmt.Errorf("foreground: %w", err)
	}

	if c.WebSocket != nil {
		if err := c.WebSocket.Validate(); err != nil {
			return fmt.Errorf("websocket: %w", err)
		}

		return nil
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	return nil
}
