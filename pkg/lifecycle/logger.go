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

package lifecycle

import (
	"fmt"

	"github.com/carverauto/fgtrack/pkg/logger"
)

// CreateComponentLogger builds the logger a component is constructed with,
// e.g. "handshake" or "foreground". A nil config means logger.DefaultConfig.
func CreateComponentLogger(component string, config *logger.Config) (logger.Logger, error) {
	zl, err := logger.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s logger: %w", component, err)
	}

	return logger.Wrap(zl).WithComponent(component), nil
}
