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

import "errors"

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("foreground detection already started")
	// ErrDisposed is returned by Start after Dispose.
	ErrDisposed = errors.New("foreground detection disposed")

	errMissingClient    = errors.New("transport client is required")
	errMissingModel     = errors.New("device model is required")
	errMissingRegistry  = errors.New("device registry is required")
	errMissingProcesses = errors.New("process discovery is required")
	errInvalidInterval  = errors.New("poll_interval must not be negative")
	errInvalidTimeout   = errors.New("command_timeout must not be negative")
)
