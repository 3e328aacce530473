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

// Package lifecycle provides component loggers and disposal scopes shared by fgtrack clients.
package lifecycle

import "sync"

// Scope owns teardown callbacks for one client, such as a monitor or a test fixture.
// Dispose runs every registered callback exactly once, most recent first.
type Scope struct {
	mu        sync.Mutex
	callbacks []func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewScope returns an open scope.
func NewScope() *Scope {
	return &Scope{done: make(chan struct{})}
}

// OnDispose registers fn to run when the scope is disposed. If the scope is
// already disposed fn runs immediately on the calling goroutine.
func (s *Scope) OnDispose(fn func()) {
	s.mu.Lock()

	if s.isDisposedLocked() {
		s.mu.Unlock()
		fn()

		return
	}

	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// Dispose runs the registered callbacks in reverse registration order.
// Subsequent calls are no-ops.
func (s *Scope) Dispose() {
	var callbacks []func()

	s.closeOnce.Do(func() {
		s.mu.Lock()
		callbacks = s.callbacks
		s.callbacks = nil
		close(s.done)
		s.mu.Unlock()
	})

	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
}

// Done is closed once Dispose has been called.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// IsDisposed reports whether Dispose has been called.
func (s *Scope) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isDisposedLocked()
}

func (s *Scope) isDisposedLocked() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
