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
	"context"
	"sync"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/carverauto/fgtrack/pkg/transport"
)

// queuedCommand is a command plus the guard that decides, right before the
// write, whether it is still meaningful.
type queuedCommand struct {
	cmd    transport.Command
	device models.DeviceDescriptor
	wanted func() bool
}

// commandQueue delivers commands one at a time in submission order.
type commandQueue struct {
	client  transport.Client
	timeout time.Duration
	logger  logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []queuedCommand
	busy    bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newCommandQueue(client transport.Client, timeout time.Duration, log logger.Logger) *commandQueue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &commandQueue{
		client:  client,
		timeout: timeout,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()

	return q
}

// push appends c. It reports false once the queue is closed.
func (q *commandQueue) push(c queuedCommand) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.pending = append(q.pending, c)
	q.cond.Broadcast()

	return true
}

func (q *commandQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()

		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}

		if q.closed {
			q.mu.Unlock()
			return
		}

		c := q.pending[0]
		q.pending = q.pending[1:]
		q.busy = true
		q.mu.Unlock()

		q.deliver(c)

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *commandQueue) deliver(c queuedCommand) {
	if c.wanted != nil && !c.wanted() {
		q.logger.Debug().
			Str("command", string(c.cmd.Type)).
			Str("device_serial", c.device.Serial).
			Stringer("stream_id", c.cmd.StreamID).
			Msg("Dropping command that is no longer wanted")

		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	if _, err := q.client.SendCommand(ctx, c.cmd); err != nil {
		q.logger.Warn().
			Err(err).
			Str("command", string(c.cmd.Type)).
			Str("device_serial", c.device.Serial).
			Stringer("stream_id", c.cmd.StreamID).
			Msg("Failed to send command")

		return
	}

	q.logger.Debug().
		Str("command", string(c.cmd.Type)).
		Str("device_serial", c.device.Serial).
		Stringer("stream_id", c.cmd.StreamID).
		Msg("Sent command")
}

// waitIdle blocks until every pushed command has been delivered or dropped.
func (q *commandQueue) waitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for (len(q.pending) > 0 || q.busy) && !q.closed {
		q.cond.Wait()
	}
}

// close drops pending commands, cancels the one in flight and waits for the
// sender goroutine to exit.
func (q *commandQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	<-q.done
}
