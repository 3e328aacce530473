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

// Package handshake negotiates, per device, whether the on-device agent can
// stream foreground-process events.
package handshake

import (
	"sync"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/metrics"
	"github.com/carverauto/fgtrack/pkg/models"
)

const DefaultPollInterval = 2 * time.Second

// Config controls the capability-query cadence.
type Config struct {
	// PollInterval is the delay between capability queries while the verdict is unresolved.
	PollInterval time.Duration
}

// Sender delivers one capability query for the machine's device. stillWanted
// reports whether the query may still go on the wire and must be checked
// immediately before writing it.
type Sender func(stillWanted func() bool)

// ResolvedFunc is called once per lifecycle with the terminal verdict.
type ResolvedFunc func(device models.DeviceDescriptor, result models.HandshakeResult)

type phase int

const (
	phaseIdle phase = iota
	phaseQuerying
	phaseResolved
	phaseDisconnected
)

// Machine runs the capability handshake for one device. State transitions are
// serialized under mu; the sender, metrics and resolved callback are invoked
// with mu released.
type Machine struct {
	device     models.DeviceDescriptor
	interval   time.Duration
	send       Sender
	metrics    metrics.HandshakeMetrics
	onResolved ResolvedFunc
	clock      Clock
	logger     logger.Logger

	mu            sync.Mutex
	phase         phase
	gen           uint64
	sawUnknown    bool
	loggedUnknown bool
	verdict       models.SupportType
	hasVerdict    bool
	stopResend    chan struct{}
	closed        bool

	wg sync.WaitGroup
}

// New returns an idle machine for device. Nothing is sent until Connected is posted.
func New(
	device models.DeviceDescriptor,
	cfg *Config,
	send Sender,
	m metrics.HandshakeMetrics,
	onResolved ResolvedFunc,
	clock Clock,
	log logger.Logger,
) *Machine {
	interval := DefaultPollInterval
	if cfg != nil && cfg.PollInterval > 0 {
		interval = cfg.PollInterval
	}

	if clock == nil {
		clock = RealClock{}
	}

	if onResolved == nil {
		onResolved = func(models.DeviceDescriptor, models.HandshakeResult) {}
	}

	return &Machine{
		device:     device,
		interval:   interval,
		send:       send,
		metrics:    metrics.Safe(m, log),
		onResolved: onResolved,
		clock:      clock,
		logger:     log,
	}
}

// Device returns the device this machine negotiates for.
func (m *Machine) Device() models.DeviceDescriptor {
	return m.device
}

// Verdict returns the terminal verdict of the current lifecycle, if any.
func (m *Machine) Verdict() (models.SupportType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.verdict, m.hasVerdict
}

// Querying reports whether a capability query lifecycle is in flight.
func (m *Machine) Querying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.phase == phaseQuerying
}

// Post feeds s into the machine.
func (m *Machine) Post(s State) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		m.logger.Warn().
			Str("device_serial", m.device.Serial).
			Type("state", s).
			Msg("Handshake state posted after close, dropping")

		return
	}

	var effects []func()

	switch st := s.(type) {
	case Connected:
		effects = m.connectedLocked()
	case UnknownSupported:
		effects = m.unknownLocked(st.Result)
	case Supported:
		effects = m.verdictLocked(st.Result)
	case NotSupported:
		effects = m.verdictLocked(st.Result)
	case Disconnected:
		effects = m.disconnectedLocked()
	}

	m.mu.Unlock()

	for _, fn := range effects {
		fn()
	}
}

// Close stops any resend loop and waits for it to exit. Later posts are dropped.
func (m *Machine) Close() {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return
	}

	m.closed = true
	m.gen++
	m.stopResendLocked()
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Machine) connectedLocked() []func() {
	if m.phase == phaseQuerying {
		m.logger.Debug().Str("device_serial", m.device.Serial).Msg("Handshake already in flight")
		return nil
	}

	m.gen++
	m.phase = phaseQuerying
	m.sawUnknown = false
	m.loggedUnknown = false
	m.hasVerdict = false

	gen := m.gen
	stop := make(chan struct{})
	m.stopResend = stop
	ticker := m.clock.Ticker(m.interval)

	m.wg.Add(1)

	go m.resendLoop(gen, ticker, stop)

	m.logger.Debug().
		Str("device_serial", m.device.Serial).
		Dur("interval", m.interval).
		Msg("Starting foreground tracking handshake")

	return []func(){func() { m.send(m.wanted(gen)) }}
}

func (m *Machine) unknownLocked(result models.HandshakeResult) []func() {
	if m.phase != phaseQuerying {
		m.logger.Debug().Str("device_serial", m.device.Serial).Msg("Ignoring UNKNOWN outside a handshake")
		return nil
	}

	m.sawUnknown = true

	if m.loggedUnknown {
		return nil
	}

	m.loggedUnknown = true

	m.logger.Info().
		Str("device_serial", m.device.Serial).
		Str("support_type", string(result.SupportType)).
		Msg("Foreground tracking support not yet known, retrying")

	return []func(){func() { m.metrics.LogHandshakeResult(result, m.device) }}
}

func (m *Machine) verdictLocked(result models.HandshakeResult) []func() {
	if m.phase != phaseQuerying {
		m.logger.Debug().
			Str("device_serial", m.device.Serial).
			Str("support_type", string(result.SupportType)).
			Msg("Ignoring handshake verdict with no handshake in flight")

		return nil
	}

	m.stopResendLocked()
	m.phase = phaseResolved
	m.verdict = result.SupportType
	m.hasVerdict = true

	sawUnknown := m.sawUnknown
	m.sawUnknown = false

	m.logger.Info().
		Str("device_serial", m.device.Serial).
		Str("support_type", string(result.SupportType)).
		Str("reason", string(result.Reason)).
		Msg("Foreground tracking handshake resolved")

	effects := []func(){func() { m.metrics.LogHandshakeResult(result, m.device) }}

	if sawUnknown {
		conversion := models.ConversionUnknownToSupported
		if result.SupportType == models.SupportNotSupported {
			conversion = models.ConversionUnknownToNotSupported
		}

		effects = append(effects, func() { m.metrics.LogHandshakeConversion(conversion, m.device) })
	}

	return append(effects, func() { m.onResolved(m.device, result) })
}

func (m *Machine) disconnectedLocked() []func() {
	if m.phase == phaseDisconnected {
		return nil
	}

	wasQuerying := m.phase == phaseQuerying
	sawUnknown := m.sawUnknown

	m.gen++
	m.stopResendLocked()
	m.phase = phaseDisconnected
	m.sawUnknown = false

	m.logger.Debug().Str("device_serial", m.device.Serial).Msg("Handshake device disconnected")

	if wasQuerying && sawUnknown {
		return []func(){func() {
			m.metrics.LogHandshakeConversion(models.ConversionUnknownToDisconnected, m.device)
		}}
	}

	return nil
}

func (m *Machine) stopResendLocked() {
	if m.stopResend != nil {
		close(m.stopResend)
		m.stopResend = nil
	}
}

// wanted returns the guard handed to the sender for lifecycle gen.
func (m *Machine) wanted(gen uint64) func() bool {
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()

		return !m.closed && m.gen == gen && m.phase == phaseQuerying
	}
}

func (m *Machine) resendLoop(gen uint64, ticker Ticker, stop <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	wanted := m.wanted(gen)

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			// The tick may have been scheduled before a verdict or disconnect.
			if !wanted() {
				return
			}

			m.logger.Trace().Str("device_serial", m.device.Serial).Msg("Resending capability query")
			m.send(wanted)
		}
	}
}
