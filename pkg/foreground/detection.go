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
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/fgtrack/pkg/devicemodel"
	"github.com/carverauto/fgtrack/pkg/handshake"
	"github.com/carverauto/fgtrack/pkg/lifecycle"
	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/metrics"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/carverauto/fgtrack/pkg/transport"
)

// Dependencies are the collaborators of a Detection. Model, Registry,
// Client and Processes are required.
type Dependencies struct {
	Model     DeviceModel
	Registry  devicemodel.Registry
	Client    transport.Client
	Processes ProcessDiscovery
	Metrics   metrics.HandshakeMetrics
	Logger    logger.Logger
	Clock     handshake.Clock

	// OnDeviceDisconnected is called when the active device goes away or
	// when a device's stream turns out to be corrupted.
	OnDeviceDisconnected func(device models.DeviceDescriptor)

	// Sessions is the process-wide record of tracked devices. Detections
	// sharing a Registry must share it. Nil gives the Detection its own.
	Sessions *SessionTable

	// Scope, when set, disposes the Detection.
	Scope *lifecycle.Scope
}

// connection is a device's current transport stream and its handshake.
type connection struct {
	stream  transport.StreamID
	machine *handshake.Machine
}

// session is a start-tracking command sent to a device without a matching stop.
type session struct {
	stream    transport.StreamID
	startedAt time.Time
}

type lastProcess struct {
	device  models.DeviceDescriptor
	process models.ForegroundProcess
}

// Detection tracks the foreground process of the device its client polls.
type Detection struct {
	cfg            Config
	model          DeviceModel
	self           devicemodel.Handle
	registry       devicemodel.Registry
	client         transport.Client
	processes      ProcessDiscovery
	metrics        metrics.HandshakeMetrics
	clock          handshake.Clock
	logger         logger.Logger
	onDisconnected func(models.DeviceDescriptor)

	queue   *commandQueue
	tracked *SessionTable

	// dispatchMu orders listener deliveries against replays.
	dispatchMu sync.Mutex

	// selectionMu orders writes of the client's device selection.
	selectionMu sync.Mutex

	mu          sync.Mutex
	lastConnect map[models.DeviceDescriptor]int64
	connections map[models.DeviceDescriptor]*connection
	streams     map[transport.StreamID]models.DeviceDescriptor
	sessions    map[models.DeviceDescriptor]session
	active      *models.DeviceDescriptor
	selection   uint64
	last        *lastProcess
	listeners   []Listener
	cancel      context.CancelFunc
	unsubscribe func()
	started     bool
	disposed    bool

	wg sync.WaitGroup
}

// New validates cfg and returns an idle Detection. Nothing is sent until Start.
func New(cfg Config, deps Dependencies) (*Detection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid foreground config: %w", err)
	}

	switch {
	case deps.Client == nil:
		return nil, errMissingClient
	case deps.Model == nil:
		return nil, errMissingModel
	case deps.Registry == nil:
		return nil, errMissingRegistry
	case deps.Processes == nil:
		return nil, errMissingProcesses
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	log = log.WithComponent("foreground")

	clock := deps.Clock
	if clock == nil {
		clock = handshake.RealClock{}
	}

	onDisconnected := deps.OnDeviceDisconnected
	if onDisconnected == nil {
		onDisconnected = func(models.DeviceDescriptor) {}
	}

	tracked := deps.Sessions
	if tracked == nil {
		tracked = NewSessionTable()
	}

	d := &Detection{
		cfg:            cfg,
		model:          deps.Model,
		self:           deps.Model,
		registry:       deps.Registry,
		client:         deps.Client,
		processes:      deps.Processes,
		metrics:        metrics.Safe(deps.Metrics, log),
		clock:          clock,
		logger:         log,
		onDisconnected: onDisconnected,
		queue:          newCommandQueue(deps.Client, time.Duration(cfg.CommandTimeout), log),
		tracked:        tracked,
		lastConnect:    make(map[models.DeviceDescriptor]int64),
		connections:    make(map[models.DeviceDescriptor]*connection),
		streams:        make(map[transport.StreamID]models.DeviceDescriptor),
		sessions:       make(map[models.DeviceDescriptor]session),
	}

	if deps.Scope != nil {
		deps.Scope.OnDispose(d.Dispose)
	}

	return d, nil
}

// Start subscribes to transport events and selected-process changes.
func (d *Detection) Start(ctx context.Context) error {
	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}

	if d.started {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}

	d.started = true
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	events, err := d.client.Events(ctx)
	if err != nil {
		cancel()

		d.mu.Lock()
		d.started = false
		d.cancel = nil
		d.mu.Unlock()

		return fmt.Errorf("failed to subscribe to transport events: %w", err)
	}

	unsubscribe := d.processes.OnSelectedProcessChanged(d.onSelectedProcessChanged)

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		unsubscribe()

		return ErrDisposed
	}

	d.unsubscribe = unsubscribe
	d.wg.Add(1)
	d.mu.Unlock()

	go d.listen(ctx, events)

	d.logger.Info().Dur("poll_interval", time.Duration(d.cfg.PollInterval)).Msg("Started foreground process detection")

	return nil
}

func (d *Detection) listen(ctx context.Context, events <-chan transport.Event) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				d.logger.Debug().Msg("Transport event stream closed")
				return
			}

			d.handleEvent(ev)
		}
	}
}

func (d *Detection) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventStreamConnected:
		d.handleConnected(ev)
	case transport.EventStreamDisconnected:
		d.handleDisconnected(ev)
	case transport.EventTrackingForegroundProcessSupported:
		d.handleHandshake(ev)
	case transport.EventForegroundProcess:
		d.handleForegroundProcess(ev)
	default:
		d.logger.Debug().Str("kind", string(ev.Kind)).Stringer("stream_id", ev.StreamID).Msg("Ignoring transport event")
	}
}

func (d *Detection) handleConnected(ev transport.Event) {
	if ev.Device == nil {
		d.logger.Warn().Stringer("stream_id", ev.StreamID).Msg("Stream connected without a device")
		return
	}

	device := *ev.Device

	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	if last, ok := d.lastConnect[device]; ok && ev.Timestamp < last {
		d.mu.Unlock()

		d.metrics.LogTransportCorrupted(device)
		d.logger.Error().
			Str("device_serial", device.Serial).
			Stringer("stream_id", ev.StreamID).
			Int64("timestamp", ev.Timestamp).
			Int64("last_timestamp", last).
			Msg("Stream connected with an older timestamp than the current one, transport is corrupted")
		d.onDisconnected(device)

		return
	}

	d.lastConnect[device] = ev.Timestamp

	var stale *handshake.Machine

	if old, ok := d.connections[device]; ok {
		stale = old.machine
		delete(d.streams, old.stream)
		delete(d.sessions, device)
		d.tracked.drop(device, old.stream)
		d.clearLastLocked(device)
	}

	machine := handshake.New(
		device,
		&handshake.Config{PollInterval: time.Duration(d.cfg.PollInterval)},
		d.querySender(device, ev.StreamID),
		d.metrics,
		d.resolvedFunc(ev.StreamID),
		d.clock,
		d.logger,
	)

	d.connections[device] = &connection{stream: ev.StreamID, machine: machine}
	d.streams[ev.StreamID] = device
	d.mu.Unlock()

	if stale != nil {
		stale.Post(handshake.Disconnected{})
		stale.Close()
	}

	d.logger.Info().
		Str("device_serial", device.Serial).
		Stringer("stream_id", ev.StreamID).
		Msg("Device connected")

	machine.Post(handshake.Connected{})
}

func (d *Detection) handleDisconnected(ev transport.Event) {
	d.mu.Lock()

	device, ok := d.streams[ev.StreamID]
	if !ok {
		d.mu.Unlock()
		return
	}

	conn := d.connections[device]
	delete(d.streams, ev.StreamID)
	delete(d.connections, device)
	delete(d.sessions, device)
	d.tracked.drop(device, conn.stream)

	wasActive := d.active != nil && *d.active == device

	var gen uint64

	if wasActive {
		d.active = nil
		d.selection++
		gen = d.selection
		d.clearLastLocked(device)
	}
	d.mu.Unlock()

	conn.machine.Post(handshake.Disconnected{})
	conn.machine.Close()

	d.logger.Info().
		Str("device_serial", device.Serial).
		Stringer("stream_id", ev.StreamID).
		Bool("active", wasActive).
		Msg("Device disconnected")

	if wasActive {
		d.publishSelection(gen, nil)
		d.onDisconnected(device)
	}
}

func (d *Detection) handleHandshake(ev transport.Event) {
	if ev.Handshake == nil {
		d.logger.Warn().Stringer("stream_id", ev.StreamID).Msg("Handshake event without a result")
		return
	}

	d.mu.Lock()

	device, ok := d.streams[ev.StreamID]
	if !ok {
		d.mu.Unlock()
		d.logger.Debug().Stringer("stream_id", ev.StreamID).Msg("Handshake result for an unknown stream")

		return
	}

	machine := d.connections[device].machine
	d.mu.Unlock()

	machine.Post(handshake.StateFor(*ev.Handshake))
}

func (d *Detection) handleForegroundProcess(ev transport.Event) {
	if ev.Process == nil {
		return
	}

	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	d.mu.Lock()

	device, ok := d.streams[ev.StreamID]
	if !ok || d.active == nil || *d.active != device {
		d.mu.Unlock()
		return
	}

	if s, tracking := d.sessions[device]; !tracking || s.stream != ev.StreamID {
		d.mu.Unlock()
		return
	}

	process := *ev.Process
	d.last = &lastProcess{device: device, process: process}
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.Unlock()

	debuggable := d.processes.IsDebuggable(device, process)

	d.logger.Debug().
		Str("device_serial", device.Serial).
		Int32("pid", process.PID).
		Str("process_name", process.ProcessName).
		Bool("debuggable", debuggable).
		Msg("Foreground process changed")

	for _, l := range listeners {
		l.OnNewProcess(device, process, debuggable)
	}
}

// querySender returns the handshake Sender for device on stream. The query is
// dropped when the lifecycle ended or the Detection was disposed meanwhile.
func (d *Detection) querySender(device models.DeviceDescriptor, stream transport.StreamID) handshake.Sender {
	return func(stillWanted func() bool) {
		d.queue.push(queuedCommand{
			cmd:    transport.NewCommand(stream, transport.CommandIsTrackingForegroundProcessSupported),
			device: device,
			wanted: func() bool { return stillWanted() && d.streamCurrent(device, stream) },
		})
	}
}

func (d *Detection) resolvedFunc(stream transport.StreamID) handshake.ResolvedFunc {
	return func(device models.DeviceDescriptor, result models.HandshakeResult) {
		d.handleResolved(device, stream, result)
	}
}

func (d *Detection) handleResolved(device models.DeviceDescriptor, stream transport.StreamID, result models.HandshakeResult) {
	if result.SupportType != models.SupportSupported {
		return
	}

	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	if conn, ok := d.connections[device]; !ok || conn.stream != stream {
		d.mu.Unlock()
		return
	}

	if d.active != nil {
		if *d.active == device {
			d.startTrackingLocked(device)
		}

		d.mu.Unlock()

		return
	}

	if d.model.SelectedDevice() != nil {
		d.mu.Unlock()
		return
	}

	selected := device
	d.active = &selected
	d.selection++
	gen := d.selection
	d.startTrackingLocked(device)
	d.mu.Unlock()

	d.logger.Info().Str("device_serial", device.Serial).Msg("Auto-selecting the first supported device")
	d.publishSelection(gen, &selected)
}

// publishSelection writes device to the client's DeviceModel unless a newer
// change of the active device happened since generation gen was taken.
func (d *Detection) publishSelection(gen uint64, device *models.DeviceDescriptor) {
	d.selectionMu.Lock()
	defer d.selectionMu.Unlock()

	d.mu.Lock()
	current := d.selection == gen
	d.mu.Unlock()

	if !current {
		d.logger.Debug().Msg("Skipping superseded device selection")
		return
	}

	d.model.SetSelectedDevice(device)
}

// onSelectedProcessChanged retries the handshake for the device of a newly
// selected running process whose device has not been found supported.
func (d *Detection) onSelectedProcessChanged(process *models.ProcessDescriptor) {
	if process == nil || !process.IsRunning {
		return
	}

	d.mu.Lock()

	conn, ok := d.connections[process.Device]
	if !ok || d.disposed {
		d.mu.Unlock()
		return
	}

	machine := conn.machine
	d.mu.Unlock()

	if verdict, resolved := machine.Verdict(); resolved && verdict == models.SupportSupported {
		return
	}

	d.logger.Debug().Str("device_serial", process.Device.Serial).Msg("Re-running handshake for the selected process")
	machine.Post(handshake.Connected{})
}

// StartPollingDevice makes device the tracked device and stops the previously
// tracked one unless another client still selects it. It must not be called
// from a listener of the client's DeviceModel.
func (d *Detection) StartPollingDevice(device models.DeviceDescriptor) {
	d.StartPollingDeviceWithOptions(device, true)
}

// StartPollingDeviceWithOptions is StartPollingDevice with control over
// stopping the previous device. The start command is sent once the device's
// handshake is supported.
func (d *Detection) StartPollingDeviceWithOptions(device models.DeviceDescriptor, stopPrevious bool) {
	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	if d.active != nil && *d.active == device {
		d.mu.Unlock()
		return
	}

	previous := d.active
	selected := device
	d.active = &selected
	d.selection++
	gen := d.selection

	d.startTrackingLocked(device)

	if stopPrevious && previous != nil {
		d.releaseLocked(*previous)
	}
	d.mu.Unlock()

	d.publishSelection(gen, &selected)
}

// StopPollingSelectedDevice stops tracking the active device unless another
// client still selects it, and clears the client's device selection.
func (d *Detection) StopPollingSelectedDevice() {
	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	if d.active != nil {
		previous := *d.active
		d.active = nil
		d.releaseLocked(previous)
	} else {
		d.stopAbandonedLocked()
	}

	d.selection++
	gen := d.selection
	d.mu.Unlock()

	d.publishSelection(gen, nil)
}

// ActiveDevice returns the device currently polled, or nil.
func (d *Detection) ActiveDevice() *models.DeviceDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active == nil {
		return nil
	}

	device := *d.active

	return &device
}

// AddForegroundProcessListener registers l and replays the last foreground
// process of the tracked device to it.
func (d *Detection) AddForegroundProcessListener(l Listener) {
	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()

	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	for _, existing := range d.listeners {
		if existing == l {
			d.mu.Unlock()
			return
		}
	}

	d.listeners = append(d.listeners, l)

	var replay *lastProcess

	if d.last != nil && d.active != nil && d.last.device == *d.active {
		if _, tracking := d.sessions[d.last.device]; tracking {
			last := *d.last
			replay = &last
		}
	}
	d.mu.Unlock()

	if replay != nil {
		l.OnNewProcess(replay.device, replay.process, d.processes.IsDebuggable(replay.device, replay.process))
	}
}

// RemoveForegroundProcessListener deregisters l.
func (d *Detection) RemoveForegroundProcessListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Dispose stops the Detection. No command is sent after Dispose returns.
// It must not be called from a Listener or from OnDeviceDisconnected.
func (d *Detection) Dispose() {
	d.mu.Lock()

	if d.disposed {
		d.mu.Unlock()
		return
	}

	d.disposed = true
	cancel := d.cancel
	unsubscribe := d.unsubscribe

	machines := make([]*handshake.Machine, 0, len(d.connections))
	for _, conn := range d.connections {
		machines = append(machines, conn.machine)
	}

	d.connections = make(map[models.DeviceDescriptor]*connection)
	d.streams = make(map[transport.StreamID]models.DeviceDescriptor)
	d.sessions = make(map[models.DeviceDescriptor]session)
	d.active = nil
	d.last = nil
	d.listeners = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if unsubscribe != nil {
		unsubscribe()
	}

	d.queue.close()

	for _, m := range machines {
		m.Close()
	}

	d.wg.Wait()

	d.logger.Info().Msg("Disposed foreground process detection")
}

// startTrackingLocked sends the start command for device when its handshake
// is supported and no session is open yet. Otherwise the start waits for the
// verdict.
func (d *Detection) startTrackingLocked(device models.DeviceDescriptor) {
	if _, ok := d.sessions[device]; ok {
		return
	}

	conn, ok := d.connections[device]
	if !ok {
		d.logger.Debug().Str("device_serial", device.Serial).Msg("Device not connected, deferring start")
		return
	}

	if verdict, resolved := conn.machine.Verdict(); !resolved || verdict != models.SupportSupported {
		d.logger.Debug().Str("device_serial", device.Serial).Msg("Handshake not supported yet, deferring start")
		return
	}

	stream := conn.stream
	d.sessions[device] = session{stream: stream, startedAt: d.clock.Now()}
	d.tracked.open(device, stream)

	d.queue.push(queuedCommand{
		cmd:    transport.NewCommand(stream, transport.CommandStartTrackingForegroundProcess),
		device: device,
		wanted: func() bool { return d.streamCurrent(device, stream) },
	})

	d.logger.Info().
		Str("device_serial", device.Serial).
		Stringer("stream_id", stream).
		Msg("Started tracking foreground process")
}

// releaseLocked ends this client's session on device. The agent is told to
// stop unless another client still selects the device; that client's
// Detection then owns the stop.
func (d *Detection) releaseLocked(device models.DeviceDescriptor) {
	s, ok := d.sessions[device]
	if !ok {
		return
	}

	delete(d.sessions, device)
	d.clearLastLocked(device)

	if d.registry.IsSelectedByAnyOtherThan(device, d.self) {
		d.logger.Debug().
			Str("device_serial", device.Serial).
			Msg("Device still selected by another client, not stopping tracking")

		return
	}

	if !d.stopLocked(device, s.stream) {
		return
	}

	d.logger.Info().
		Str("device_serial", device.Serial).
		Stringer("stream_id", s.stream).
		Dur("tracked_for", d.clock.Now().Sub(s.startedAt)).
		Msg("Stopped tracking foreground process")
}

// stopAbandonedLocked stops tracked devices on this client's streams that no
// client selects any more, such as sessions whose stop was suppressed while
// a client without a Detection held the device.
func (d *Detection) stopAbandonedLocked() {
	for device, stream := range d.tracked.devices() {
		if conn, ok := d.connections[device]; !ok || conn.stream != stream {
			continue
		}

		if _, own := d.sessions[device]; own || d.registry.IsSelectedByAnyOtherThan(device, d.self) {
			continue
		}

		if d.stopLocked(device, stream) {
			d.logger.Info().
				Str("device_serial", device.Serial).
				Stringer("stream_id", stream).
				Msg("Stopped abandoned foreground process tracking")
		}
	}
}

// stopLocked sends the stop command for device on stream if the session is
// still open process-wide and reports whether it did.
func (d *Detection) stopLocked(device models.DeviceDescriptor, stream transport.StreamID) bool {
	if !d.tracked.close(device, stream) {
		d.logger.Debug().
			Str("device_serial", device.Serial).
			Msg("Tracking already stopped by another client")

		return false
	}

	d.queue.push(queuedCommand{
		cmd:    transport.NewCommand(stream, transport.CommandStopTrackingForegroundProcess),
		device: device,
		wanted: func() bool { return d.streamCurrent(device, stream) },
	})

	return true
}

func (d *Detection) clearLastLocked(device models.DeviceDescriptor) {
	if d.last != nil && d.last.device == device {
		d.last = nil
	}
}

// streamCurrent reports whether stream is still device's live stream.
func (d *Detection) streamCurrent(device models.DeviceDescriptor, stream transport.StreamID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return false
	}

	conn, ok := d.connections[device]

	return ok && conn.stream == stream
}
