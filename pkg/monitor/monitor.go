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

// Package monitor runs one fgtrack client against a NATS or WebSocket transport
// and logs the foreground process of the polled device.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/fgtrack/pkg/devicemodel"
	"github.com/carverauto/fgtrack/pkg/foreground"
	"github.com/carverauto/fgtrack/pkg/lifecycle"
	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/metrics"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/carverauto/fgtrack/pkg/natsutil"
	"github.com/carverauto/fgtrack/pkg/processes"
	"github.com/carverauto/fgtrack/pkg/transport"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var errConnectionClosed = errors.New("transport connection closed")

// Monitor wires the transport, the client's models and a foreground.Detection.
type Monitor struct {
	cfg    *Config
	logger logger.Logger
	scope  *lifecycle.Scope

	client    transport.Client
	model     *devicemodel.DeviceModel
	processes *processes.Model
	detection *foreground.Detection

	ready      chan struct{}
	connClosed chan struct{}
	closeOnce  sync.Once
}

// New connects the configured transport and builds the client. Nothing is consumed until Run.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*Monitor, error) {
	m := &Monitor{
		cfg:        cfg,
		logger:     log,
		scope:      lifecycle.NewScope(),
		ready:      make(chan struct{}),
		connClosed: make(chan struct{}),
	}

	if err := m.init(ctx); err != nil {
		m.scope.Dispose()
		return nil, err
	}

	return m, nil
}

func (m *Monitor) init(ctx context.Context) error {
	var provider metric.MeterProvider

	mp, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName: m.cfg.ServiceName,
		OTel:        m.cfg.Metrics,
	})

	switch {
	case errors.Is(err, logger.ErrOTelMetricsDisabled):
		m.logger.Info().Msg("OTel metrics export disabled")
	case err != nil:
		return fmt.Errorf("failed to initialize metrics: %w", err)
	default:
		provider = mp

		m.scope.OnDispose(func() {
			if err := logger.ShutdownMetrics(context.Background()); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to shut down metrics")
			}
		})
	}

	handshakeMetrics, err := metrics.NewOTelHandshakeMetrics(provider)
	if err != nil {
		return fmt.Errorf("failed to create handshake metrics: %w", err)
	}

	if m.cfg.WebSocket != nil {
		m.client, err = m.dialWebSocket(ctx)
	} else {
		m.client, err = m.connectNATS(ctx)
	}

	if err != nil {
		return err
	}

	registry := devicemodel.NewRegistry()
	m.processes = processes.New(m.logger)
	m.model = devicemodel.New(m.scope, registry, m.processes)

	m.detection, err = foreground.New(m.cfg.Foreground, foreground.Dependencies{
		Model:                m.model,
		Registry:             registry,
		Client:               m.client,
		Processes:            m.processes,
		Metrics:              handshakeMetrics,
		Logger:               m.logger,
		OnDeviceDisconnected: m.onDeviceDisconnected,
		Sessions:             foreground.NewSessionTable(),
		Scope:                m.scope,
	})
	if err != nil {
		return fmt.Errorf("failed to create foreground detection: %w", err)
	}

	m.detection.AddForegroundProcessListener(m)

	return nil
}

func (m *Monitor) connectNATS(ctx context.Context) (transport.Client, error) {
	nc, err := natsutil.ConnectWithSecurity(
		m.cfg.Transport.URL,
		m.cfg.ServiceName,
		m.cfg.Transport.Security,
		m.logger,
		nats.ClosedHandler(func(*nats.Conn) { m.markConnClosed() }),
	)
	if err != nil {
		return nil, err
	}

	m.scope.OnDispose(nc.Close)

	client, err := transport.NewNATSClient(ctx, nc, m.cfg.Transport, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport client: %w", err)
	}

	return client, nil
}

func (m *Monitor) dialWebSocket(ctx context.Context) (transport.Client, error) {
	client, err := transport.DialWebSocket(ctx, *m.cfg.WebSocket, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport client: %w", err)
	}

	m.scope.OnDispose(func() { _ = client.Close() })

	go func() {
		select {
		case <-client.Done():
			m.markConnClosed()
		case <-m.scope.Done():
		}
	}()

	return client, nil
}

func (m *Monitor) markConnClosed() {
	m.closeOnce.Do(func() { close(m.connClosed) })
}

func (m *Monitor) transportURL() string {
	if m.cfg.WebSocket != nil {
		return m.cfg.WebSocket.URL
	}

	return m.cfg.Transport.URL
}

// Run consumes transport events until ctx is done or the transport connection
// is closed, then releases everything New acquired.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.scope.Dispose()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := m.detection.Start(ctx); err != nil {
			return err
		}

		events, err := m.client.Events(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to process events: %w", err)
		}

		g.Go(func() error {
			m.processes.Follow(ctx, events)
			return nil
		})

		close(m.ready)
		m.logger.Info().Str("url", m.transportURL()).Msg("Monitoring foreground processes")

		<-ctx.Done()

		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-m.connClosed:
			return errConnectionClosed
		}
	})

	return g.Wait()
}

// Ready is closed once the monitor consumes transport events.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// ActiveDevice returns the device currently polled, or nil.
func (m *Monitor) ActiveDevice() *models.DeviceDescriptor {
	return m.detection.ActiveDevice()
}

// OnNewProcess implements foreground.Listener.
func (m *Monitor) OnNewProcess(device models.DeviceDescriptor, process models.ForegroundProcess, debuggable bool) {
	m.logger.Info().
		Str("device_serial", device.Serial).
		Int32("pid", process.PID).
		Str("process_name", process.ProcessName).
		Bool("debuggable", debuggable).
		Msg("Foreground process")
}

func (m *Monitor) onDeviceDisconnected(device models.DeviceDescriptor) {
	m.logger.Warn().Str("device_serial", device.Serial).Msg("Polled device disconnected")
}
