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
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/carverauto/fgtrack/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "fgtrack-monitor", cfg.ServiceName)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Foreground.PollInterval))
	assert.Equal(t, nats.DefaultURL, cfg.Transport.URL)
	assert.Equal(t, "fgtrack", cfg.Transport.SubjectPrefix)

	cfg = &Config{Transport: transport.NATSConfig{Codec: "xml"}}
	require.Error(t, cfg.Validate())

	cfg = &Config{WebSocket: &transport.WebSocketConfig{}}
	require.Error(t, cfg.Validate())

	cfg = &Config{WebSocket: &transport.WebSocketConfig{URL: "ws://127.0.0.1:9/agent"}}
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Transport.URL)
}

func runJetStreamServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}

	t.Cleanup(srv.Shutdown)

	return srv
}

func TestMonitorTracksSupportedDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	srv := runJetStreamServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := &Config{Transport: transport.NATSConfig{URL: srv.ClientURL(), Codec: transport.CodecCBOR}}
	require.NoError(t, cfg.Validate())

	// The agent side of the transport.
	agentConn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer agentConn.Close()

	agent, err := transport.NewNATSClient(ctx, agentConn, transport.NATSConfig{URL: srv.ClientURL()}, logger.NewTestLogger())
	require.NoError(t, err)

	commands := make(chan transport.Command, 16)

	unsubscribe, err := agent.HandleCommands(func(cmd transport.Command) transport.Ack {
		commands <- cmd
		return transport.Ack{OK: true}
	})
	require.NoError(t, err)
	defer func() { _ = unsubscribe() }()

	m, err := New(ctx, cfg, logger.NewTestLogger())
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() { done <- m.Run(runCtx) }()

	select {
	case <-m.Ready():
	case <-ctx.Done():
		t.Fatal("monitor never became ready")
	}

	device := models.DeviceDescriptor{Manufacturer: "Google", Model: "Pixel", Serial: "R58M123", APILevel: 34}
	stream := transport.StreamID(7)

	require.NoError(t, agent.PublishEvent(ctx, transport.Event{
		StreamID:  stream,
		Kind:      transport.EventStreamConnected,
		Timestamp: time.Now().UnixNano(),
		Device:    &device,
	}))

	expectCommand := func(want transport.CommandType) {
		t.Helper()

		select {
		case cmd := <-commands:
			assert.Equal(t, want, cmd.Type)
			assert.Equal(t, stream, cmd.StreamID)
		case <-ctx.Done():
			t.Fatalf("no %s command received", want)
		}
	}

	expectCommand(transport.CommandIsTrackingForegroundProcessSupported)

	require.NoError(t, agent.PublishEvent(ctx, transport.Event{
		StreamID:  stream,
		Kind:      transport.EventTrackingForegroundProcessSupported,
		Handshake: &models.HandshakeResult{SupportType: models.SupportSupported},
	}))

	expectCommand(transport.CommandStartTrackingForegroundProcess)
	assert.Equal(t, &device, m.ActiveDevice())

	stop()
	require.NoError(t, <-done)
}

// wsBridge is a single-connection agent bridge that acks every command.
type wsBridge struct {
	codec    transport.Codec
	commands chan transport.Command

	mu   sync.Mutex
	conn *websocket.Conn

	connected chan struct{}
}

func newWSBridge(t *testing.T) (*wsBridge, *httptest.Server) {
	t.Helper()

	codec, err := transport.NewCodec(transport.CodecJSON)
	require.NoError(t, err)

	b := &wsBridge{
		codec:     codec,
		commands:  make(chan transport.Command, 16),
		connected: make(chan struct{}),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		close(b.connected)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var env transport.Envelope
			if err := codec.Unmarshal(data, &env); err != nil || env.Command == nil {
				continue
			}

			b.commands <- *env.Command

			if err := b.send(transport.Envelope{Kind: "ack", Ack: &transport.Ack{CommandID: env.Command.ID, OK: true}}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return b, srv
}

func (b *wsBridge) send(env transport.Envelope) error {
	data, err := b.codec.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.conn.WriteMessage(transport.MessageType(b.codec), data)
}

func (b *wsBridge) event(ev transport.Event) error {
	return b.send(transport.Envelope{Kind: "event", Event: &ev})
}

func TestMonitorOverWebSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bridge, srv := newWSBridge(t)

	cfg := &Config{WebSocket: &transport.WebSocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}}
	require.NoError(t, cfg.Validate())

	m, err := New(ctx, cfg, logger.NewTestLogger())
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- m.Run(ctx) }()

	select {
	case <-m.Ready():
	case <-ctx.Done():
		t.Fatal("monitor never became ready")
	}

	<-bridge.connected

	device := models.DeviceDescriptor{Manufacturer: "Google", Model: "Pixel", Serial: "R58M456", APILevel: 33}
	stream := transport.StreamID(11)

	require.NoError(t, bridge.event(transport.Event{
		StreamID:  stream,
		Kind:      transport.EventStreamConnected,
		Timestamp: time.Now().UnixNano(),
		Device:    &device,
	}))

	expectCommand := func(want transport.CommandType) {
		t.Helper()

		select {
		case cmd := <-bridge.commands:
			assert.Equal(t, want, cmd.Type)
			assert.Equal(t, stream, cmd.StreamID)
		case <-ctx.Done():
			t.Fatalf("no %s command received", want)
		}
	}

	expectCommand(transport.CommandIsTrackingForegroundProcessSupported)

	require.NoError(t, bridge.event(transport.Event{
		StreamID:  stream,
		Kind:      transport.EventTrackingForegroundProcessSupported,
		Handshake: &models.HandshakeResult{SupportType: models.SupportSupported},
	}))

	expectCommand(transport.CommandStartTrackingForegroundProcess)

	require.Eventually(t, func() bool {
		active := m.ActiveDevice()
		return active != nil && active.Serial == device.Serial
	}, 5*time.Second, 10*time.Millisecond)

	fg := models.ForegroundProcess{PID: 4242, ProcessName: "com.example.debug"}

	require.NoError(t, bridge.event(transport.Event{
		StreamID: stream,
		Kind:     transport.EventProcessStarted,
		Process:  &fg,
	}))

	require.Eventually(t, func() bool {
		return m.processes.IsDebuggable(device, fg)
	}, 5*time.Second, 10*time.Millisecond)

	bridge.mu.Lock()
	_ = bridge.conn.Close()
	bridge.mu.Unlock()

	select {
	case err := <-done:
		require.ErrorIs(t, err, errConnectionClosed)
	case <-ctx.Done():
		t.Fatal("monitor did not stop after the bridge went away")
	}
}
