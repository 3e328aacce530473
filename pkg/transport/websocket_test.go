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

package transport

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
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBridge plays the agent side of a WebSocket connection.
type fakeBridge struct {
	t      *testing.T
	codec  Codec
	handle func(cmd Command) Ack

	mu   sync.Mutex
	conn *websocket.Conn

	connected chan struct{}
}

func newFakeBridge(t *testing.T, codecName string, handle func(cmd Command) Ack) (*fakeBridge, *httptest.Server) {
	t.Helper()

	codec, err := NewCodec(codecName)
	require.NoError(t, err)

	b := &fakeBridge{t: t, codec: codec, handle: handle, connected: make(chan struct{})}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		close(b.connected)

		b.serve(conn)
	}))
	t.Cleanup(srv.Close)

	return b, srv
}

func (b *fakeBridge) serve(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := b.codec.Unmarshal(data, &env); err != nil || env.Command == nil {
			continue
		}

		ack := b.handle(*env.Command)
		ack.CommandID = env.Command.ID

		if err := b.send(Envelope{Kind: envelopeAck, Ack: &ack}); err != nil {
			return
		}
	}
}

func (b *fakeBridge) send(env Envelope) error {
	data, err := b.codec.Marshal(env)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.conn.WriteMessage(MessageType(b.codec), data)
}

func (b *fakeBridge) drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.conn.Close()
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketClientRoundTrip(t *testing.T) {
	for _, codec := range []string{CodecJSON, CodecCBOR} {
		t.Run(codec, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			bridge, srv := newFakeBridge(t, codec, func(cmd Command) Ack {
				if cmd.Type == CommandStopTrackingForegroundProcess {
					return Ack{OK: false, Error: "not tracking"}
				}

				return Ack{OK: true}
			})

			client, err := DialWebSocket(ctx, WebSocketConfig{URL: wsURL(srv), Codec: codec}, logger.NewTestLogger())
			require.NoError(t, err)

			defer func() { _ = client.Close() }()

			<-bridge.connected

			cmd := NewCommand(3, CommandStartTrackingForegroundProcess)

			ack, err := client.SendCommand(ctx, cmd)
			require.NoError(t, err)
			assert.True(t, ack.OK)
			assert.Equal(t, cmd.ID, ack.CommandID)

			ack, err = client.SendCommand(ctx, NewCommand(3, CommandStopTrackingForegroundProcess))
			require.ErrorIs(t, err, ErrCommandRejected)
			require.NotNil(t, ack)
			assert.Equal(t, "not tracking", ack.Error)

			events, err := client.Events(ctx)
			require.NoError(t, err)

			sent := []Event{
				{StreamID: 3, Kind: EventStreamConnected, Timestamp: 10, Device: &models.DeviceDescriptor{Serial: "emulator-5554"}},
				{StreamID: 3, Kind: EventForegroundProcess, Process: &models.ForegroundProcess{PID: 42, ProcessName: "com.example.app"}},
			}

			for i := range sent {
				require.NoError(t, bridge.send(Envelope{Kind: envelopeEvent, Event: &sent[i]}))
			}

			for _, want := range sent {
				select {
				case got := <-events:
					assert.Equal(t, want, got)
				case <-ctx.Done():
					t.Fatal("timed out waiting for event")
				}
			}
		})
	}
}

func TestWebSocketClientEventsCloseOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bridge, srv := newFakeBridge(t, CodecJSON, func(Command) Ack { return Ack{OK: true} })

	client, err := DialWebSocket(ctx, WebSocketConfig{URL: wsURL(srv)}, logger.NewTestLogger())
	require.NoError(t, err)

	<-bridge.connected

	events, err := client.Events(ctx)
	require.NoError(t, err)

	bridge.drop()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-ctx.Done():
		t.Fatal("events channel was not closed")
	}

	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client was not marked done")
	}

	_, err = client.SendCommand(ctx, NewCommand(1, CommandIsTrackingForegroundProcessSupported))
	require.Error(t, err)

	_, err = client.Events(ctx)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketClientSendTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	release := make(chan struct{})

	bridge, srv := newFakeBridge(t, CodecJSON, func(Command) Ack {
		<-release

		return Ack{OK: true}
	})

	client, err := DialWebSocket(ctx, WebSocketConfig{URL: wsURL(srv)}, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() { _ = client.Close() }()
	defer close(release)

	<-bridge.connected

	cmdCtx, cmdCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cmdCancel()

	_, err = client.SendCommand(cmdCtx, NewCommand(1, CommandIsTrackingForegroundProcessSupported))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebSocketConfigValidate(t *testing.T) {
	require.ErrorIs(t, (&WebSocketConfig{}).Validate(), errMissingURL)

	cfg := WebSocketConfig{URL: "ws://127.0.0.1:1/agent"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultRequestTimeout, time.Duration(cfg.RequestTimeout))
	assert.Equal(t, defaultHandshakeTimeout, time.Duration(cfg.HandshakeTimeout))
	assert.Equal(t, defaultEventBuffer, cfg.EventBuffer)

	cfg.Codec = "xml"
	require.Error(t, cfg.Validate())
}

func TestMessageType(t *testing.T) {
	jsonCodec, err := NewCodec(CodecJSON)
	require.NoError(t, err)

	cborCodec, err := NewCodec(CodecCBOR)
	require.NoError(t, err)

	assert.Equal(t, websocket.TextMessage, MessageType(jsonCodec))
	assert.Equal(t, websocket.BinaryMessage, MessageType(cborCodec))
}
