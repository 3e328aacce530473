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
	"testing"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

	require.Eventually(t, func() bool {
		return srv.JetStreamEnabled()
	}, 5*time.Second, 50*time.Millisecond, "embedded NATS server not ready for JetStream")

	t.Cleanup(srv.Shutdown)

	return srv
}

func newTestClient(ctx context.Context, t *testing.T, url, codec string) *NATSClient {
	t.Helper()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	client, err := NewNATSClient(ctx, nc, NATSConfig{
		SubjectPrefix:  "fgtrack-test",
		Codec:          codec,
		RequestTimeout: models.Duration(2 * time.Second),
	}, logger.NewTestLogger())
	require.NoError(t, err)

	return client
}

func TestNATSClientRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)

	agent := newTestClient(ctx, t, srv.ClientURL(), CodecJSON)
	client := newTestClient(ctx, t, srv.ClientURL(), CodecCBOR)

	unsubscribe, err := agent.HandleCommands(func(cmd Command) Ack {
		if cmd.Type == CommandStopTrackingForegroundProcess {
			return Ack{OK: false, Error: "not tracking"}
		}

		return Ack{OK: true}
	})
	require.NoError(t, err)

	defer func() { _ = unsubscribe() }()

	cmd := NewCommand(5, CommandStartTrackingForegroundProcess)

	ack, err := client.SendCommand(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, cmd.ID, ack.CommandID)

	ack, err = client.SendCommand(ctx, NewCommand(5, CommandStopTrackingForegroundProcess))
	require.ErrorIs(t, err, ErrCommandRejected)
	require.NotNil(t, ack)
	assert.Equal(t, "not tracking", ack.Error)

	eventsCtx, stopEvents := context.WithCancel(ctx)
	events, err := client.Events(eventsCtx)
	require.NoError(t, err)

	device := models.DeviceDescriptor{Manufacturer: "Google", Model: "Pixel 7", Serial: "emulator-5554", APILevel: 33}

	require.NoError(t, agent.PublishEvent(ctx, Event{
		StreamID: 5, Kind: EventStreamConnected, Timestamp: 100, Device: &device,
	}))
	require.NoError(t, agent.PublishEvent(ctx, Event{
		StreamID: 5, Kind: EventForegroundProcess, Timestamp: 101,
		Process: &models.ForegroundProcess{PID: 1234, ProcessName: "com.example.app"},
	}))

	var got []Event

	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}

	assert.Equal(t, EventStreamConnected, got[0].Kind)
	assert.Equal(t, device, *got[0].Device)
	assert.Equal(t, EventForegroundProcess, got[1].Kind)
	assert.Equal(t, "com.example.app", got[1].Process.ProcessName)

	stopEvents()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond, "events channel was not closed")
}

func TestNATSClientSendTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := runJetStreamServer(t)
	client := newTestClient(ctx, t, srv.ClientURL(), CodecJSON)

	reqCtx, reqCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer reqCancel()

	_, err := client.SendCommand(reqCtx, NewCommand(9, CommandIsTrackingForegroundProcessSupported))
	require.Error(t, err)
}

func TestNATSConfigValidate(t *testing.T) {
	cfg := NATSConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "fgtrack", cfg.SubjectPrefix)
	assert.Equal(t, "FGTRACK_EVENTS", cfg.StreamName)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.RequestTimeout))
	assert.Equal(t, 64, cfg.EventBuffer)

	bad := NATSConfig{Codec: "xml"}
	require.ErrorIs(t, bad.Validate(), errUnknownCodec)

	_, err := NewNATSClient(context.Background(), nil, NATSConfig{}, logger.NewTestLogger())
	require.ErrorIs(t, err, errNilConn)
}
