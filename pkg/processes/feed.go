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

package processes

import (
	"context"

	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/carverauto/fgtrack/pkg/transport"
)

// Follow keeps m in step with the processes reported on events until ctx is
// done or events closes. A device's processes are forgotten when its last
// stream disconnects.
func (m *Model) Follow(ctx context.Context, events <-chan transport.Event) {
	streams := make(map[transport.StreamID]models.DeviceDescriptor)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			m.apply(streams, ev)
		}
	}
}

func (m *Model) apply(streams map[transport.StreamID]models.DeviceDescriptor, ev transport.Event) {
	switch ev.Kind {
	case transport.EventStreamConnected:
		if ev.Device != nil {
			streams[ev.StreamID] = *ev.Device
		}
	case transport.EventStreamDisconnected:
		device, ok := streams[ev.StreamID]
		if !ok {
			return
		}

		delete(streams, ev.StreamID)

		for _, other := range streams {
			if other == device {
				return
			}
		}

		m.forgetDevice(device)
	case transport.EventProcessStarted, transport.EventProcessEnded:
		device, ok := streams[ev.StreamID]
		if !ok || ev.Process == nil {
			m.logger.Debug().
				Stringer("stream_id", ev.StreamID).
				Str("kind", string(ev.Kind)).
				Msg("Ignoring process event for an unknown stream")

			return
		}

		if ev.Kind == transport.EventProcessEnded {
			m.RemoveProcess(device, ev.Process.PID)
			return
		}

		m.AddProcess(models.ProcessDescriptor{
			Device:    device,
			PID:       ev.Process.PID,
			Name:      ev.Process.ProcessName,
			IsRunning: true,
		})
	}
}

func (m *Model) forgetDevice(device models.DeviceDescriptor) {
	known := m.Processes(device)

	for _, p := range known {
		m.RemoveProcess(device, p.PID)
	}

	if len(known) > 0 {
		m.logger.Debug().
			Str("device_serial", device.Serial).
			Int("processes", len(known)).
			Msg("Forgot processes of disconnected device")
	}
}
