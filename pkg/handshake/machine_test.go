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

package handshake

import (
	"sync"
	"testing"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/metrics"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testInterval = 2 * time.Second

var (
	testDevice = models.DeviceDescriptor{
		Manufacturer: "Google",
		Model:        "Pixel 7",
		Serial:       "emulator-5554",
		IsEmulator:   true,
		APILevel:     33,
		Version:      "13",
	}

	unknownResult      = models.HandshakeResult{SupportType: models.SupportUnknown}
	supportedResult    = models.HandshakeResult{SupportType: models.SupportSupported}
	notSupportedResult = models.HandshakeResult{
		SupportType: models.SupportNotSupported,
		Reason:      models.ReasonDumpsysNotFound,
	}
)

// wireRecorder plays the transport: it checks the guard when the query is
// "written" and counts what actually went out.
type wireRecorder struct {
	mu      sync.Mutex
	sent    int
	pending []func() bool
	hold    bool
}

func (w *wireRecorder) send(stillWanted func() bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hold {
		w.pending = append(w.pending, stillWanted)
		return
	}

	if stillWanted() {
		w.sent++
	}
}

func (w *wireRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.sent
}

// flush writes every deferred query whose guard still holds.
func (w *wireRecorder) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, wanted := range pending {
		if wanted() {
			w.mu.Lock()
			w.sent++
			w.mu.Unlock()
		}
	}
}

type resolvedRecorder struct {
	mu      sync.Mutex
	results []models.HandshakeResult
}

func (r *resolvedRecorder) record(_ models.DeviceDescriptor, result models.HandshakeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, result)
}

func (r *resolvedRecorder) all() []models.HandshakeResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.HandshakeResult(nil), r.results...)
}

// newTickerClock returns a clock whose tickers all share ticks.
func newTickerClock(ctrl *gomock.Controller, ticks chan time.Time, lifecycles int) *MockClock {
	ticker := NewMockTicker(ctrl)
	ticker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	ticker.EXPECT().Stop().Times(lifecycles)

	clock := NewMockClock(ctrl)
	clock.EXPECT().Ticker(testInterval).Return(ticker).Times(lifecycles)

	return clock
}

func TestUnknownToSupportedConversion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ticks := make(chan time.Time)
	clock := newTickerClock(ctrl, ticks, 1)

	m := metrics.NewMockHandshakeMetrics(ctrl)
	gomock.InOrder(
		m.EXPECT().LogHandshakeResult(unknownResult, testDevice).Times(1),
		m.EXPECT().LogHandshakeResult(supportedResult, testDevice).Times(1),
	)
	m.EXPECT().LogHandshakeConversion(models.ConversionUnknownToSupported, testDevice).Times(1)

	wire := &wireRecorder{}
	resolved := &resolvedRecorder{}

	machine := New(testDevice, &Config{PollInterval: testInterval}, wire.send, m, resolved.record, clock, logger.NewTestLogger())
	defer machine.Close()

	machine.Post(Connected{})
	require.Equal(t, 1, wire.count())

	machine.Post(UnknownSupported{Result: unknownResult})
	ticks <- time.Now()
	require.Eventually(t, func() bool { return wire.count() == 2 }, time.Second, 5*time.Millisecond)

	machine.Post(UnknownSupported{Result: unknownResult})
	ticks <- time.Now()
	require.Eventually(t, func() bool { return wire.count() == 3 }, time.Second, 5*time.Millisecond)

	machine.Post(Supported{Result: supportedResult})

	assert.Equal(t, 3, wire.count())
	assert.Equal(t, []models.HandshakeResult{supportedResult}, resolved.all())

	verdict, ok := machine.Verdict()
	assert.True(t, ok)
	assert.Equal(t, models.SupportSupported, verdict)
	assert.False(t, machine.Querying())
}

func TestRepeatedConnectedSendsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := newTickerClock(ctrl, make(chan time.Time), 1)
	wire := &wireRecorder{}

	machine := New(testDevice, &Config{PollInterval: testInterval}, wire.send, metrics.Nop{}, nil, clock, logger.NewTestLogger())
	defer machine.Close()

	for i := 0; i < 5; i++ {
		machine.Post(Connected{})
	}

	assert.Equal(t, 1, wire.count())
	assert.True(t, machine.Querying())

	_, ok := machine.Verdict()
	assert.False(t, ok)
}

func TestNotSupportedThenConnectedStartsNewLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := newTickerClock(ctrl, make(chan time.Time), 2)

	m := metrics.NewMockHandshakeMetrics(ctrl)
	m.EXPECT().LogHandshakeResult(notSupportedResult, testDevice).Times(1)
	m.EXPECT().LogHandshakeResult(supportedResult, testDevice).Times(1)

	wire := &wireRecorder{}
	resolved := &resolvedRecorder{}

	machine := New(testDevice, &Config{PollInterval: testInterval}, wire.send, m, resolved.record, clock, logger.NewTestLogger())
	defer machine.Close()

	machine.Post(Connected{})
	machine.Post(NotSupported{Result: notSupportedResult})

	verdict, ok := machine.Verdict()
	require.True(t, ok)
	assert.Equal(t, models.SupportNotSupported, verdict)

	// A duplicate verdict with nothing in flight is ignored.
	machine.Post(NotSupported{Result: notSupportedResult})

	machine.Post(Connected{})
	assert.Equal(t, 2, wire.count())

	_, ok = machine.Verdict()
	assert.False(t, ok)

	machine.Post(Supported{Result: supportedResult})

	assert.Equal(t, []models.HandshakeResult{notSupportedResult, supportedResult}, resolved.all())
}

func TestUnknownToNotSupportedConversion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := newTickerClock(ctrl, make(chan time.Time), 1)

	m := metrics.NewMockHandshakeMetrics(ctrl)
	m.EXPECT().LogHandshakeResult(unknownResult, testDevice).Times(1)
	m.EXPECT().LogHandshakeResult(notSupportedResult, testDevice).Times(1)
	m.EXPECT().LogHandshakeConversion(models.ConversionUnknownToNotSupported, testDevice).Times(1)

	machine := New(testDevice, nil, (&wireRecorder{}).send, m, nil, clock, logger.NewTestLogger())
	defer machine.Close()

	// nil config falls back to DefaultPollInterval, which equals testInterval.
	machine.Post(Connected{})
	machine.Post(UnknownSupported{Result: unknownResult})
	machine.Post(NotSupported{Result: notSupportedResult})
}

func TestNoSendAfterDisconnected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ticks := make(chan time.Time, 1)
	clock := newTickerClock(ctrl, ticks, 1)

	m := metrics.NewMockHandshakeMetrics(ctrl)
	m.EXPECT().LogHandshakeResult(unknownResult, testDevice).Times(1)
	m.EXPECT().LogHandshakeConversion(models.ConversionUnknownToDisconnected, testDevice).Times(1)

	wire := &wireRecorder{hold: true}

	machine := New(testDevice, &Config{PollInterval: testInterval}, wire.send, m, nil, clock, logger.NewTestLogger())

	machine.Post(Connected{})
	machine.Post(UnknownSupported{Result: unknownResult})

	// A resend tick is already queued when the device goes away.
	ticks <- time.Now()

	machine.Post(Disconnected{})
	machine.Post(Disconnected{})

	machine.Close()
	wire.flush()

	assert.Equal(t, 0, wire.count())
	assert.False(t, machine.Querying())
}

func TestDisconnectedWithoutUnknownLogsNoConversion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := newTickerClock(ctrl, make(chan time.Time), 1)

	// No metrics calls are expected.
	m := metrics.NewMockHandshakeMetrics(ctrl)

	machine := New(testDevice, &Config{PollInterval: testInterval}, (&wireRecorder{}).send, m, nil, clock, logger.NewTestLogger())
	defer machine.Close()

	machine.Post(Connected{})
	machine.Post(Disconnected{})
	machine.Post(Supported{Result: supportedResult})

	_, ok := machine.Verdict()
	assert.False(t, ok)
}

func TestPostAfterCloseIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Close happens before any Connected, so no ticker is ever created.
	clock := NewMockClock(ctrl)
	wire := &wireRecorder{}

	machine := New(testDevice, &Config{PollInterval: testInterval}, wire.send, metrics.Nop{}, nil, clock, logger.NewTestLogger())
	machine.Close()
	machine.Close()

	machine.Post(Connected{})

	assert.Equal(t, 0, wire.count())
	assert.Equal(t, testDevice, machine.Device())
}

func TestConcurrentPostsSendOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := newTickerClock(ctrl, make(chan time.Time), 1)
	wire := &wireRecorder{}

	machine := New(testDevice, &Config{PollInterval: testInterval}, wire.send, metrics.Nop{}, nil, clock, logger.NewTestLogger())
	defer machine.Close()

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			machine.Post(Connected{})
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, wire.count())
}

func TestRealClockResends(t *testing.T) {
	wire := &wireRecorder{}

	machine := New(testDevice, &Config{PollInterval: 10 * time.Millisecond}, wire.send, nil, nil, nil, logger.NewTestLogger())
	defer machine.Close()

	machine.Post(Connected{})

	require.Eventually(t, func() bool { return wire.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	machine.Post(Supported{Result: supportedResult})
	sent := wire.count()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, wire.count())
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, Supported{Result: supportedResult}, StateFor(supportedResult))
	assert.Equal(t, NotSupported{Result: notSupportedResult}, StateFor(notSupportedResult))
	assert.Equal(t, UnknownSupported{Result: unknownResult}, StateFor(unknownResult))
	assert.Equal(t, UnknownSupported{Result: models.HandshakeResult{SupportType: "bogus"}},
		StateFor(models.HandshakeResult{SupportType: "bogus"}))
}
