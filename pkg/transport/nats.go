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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/fgtrack/pkg/logger"
	"github.com/carverauto/fgtrack/pkg/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	// ErrCommandRejected is returned when an agent acks a command with OK=false.
	ErrCommandRejected = errors.New("command rejected by agent")
	errNilConn         = errors.New("nats connection is required")
)

const (
	defaultSubjectPrefix  = "fgtrack"
	defaultStreamName     = "FGTRACK_EVENTS"
	defaultRequestTimeout = 5 * time.Second
	defaultEventBuffer    = 64
)

// NATSConfig configures the NATS command/event transport.
type NATSConfig struct {
	URL            string                 `json:"url"`
	SubjectPrefix  string                 `json:"subject_prefix"`
	StreamName     string                 `json:"stream_name"`
	Codec          string                 `json:"codec"`
	RequestTimeout models.Duration        `json:"request_timeout"`
	EventBuffer    int                    `json:"event_buffer"`
	Security       *models.SecurityConfig `json:"security"`
}

// Validate fills defaults and checks the codec name.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}

	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultSubjectPrefix
	}

	if c.StreamName == "" {
		c.StreamName = defaultStreamName
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = models.Duration(defaultRequestTimeout)
	}

	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}

	if _, err := NewCodec(c.Codec); err != nil {
		return err
	}

	return nil
}

// CommandSubject is the request subject for commands addressed to stream.
func CommandSubject(prefix string, stream StreamID) string {
	return fmt.Sprintf("%s.commands.%d", prefix, int64(stream))
}

// EventSubject is the JetStream subject agents publish stream events on.
func EventSubject(prefix string, stream StreamID) string {
	return fmt.Sprintf("%s.events.%d", prefix, int64(stream))
}

// NATSClient implements Client with NATS request/reply for commands and an
// ordered JetStream consumer for events.
type NATSClient struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	codec  Codec
	cfg    NATSConfig
	logger logger.Logger

	// codecs is read-only after construction.
	codecs map[string]Codec
}

// NewNATSClient ensures the event stream exists and returns a client bound to nc.
func NewNATSClient(ctx context.Context, nc *nats.Conn, cfg NATSConfig, log logger.Logger) (*NATSClient, error) {
	if nc == nil {
		return nil, errNilConn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codecs := make(map[string]Codec, 2)

	for _, name := range []string{CodecJSON, CodecCBOR} {
		codec, err := NewCodec(name)
		if err != nil {
			return nil, err
		}

		codecs[name] = codec
	}

	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.SubjectPrefix + ".events.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Storage:   jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create or update stream %s: %w", cfg.StreamName, err)
	}

	client := &NATSClient{
		nc:     nc,
		js:     js,
		stream: stream,
		codec:  codec,
		cfg:    cfg,
		logger: log.WithComponent("transport"),
		codecs: codecs,
	}

	return client, nil
}

// SendCommand implements Client.
func (c *NATSClient) SendCommand(ctx context.Context, cmd Command) (*Ack, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.RequestTimeout))
		defer cancel()
	}

	data, err := c.codec.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command %s: %w", cmd.Type, err)
	}

	msg := nats.NewMsg(CommandSubject(c.cfg.SubjectPrefix, cmd.StreamID))
	msg.Header.Set(codecHeader, c.codec.Name())
	msg.Data = data

	resp, err := c.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("command %s to stream %d: %w", cmd.Type, cmd.StreamID, err)
	}

	var ack Ack

	if err := c.decode(resp.Header, resp.Data, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode ack for %s: %w", cmd.ID, err)
	}

	if !ack.OK {
		return &ack, fmt.Errorf("%w: %s", ErrCommandRejected, ack.Error)
	}

	return &ack, nil
}

// Events implements Client. Only events published after the call are delivered.
func (c *NATSClient) Events(ctx context.Context) (<-chan Event, error) {
	cons, err := c.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{c.cfg.SubjectPrefix + ".events.>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ordered consumer: %w", err)
	}

	out := make(chan Event, c.cfg.EventBuffer)

	var (
		mu     sync.Mutex
		closed bool
	)

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var ev Event

		if err := c.decode(msg.Headers(), msg.Data(), &ev); err != nil {
			c.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("Dropping undecodable event")
			return
		}

		mu.Lock()
		defer mu.Unlock()

		if closed {
			return
		}

		select {
		case out <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to consume events: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()

		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

// PublishEvent publishes ev on its stream's event subject. Agents and test
// fixtures use it; fgtrack clients only consume.
func (c *NATSClient) PublishEvent(ctx context.Context, ev Event) error {
	data, err := c.codec.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.Kind, err)
	}

	msg := nats.NewMsg(EventSubject(c.cfg.SubjectPrefix, ev.StreamID))
	msg.Header.Set(codecHeader, c.codec.Name())
	msg.Data = data

	if _, err := c.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", ev.Kind, err)
	}

	return nil
}

// CommandHandler answers one command on behalf of an agent.
type CommandHandler func(cmd Command) Ack

// HandleCommands subscribes handler to every stream's command subject. The
// returned function unsubscribes.
func (c *NATSClient) HandleCommands(handler CommandHandler) (func() error, error) {
	sub, err := c.nc.Subscribe(c.cfg.SubjectPrefix+".commands.*", func(msg *nats.Msg) {
		var cmd Command

		if err := c.decode(msg.Header, msg.Data, &cmd); err != nil {
			c.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping undecodable command")
			return
		}

		ack := handler(cmd)
		ack.CommandID = cmd.ID

		data, err := c.codec.Marshal(ack)
		if err != nil {
			c.logger.Error().Err(err).Str("command", string(cmd.Type)).Msg("Failed to encode ack")
			return
		}

		reply := nats.NewMsg(msg.Reply)
		reply.Header.Set(codecHeader, c.codec.Name())
		reply.Data = data

		if err := msg.RespondMsg(reply); err != nil {
			c.logger.Warn().Err(err).Str("command", string(cmd.Type)).Msg("Failed to send ack")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	return sub.Unsubscribe, nil
}

// decode picks the codec named in the message header, falling back to the
// configured one.
func (c *NATSClient) decode(h nats.Header, data []byte, v any) error {
	codec := c.codec

	if name := h.Get(codecHeader); name != "" && name != codec.Name() {
		var err error

		codec, err = c.codecFor(name)
		if err != nil {
			return err
		}
	}

	return codec.Unmarshal(data, v)
}

func (c *NATSClient) codecFor(name string) (Codec, error) {
	if codec, ok := c.codecs[name]; ok {
		return codec, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownCodec, name)
}
