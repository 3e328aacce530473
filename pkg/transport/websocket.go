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
	"github.com/carverauto/fgtrack/pkg/natsutil"
	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionClosed is returned for commands on a closed WebSocket connection.
	ErrConnectionClosed = errors.New("websocket connection closed")

	errMissingURL = errors.New("websocket url is required")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	closeGracePeriod        = time.Second
)

const (
	envelopeCommand = "command"
	envelopeAck     = "ack"
	envelopeEvent   = "event"
)

// WebSocketConfig configures a direct WebSocket connection to an agent bridge.
type WebSocketConfig struct {
	URL              string                 `json:"url"`
	Codec            string                 `json:"codec"`
	RequestTimeout   models.Duration        `json:"request_timeout"`
	HandshakeTimeout models.Duration        `json:"handshake_timeout"`
	EventBuffer      int                    `json:"event_buffer"`
	Security         *models.SecurityConfig `json:"security"`
}

// Validate fills defaults and checks the codec name.
func (c *WebSocketConfig) Validate() error {
	if c.URL == "" {
		return errMissingURL
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = models.Duration(defaultRequestTimeout)
	}

	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = models.Duration(defaultHandshakeTimeout)
	}

	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}

	_, err := NewCodec(c.Codec)

	return err
}

// Envelope is one WebSocket frame between a client and an agent bridge.
// Exactly one payload field is set, selected by Kind.
type Envelope struct {
	Kind    string   `json:"kind"`
	Command *Command `json:"command,omitempty"`
	Ack     *Ack     `json:"ack,omitempty"`
	Event   *Event   `json:"event,omitempty"`
}

// MessageType is the WebSocket frame type used for codec: text for JSON,
// binary otherwise.
func MessageType(codec Codec) int {
	if codec.Name() == CodecJSON {
		return websocket.TextMessage
	}

	return websocket.BinaryMessage
}

type wsSubscriber struct {
	ctx context.Context
	ch  chan Event

	mu     sync.Mutex
	closed bool
}

func (s *wsSubscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

func (s *wsSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// WebSocketClient implements Client over a single WebSocket connection.
// Commands are matched to acks by id; events fan out to every subscriber in
// arrival order.
type WebSocketClient struct {
	conn    *websocket.Conn
	codec   Codec
	msgType int
	cfg     WebSocketConfig
	logger  logger.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	pending     map[string]chan Ack
	subscribers map[uint64]*wsSubscriber
	nextID      uint64

	done      chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to cfg.URL and starts reading frames.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig, log logger.Logger) (*WebSocketClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeout),
	}

	dialer.TLSClientConfig, err = natsutil.ClientTLS(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("failed to build websocket TLS config: %w", err)
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	c := &WebSocketClient{
		conn:        conn,
		codec:       codec,
		msgType:     MessageType(codec),
		cfg:         cfg,
		logger:      log.WithComponent("transport"),
		pending:     make(map[string]chan Ack),
		subscribers: make(map[uint64]*wsSubscriber),
		done:        make(chan struct{}),
	}

	go c.readLoop()

	c.logger.Info().Str("url", cfg.URL).Str("codec", codec.Name()).Msg("WebSocket transport connected")

	return c, nil
}

// Done is closed once the connection is gone.
func (c *WebSocketClient) Done() <-chan struct{} {
	return c.done
}

// SendCommand implements Client.
func (c *WebSocketClient) SendCommand(ctx context.Context, cmd Command) (*Ack, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.RequestTimeout))
		defer cancel()
	}

	reply := make(chan Ack, 1)

	c.mu.Lock()
	c.pending[cmd.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, Envelope{Kind: envelopeCommand, Command: &cmd}); err != nil {
		return nil, fmt.Errorf("command %s to stream %d: %w", cmd.Type, cmd.StreamID, err)
	}

	select {
	case ack := <-reply:
		if !ack.OK {
			return &ack, fmt.Errorf("%w: %s", ErrCommandRejected, ack.Error)
		}

		return &ack, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("command %s to stream %d: %w", cmd.Type, cmd.StreamID, ctx.Err())
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

// Events implements Client. The channel closes when ctx ends or the
// connection drops.
func (c *WebSocketClient) Events(ctx context.Context) (<-chan Event, error) {
	select {
	case <-c.done:
		return nil, ErrConnectionClosed
	default:
	}

	sub := &wsSubscriber{ctx: ctx, ch: make(chan Event, c.cfg.EventBuffer)}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = sub
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}

		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()

		sub.close()
	}()

	return sub.ch, nil
}

// Close sends a close frame and tears the connection down.
func (c *WebSocketClient) Close() error {
	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	c.writeMu.Unlock()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Failed to send WebSocket close frame")
	}

	select {
	case <-c.done:
	case <-time.After(closeGracePeriod):
	}

	c.shutdown()

	return nil
}

func (c *WebSocketClient) write(ctx context.Context, env Envelope) error {
	data, err := c.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", env.Kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	return c.conn.WriteMessage(c.msgType, data)
}

func (c *WebSocketClient) readLoop() {
	defer c.shutdown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("WebSocket transport closed unexpectedly")
			} else {
				c.logger.Debug().Err(err).Str("url", c.cfg.URL).Msg("WebSocket transport closed")
			}

			return
		}

		var env Envelope

		if err := c.codec.Unmarshal(data, &env); err != nil {
			c.logger.Warn().Err(err).Msg("Dropping undecodable WebSocket frame")
			continue
		}

		switch {
		case env.Kind == envelopeAck && env.Ack != nil:
			c.resolve(*env.Ack)
		case env.Kind == envelopeEvent && env.Event != nil:
			c.publish(*env.Event)
		default:
			c.logger.Debug().Str("kind", env.Kind).Msg("Ignoring WebSocket frame")
		}
	}
}

func (c *WebSocketClient) resolve(ack Ack) {
	c.mu.Lock()
	reply, ok := c.pending[ack.CommandID]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug().Str("command_id", ack.CommandID).Msg("Ack for an unknown or expired command")
		return
	}

	select {
	case reply <- ack:
	default:
	}
}

func (c *WebSocketClient) publish(ev Event) {
	c.mu.Lock()
	subs := make([]*wsSubscriber, 0, len(c.subscribers))

	for _, s := range c.subscribers {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

func (c *WebSocketClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
