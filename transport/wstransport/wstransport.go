// Package wstransport carries telemetry over a single WebSocket. Binary
// messages are data frames passed straight to OnData; text messages are
// JSON control traffic (subscribe acks, channel catalogs). RTT comes from
// the ping/pong exchange.
package wstransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/transport"
	"github.com/c360/streamkit/types"
)

// Control message types on the text channel.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
	msgDiscover    = "discover"
	msgChannels    = "channels"
)

const (
	defaultPingInterval    = 15 * time.Second
	defaultDiscoverTimeout = 5 * time.Second
	writeDeadline          = 10 * time.Second
	pongWait               = 45 * time.Second
)

// controlMessage is the JSON envelope on the text channel, both directions.
type controlMessage struct {
	Type     string                `json:"type"`
	StreamID string                `json:"stream_id,omitempty"`
	Channels []types.StreamChannel `json:"channels,omitempty"`
}

// Config configures the WebSocket transport.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// PingInterval spaces keepalive pings. Zero means 15s.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Transport is a WebSocket-backed transport.Transport.
type Transport struct {
	cfg      Config
	handlers transport.Handlers
	logger   *slog.Logger

	mu       sync.Mutex // guards conn and all writes to it
	conn     *websocket.Conn
	closing  bool
	done     chan struct{}
	channels chan []types.StreamChannel

	rttMu    sync.Mutex
	lastPing time.Time
	rtt      time.Duration
}

// New creates a disconnected transport.
func New(cfg Config, handlers transport.Handlers) *Transport {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg,
		handlers: handlers,
		logger:   cfg.Logger.With("component", "wstransport"),
	}
}

// Connect dials the endpoint and starts the read and ping loops.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyConnected, "wstransport", "Connect", "already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return errors.WrapTransient(err, "wstransport", "Connect", "dial endpoint")
	}

	t.conn = conn
	t.closing = false
	t.done = make(chan struct{})
	t.channels = make(chan []types.StreamChannel, 1)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		t.rttMu.Lock()
		if !t.lastPing.IsZero() {
			t.rtt = time.Since(t.lastPing)
			t.lastPing = time.Time{}
		}
		t.rttMu.Unlock()
		return nil
	})

	go t.readLoop(conn, t.done, t.channels)
	go t.pingLoop(conn, t.done)

	t.logger.Info("connected", "url", t.cfg.URL)
	return nil
}

// readLoop routes inbound messages until the connection dies.
func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}, channels chan []types.StreamChannel) {
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			if t.handlers.OnData != nil {
				t.handlers.OnData(payload)
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				t.logger.Warn("malformed control message", "error", err)
				continue
			}
			if msg.Type == msgChannels {
				select {
				case channels <- msg.Channels:
				case <-done:
					return
				default:
					// no discovery in flight, stale catalog push
				}
			}
		}
	}
}

// handleReadError tears down after a read failure and reports loss unless
// Close initiated the teardown.
func (t *Transport) handleReadError(conn *websocket.Conn, err error) {
	t.mu.Lock()
	deliberate := t.closing || t.conn != conn
	if t.conn == conn {
		t.conn = nil
		close(t.done)
	}
	t.mu.Unlock()

	conn.Close()
	if !deliberate && t.handlers.OnConnectionLost != nil {
		t.handlers.OnConnectionLost(errors.WrapTransient(err, "wstransport", "readLoop", "read frame"))
	}
}

// pingLoop sends keepalive pings and stamps them for RTT.
func (t *Transport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.rttMu.Lock()
			t.lastPing = time.Now()
			t.rttMu.Unlock()

			t.mu.Lock()
			if t.conn != conn {
				t.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.mu.Unlock()
			if err != nil {
				return // read loop will observe the dead connection
			}
		}
	}
}

// Close tears down without reporting loss.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.closing = true
	t.conn = nil
	if conn != nil {
		close(t.done)
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeDeadline))
	return conn.Close()
}

// Connected reports whether the link is up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// DiscoverChannels requests the catalog and waits for the response.
func (t *Transport) DiscoverChannels(ctx context.Context) ([]types.StreamChannel, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDiscoverTimeout)
		defer cancel()
	}

	t.mu.Lock()
	ch := t.channels
	t.mu.Unlock()

	if err := t.writeControl(controlMessage{Type: msgDiscover}); err != nil {
		return nil, err
	}

	select {
	case channels := <-ch:
		return channels, nil
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "wstransport", "DiscoverChannels", "await catalog")
	}
}

// Subscribe asks the source to start delivering the stream.
func (t *Transport) Subscribe(streamID string) error {
	return t.writeControl(controlMessage{Type: msgSubscribe, StreamID: streamID})
}

// Unsubscribe asks the source to stop delivering the stream.
func (t *Transport) Unsubscribe(streamID string) error {
	return t.writeControl(controlMessage{Type: msgUnsubscribe, StreamID: streamID})
}

// Send transmits one outbound data frame as a binary message.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "wstransport", "Send", "check link")
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.WrapTransient(err, "wstransport", "Send", "write frame")
	}
	return nil
}

// RTT returns the latest ping round-trip measurement. Before the first pong
// it reports zero.
func (t *Transport) RTT() (time.Duration, error) {
	if !t.Connected() {
		return 0, errors.WrapTransient(errors.ErrNotConnected, "wstransport", "RTT", "check link")
	}
	t.rttMu.Lock()
	defer t.rttMu.Unlock()
	return t.rtt, nil
}

func (t *Transport) writeControl(msg controlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "wstransport", "writeControl", "encode message")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.WrapTransient(errors.ErrNotConnected, "wstransport", "writeControl", "check link")
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.WrapTransient(err, "wstransport", "writeControl", "write message")
	}
	return nil
}

var _ transport.Transport = (*Transport)(nil)
