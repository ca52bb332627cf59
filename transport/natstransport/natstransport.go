// Package natstransport carries telemetry over NATS core subjects. Data
// frames arrive on one subject per stream, channel discovery is a
// request-reply exchange, and outbound frames publish to a control subject.
package natstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/transport"
	"github.com/c360/streamkit/types"
)

// Subject layout under the configured prefix.
const (
	dataSubjectFmt  = "%s.telemetry.%s" // prefix, streamID
	discoverSubject = "%s.channels"
	controlSubject  = "%s.control"
)

const defaultDiscoverTimeout = 5 * time.Second

// Config configures the NATS transport.
type Config struct {
	URL    string
	Prefix string
	// Name identifies the client to the server. Optional.
	Name string
	// ConnectTimeout bounds dial time. Zero means the nats.go default.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Transport is a NATS-backed transport.Transport. Reconnection is owned by
// the caller, so the underlying connection never retries on its own: a drop
// surfaces once through OnConnectionLost and the transport stays down.
type Transport struct {
	cfg      Config
	handlers transport.Handlers
	logger   *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	subs map[string]*nats.Subscription
}

// New creates a disconnected transport.
func New(cfg Config, handlers transport.Handlers) *Transport {
	if cfg.Prefix == "" {
		cfg.Prefix = "streamkit"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg,
		handlers: handlers,
		logger:   cfg.Logger.With("component", "natstransport"),
		subs:     make(map[string]*nats.Subscription),
	}
}

// Connect dials the server. Auto-reconnect is disabled so the connection
// controller stays the single owner of retry policy.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyConnected, "natstransport", "Connect", "already connected")
	}

	opts := []nats.Option{
		nats.MaxReconnects(0),
		nats.RetryOnFailedConnect(false),
		nats.ClosedHandler(t.handleClosed),
	}
	if t.cfg.Name != "" {
		opts = append(opts, nats.Name(t.cfg.Name))
	}
	if t.cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(t.cfg.ConnectTimeout))
	}

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(t.cfg.URL, opts...)
		done <- dialResult{conn, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return errors.WrapTransient(res.err, "natstransport", "Connect", "dial server")
		}
		t.conn = res.conn
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "natstransport", "Connect", "dial cancelled")
	}

	t.logger.Info("connected", "url", t.cfg.URL)
	return nil
}

// handleClosed fires when the server-side connection closes. Close() nils
// out t.conn first, so a deliberate teardown never reports loss.
func (t *Transport) handleClosed(conn *nats.Conn) {
	t.mu.RLock()
	current := t.conn
	t.mu.RUnlock()
	if current != conn {
		return
	}

	t.mu.Lock()
	t.conn = nil
	t.subs = make(map[string]*nats.Subscription)
	t.mu.Unlock()

	if t.handlers.OnConnectionLost != nil {
		t.handlers.OnConnectionLost(conn.LastError())
	}
}

// Close drains and discards the connection without reporting loss.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.subs = make(map[string]*nats.Subscription)
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "natstransport", "Close", "drain connection")
	}
	return nil
}

// Connected reports whether the link is up.
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil && t.conn.IsConnected()
}

// DiscoverChannels requests the catalog over request-reply.
func (t *Transport) DiscoverChannels(ctx context.Context) ([]types.StreamChannel, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDiscoverTimeout)
		defer cancel()
	}

	subject := fmt.Sprintf(discoverSubject, t.cfg.Prefix)
	msg, err := conn.RequestWithContext(ctx, subject, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "natstransport", "DiscoverChannels", "request catalog")
	}

	var channels []types.StreamChannel
	if err := json.Unmarshal(msg.Data, &channels); err != nil {
		return nil, errors.WrapInvalid(err, "natstransport", "DiscoverChannels", "decode catalog")
	}
	return channels, nil
}

// Subscribe binds the stream's data subject to OnData. Subscribing twice to
// the same stream is a no-op.
func (t *Transport) Subscribe(streamID string) error {
	conn, err := t.connection()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[streamID]; ok {
		return nil
	}

	subject := fmt.Sprintf(dataSubjectFmt, t.cfg.Prefix, streamID)
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		if t.handlers.OnData != nil {
			t.handlers.OnData(msg.Data)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "natstransport", "Subscribe", "subscribe subject")
	}
	t.subs[streamID] = sub
	return nil
}

// Unsubscribe stops delivery for the stream. Unknown streams are a no-op.
func (t *Transport) Unsubscribe(streamID string) error {
	t.mu.Lock()
	sub, ok := t.subs[streamID]
	delete(t.subs, streamID)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return errors.WrapTransient(err, "natstransport", "Unsubscribe", "unsubscribe subject")
	}
	return nil
}

// Send publishes one frame to the control subject.
func (t *Transport) Send(data []byte) error {
	conn, err := t.connection()
	if err != nil {
		return err
	}
	subject := fmt.Sprintf(controlSubject, t.cfg.Prefix)
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natstransport", "Send", "publish frame")
	}
	return nil
}

// RTT measures the server round-trip time.
func (t *Transport) RTT() (time.Duration, error) {
	conn, err := t.connection()
	if err != nil {
		return 0, err
	}
	rtt, err := conn.RTT()
	if err != nil {
		return 0, errors.WrapTransient(err, "natstransport", "RTT", "measure rtt")
	}
	return rtt, nil
}

func (t *Transport) connection() (*nats.Conn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil || !t.conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "natstransport", "connection", "check link")
	}
	return t.conn, nil
}

var _ transport.Transport = (*Transport)(nil)
