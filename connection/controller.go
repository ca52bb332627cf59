// Package connection owns the transport lifecycle: establishing the link,
// bounded reconnection after loss, latency sampling, and the rate-limited
// outbound flush from the priority queue. It is deliberately unaware of
// subscriptions; the manager re-establishes those through the restore hook.
package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/streamkit/catalog"
	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/pkg/retry"
	"github.com/c360/streamkit/queue"
	"github.com/c360/streamkit/transport"
)

// State is the controller's connection lifecycle phase.
type State int

// Lifecycle states. Failed is terminal: the controller gives up after the
// configured reconnect attempts and must be restarted explicitly.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config bounds the controller's loops.
type Config struct {
	// ReconnectAttempts and ReconnectInterval bound the fixed-interval
	// reconnect loop after a drop.
	ReconnectAttempts int
	ReconnectInterval time.Duration
	// HeartbeatInterval spaces RTT samples while connected.
	HeartbeatInterval time.Duration
	// FlushBatch caps envelopes drained per flush cycle.
	FlushBatch int
	// RateLimitPerSecond caps outbound sends.
	RateLimitPerSecond int
	Logger             *slog.Logger
}

// Callbacks surface controller activity. All are optional and are invoked
// from controller goroutines; they must not block.
type Callbacks struct {
	// OnState fires on every state transition. Attempt is the 1-based
	// reconnect attempt while reconnecting, zero otherwise.
	OnState func(state State, attempt int, err error)
	// OnRestore runs after every successful (re)connect, once the channel
	// catalog has been refreshed.
	OnRestore func(ctx context.Context) error
	// OnLatency receives each RTT sample.
	OnLatency func(rtt time.Duration)
	// OnSendError observes dropped outbound envelopes.
	OnSendError func(env queue.Envelope, err error)
}

// Controller drives one transport.
type Controller struct {
	transport transport.Transport
	catalog   *catalog.Catalog
	outbound  *queue.Queue
	limiter   *rate.Limiter
	cfg       Config
	callbacks Callbacks
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	failed bool // terminal failed already emitted

	lost   chan error
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped controller. Wire the transport's OnConnectionLost
// handler to ConnectionLost before connecting.
func New(tr transport.Transport, cat *catalog.Catalog, outbound *queue.Queue, cfg Config, callbacks Callbacks) *Controller {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.FlushBatch <= 0 {
		cfg.FlushBatch = 32
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Controller{
		transport: tr,
		catalog:   cat,
		outbound:  outbound,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
		cfg:       cfg,
		callbacks: callbacks,
		logger:    cfg.Logger.With("component", "connection"),
		lost:      make(chan error, 1),
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState transitions and notifies. Failed is emitted at most once.
func (c *Controller) setState(state State, attempt int, err error) {
	c.mu.Lock()
	if state == StateFailed {
		if c.failed {
			c.mu.Unlock()
			return
		}
		c.failed = true
	}
	c.state = state
	c.mu.Unlock()

	c.logger.Info("connection state", "state", state.String(), "attempt", attempt)
	if c.callbacks.OnState != nil {
		c.callbacks.OnState(state, attempt, err)
	}
}

// Connect establishes the link and starts the controller loops. The initial
// attempt is not retried; a later drop enters the bounded reconnect loop.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.failed = false // a fresh connect re-arms the terminal failed emission
	c.mu.Unlock()

	c.setState(StateConnecting, 0, nil)
	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateDisconnected, 0, err)
		return errors.WrapTransient(err, "connection", "Connect", "establish link")
	}
	if err := c.afterConnect(ctx); err != nil {
		c.transport.Close()
		c.setState(StateDisconnected, 0, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)

	return nil
}

// afterConnect refreshes the catalog and replays the restore hook.
func (c *Controller) afterConnect(ctx context.Context) error {
	channels, err := c.transport.DiscoverChannels(ctx)
	if err != nil {
		return errors.WrapTransient(err, "connection", "afterConnect", "discover channels")
	}
	kept := c.catalog.Replace(channels)
	c.logger.Info("channel catalog refreshed", "channels", kept)

	if c.callbacks.OnRestore != nil {
		if err := c.callbacks.OnRestore(ctx); err != nil {
			return errors.Wrap(err, "connection", "afterConnect", "restore subscriptions")
		}
	}
	c.setState(StateConnected, 0, nil)
	return nil
}

// ConnectionLost is the transport's loss handler. Duplicate reports while a
// reconnect is already pending are coalesced.
func (c *Controller) ConnectionLost(err error) {
	select {
	case c.lost <- err:
	default:
	}
}

// run multiplexes the controller's periodic work until Close.
func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	flush := time.NewTicker(time.Second / time.Duration(c.cfg.RateLimitPerSecond))
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.lost:
			if !c.reconnect(ctx, err) {
				return
			}
		case <-heartbeat.C:
			c.sampleLatency()
		case <-flush.C:
			c.flush(ctx)
		}
	}
}

// reconnect runs the bounded fixed-interval loop. Returns false when the
// attempts are exhausted and the controller parks in the failed state.
func (c *Controller) reconnect(ctx context.Context, cause error) bool {
	c.setState(StateDisconnected, 0, cause)
	c.logger.Warn("connection lost", "error", cause)

	cfg := retry.Fixed(c.cfg.ReconnectAttempts, c.cfg.ReconnectInterval)
	err := retry.Do(ctx, cfg, func(attempt int) error {
		c.setState(StateReconnecting, attempt, nil)
		if err := c.transport.Connect(ctx); err != nil {
			return err
		}
		if err := c.afterConnect(ctx); err != nil {
			c.transport.Close()
			return err
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		c.setState(StateFailed, c.cfg.ReconnectAttempts,
			errors.WrapFatal(errors.ErrReconnectExhausted, "connection", "reconnect", "exhausted attempts"))
		return false
	}
	return true
}

// sampleLatency takes one RTT measurement while connected.
func (c *Controller) sampleLatency() {
	if !c.transport.Connected() {
		return
	}
	rtt, err := c.transport.RTT()
	if err != nil {
		c.logger.Debug("rtt sample failed", "error", err)
		return
	}
	if c.callbacks.OnLatency != nil {
		c.callbacks.OnLatency(rtt)
	}
}

// flush drains up to FlushBatch envelopes through the rate limiter. Failed
// sends are reported and dropped rather than re-queued; the priority queue
// is a pressure valve, not a persistence layer.
func (c *Controller) flush(ctx context.Context) {
	if !c.transport.Connected() {
		return
	}
	for _, env := range c.outbound.Dequeue(c.cfg.FlushBatch) {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		frame, err := env.Encode()
		if err == nil {
			err = c.transport.Send(frame)
		}
		if err != nil {
			c.logger.Warn("outbound send dropped", "type", env.Type, "error", err)
			if c.callbacks.OnSendError != nil {
				c.callbacks.OnSendError(env, err)
			}
		}
	}
}

// Close stops the loops and tears the link down. Safe to call on a
// controller that never connected.
func (c *Controller) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	err := c.transport.Close()
	c.setState(StateDisconnected, 0, nil)
	return err
}
