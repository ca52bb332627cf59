// Package manager implements the stream lifecycle orchestrator: it enforces
// the concurrency cap, owns the subscription registry, wires each
// subscription's processor, health record, and analyzer bundle, restores
// subscriptions after reconnection, and re-exports everything that happens
// on the typed event bus.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamkit/analysis"
	"github.com/c360/streamkit/catalog"
	"github.com/c360/streamkit/config"
	"github.com/c360/streamkit/connection"
	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/event"
	"github.com/c360/streamkit/health"
	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/processor"
	"github.com/c360/streamkit/protocol"
	"github.com/c360/streamkit/queue"
	"github.com/c360/streamkit/transport"
	"github.com/c360/streamkit/types"
)

// TransportFactory builds the transport with the manager's inbound handlers
// already wired. The manager owns the transport it builds.
type TransportFactory func(transport.Handlers) transport.Transport

// ConnectionState is the read-model of the link, updated by the connection
// controller and the protocol negotiator.
type ConnectionState struct {
	Connected bool
	Protocol  string
	Latency   time.Duration
}

// streamEntry is one live subscription and its wiring.
type streamEntry struct {
	sub     types.Subscription
	channel types.StreamChannel
	proc    *processor.Processor
}

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics registers manager, queue, and pool metrics.
func WithMetrics(registry *metric.Registry) Option {
	return func(m *Manager) { m.registry = registry }
}

// Manager is the telemetry stream orchestrator.
type Manager struct {
	cfg      config.ManagerConfig
	logger   *slog.Logger
	registry *metric.Registry

	bus        *event.Bus
	catalog    *catalog.Catalog
	outbound   *queue.Queue
	negotiator *protocol.Negotiator
	transport  transport.Transport
	controller *connection.Controller
	monitor    *health.Monitor
	pipeline   *analysis.Pipeline

	mu          sync.Mutex
	subs        map[string]*streamEntry
	initialized bool
	destroyed   bool

	lastRTT atomic.Int64 // nanoseconds
	cancel  context.CancelFunc

	metrics *managerMetrics
}

type managerMetrics struct {
	activeStreams prometheus.Gauge
	dataPoints    prometheus.Counter
	decodeErrors  prometheus.Counter
}

// New builds a manager and its component graph. The transport factory
// receives the manager's frame and loss handlers; everything else is
// constructed here so the binary only chooses a transport.
func New(cfg config.ManagerConfig, newTransport TransportFactory, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		logger: slog.Default(),
		subs:   make(map[string]*streamEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "manager")

	m.bus = event.NewBus(0, m.logger)
	m.catalog = catalog.New()

	var queueOpts []queue.Option
	if m.registry != nil {
		queueOpts = append(queueOpts, queue.WithMetrics(m.registry, "streamkit_outbound"))
	}
	q, err := queue.New(cfg.MessageQueueSize, queueOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "manager", "New", "build outbound queue")
	}
	m.outbound = q

	m.negotiator = protocol.NewNegotiator(protocol.NegotiatorConfig{
		EnableBinary:         cfg.EnableBinaryProtocol,
		CompressionThreshold: cfg.CompressionThreshold,
	}, m.logger)
	m.negotiator.OnSwitch(func(from, to protocol.Encoding) {
		m.bus.Publish(event.ProtocolSwitched{
			From: from.String(),
			To:   to.String(),
			At:   time.Now(),
		})
	})

	m.transport = newTransport(transport.Handlers{
		OnData:           m.handleFrame,
		OnConnectionLost: m.handleConnectionLost,
	})

	m.controller = connection.New(m.transport, m.catalog, m.outbound, connection.Config{
		ReconnectAttempts:  cfg.ReconnectAttempts,
		ReconnectInterval:  cfg.ReconnectInterval,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		Logger:             m.logger,
	}, connection.Callbacks{
		OnState:   m.handleConnectionState,
		OnRestore: m.restoreSubscriptions,
		OnLatency: m.handleLatency,
		OnSendError: func(env queue.Envelope, err error) {
			m.bus.Publish(event.StreamError{Err: errors.WrapTransient(err, "manager", "send", "outbound envelope dropped")})
		},
	})

	m.monitor = health.NewMonitor(cfg.HealthSweepInterval, m.linkLatency, func(h types.StreamHealth) {
		m.bus.Publish(event.StreamHealthChanged{StreamID: h.StreamID, Health: h})
	}, m.logger)

	m.pipeline = analysis.NewPipeline(analysis.PipelineConfig{
		Interval:  cfg.AnalysisInterval,
		Workers:   cfg.AnalysisWorkers,
		QueueSize: 4 * cfg.MaxConcurrentStreams,
		Metrics:   m.registry,
		Logger:    m.logger,
		Emit: func(res analysis.Result) {
			m.bus.Publish(event.AnalysisProduced{StreamID: res.Stream(), Result: res})
		},
		OnError: m.handleAnalysisError,
	})

	if m.registry != nil {
		if err := m.initMetrics(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) initMetrics() error {
	mm := &managerMetrics{
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamkit_active_streams",
			Help: "Currently subscribed streams",
		}),
		dataPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamkit_data_points_total",
			Help: "Telemetry points accepted across all streams",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamkit_decode_errors_total",
			Help: "Inbound frames that failed to decode",
		}),
	}
	const service = "stream_manager"
	if err := m.registry.RegisterGauge(service, "streamkit_active_streams", mm.activeStreams); err != nil {
		return err
	}
	if err := m.registry.RegisterCounter(service, "streamkit_data_points_total", mm.dataPoints); err != nil {
		return err
	}
	if err := m.registry.RegisterCounter(service, "streamkit_decode_errors_total", mm.decodeErrors); err != nil {
		return err
	}
	m.metrics = mm
	return nil
}

// Events returns a new subscription to the manager's event surface.
func (m *Manager) Events() (<-chan event.Event, int) {
	return m.bus.Subscribe()
}

// Unlisten drops an event subscription.
func (m *Manager) Unlisten(id int) {
	m.bus.Unsubscribe(id)
}

// Initialize connects, discovers channels, and starts the health and
// analysis loops. Idempotent: a second call on an initialized manager is a
// no-op. A failed connect leaves the manager uninitialized so the caller
// can retry. A destroyed manager cannot be reinitialized; Initialize
// returns ErrManagerDestroyed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrManagerDestroyed, "manager", "Initialize", "manager is terminal after Destroy")
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.controller.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "manager", "Initialize", "connect")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.destroyed {
		// lost a race against Destroy; it owns the teardown
		m.mu.Unlock()
		cancel()
		return errors.WrapInvalid(errors.ErrManagerDestroyed, "manager", "Initialize", "manager is terminal after Destroy")
	}
	if m.initialized {
		// lost a concurrent Initialize race
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.cancel = cancel
	m.initialized = true
	m.mu.Unlock()

	m.monitor.Start(runCtx)
	if m.cfg.EnableRealTimeAnalysis {
		if err := m.pipeline.Start(runCtx); err != nil {
			return errors.Wrap(err, "manager", "Initialize", "start analysis pipeline")
		}
	}
	m.logger.Info("initialized",
		"max_streams", m.cfg.MaxConcurrentStreams,
		"analysis", m.cfg.EnableRealTimeAnalysis,
	)
	return nil
}

// Subscribe activates a stream. The supplied config is merged over the
// channel's advertised parameters and the manager defaults; nil means
// defaults throughout. Fails with ErrAlreadySubscribed, ErrCapacityExceeded,
// or ErrUnknownChannel without mutating state.
func (m *Manager) Subscribe(streamID string, streamCfg *types.StreamConfig, analysisCfg *types.AnalysisConfig) (types.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[streamID]; exists {
		return types.Subscription{}, errors.WrapInvalid(errors.ErrAlreadySubscribed, "manager", "Subscribe", streamID)
	}
	if len(m.subs) >= m.cfg.MaxConcurrentStreams {
		return types.Subscription{}, errors.WrapInvalid(errors.ErrCapacityExceeded, "manager", "Subscribe",
			fmt.Sprintf("cap %d reached", m.cfg.MaxConcurrentStreams))
	}
	channel, ok := m.catalog.Get(streamID)
	if !ok {
		return types.Subscription{}, errors.WrapInvalid(errors.ErrUnknownChannel, "manager", "Subscribe", streamID)
	}

	merged := m.mergeConfig(streamID, channel, streamCfg)
	if err := merged.Validate(); err != nil {
		return types.Subscription{}, errors.WrapInvalid(err, "manager", "Subscribe", "validate config")
	}

	if err := m.transport.Subscribe(streamID); err != nil {
		return types.Subscription{}, errors.Wrap(err, "manager", "Subscribe", "transport subscribe")
	}

	proc := processor.New(merged.BufferSize, merged.DecimationRatio)
	sub := types.Subscription{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Config:    merged,
		CreatedAt: time.Now(),
	}
	if analysisCfg != nil {
		sub.Analysis = *analysisCfg
	}

	m.subs[streamID] = &streamEntry{sub: sub, channel: channel, proc: proc}
	m.monitor.Track(streamID, proc, channel.ExpectedInterval())
	if m.cfg.EnableRealTimeAnalysis && sub.Analysis.Any() {
		m.pipeline.Register(streamID, proc, sub.Analysis)
	}

	if m.metrics != nil {
		m.metrics.activeStreams.Set(float64(len(m.subs)))
	}
	m.logger.Info("subscribed", "stream_id", streamID, "buffer", merged.BufferSize, "decimation", merged.DecimationRatio)
	m.bus.Publish(event.StreamSubscribed{StreamID: streamID, Subscription: sub})
	return sub, nil
}

// mergeConfig layers the caller's config over channel metadata and manager
// defaults.
func (m *Manager) mergeConfig(streamID string, channel types.StreamChannel, override *types.StreamConfig) types.StreamConfig {
	cfg := types.StreamConfig{
		StreamID:        streamID,
		BufferSize:      m.cfg.DefaultBufferSize,
		DecimationRatio: m.cfg.DefaultDecimationRatio,
		FrequencyHz:     channel.FrequencyHz,
	}
	if override == nil {
		return cfg
	}
	if override.BufferSize > 0 {
		cfg.BufferSize = override.BufferSize
	}
	if override.DecimationRatio > 0 {
		cfg.DecimationRatio = override.DecimationRatio
	}
	if override.FrequencyHz > 0 {
		cfg.FrequencyHz = override.FrequencyHz
	}
	if len(override.Fields) > 0 {
		cfg.Fields = append([]string(nil), override.Fields...)
	}
	return cfg
}

// Unsubscribe deactivates a stream. Unknown streams are a no-op. The
// analyzer registration and data handler are detached under the registry
// lock before the processor is released, so no analyzer can observe a
// half-torn-down subscription.
func (m *Manager) Unsubscribe(streamID string) error {
	m.mu.Lock()
	entry, ok := m.subs[streamID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	m.pipeline.Deregister(streamID)
	m.monitor.Remove(streamID)
	delete(m.subs, streamID)
	if m.metrics != nil {
		m.metrics.activeStreams.Set(float64(len(m.subs)))
	}
	m.mu.Unlock()

	if err := m.transport.Unsubscribe(streamID); err != nil {
		m.logger.Warn("transport unsubscribe failed", "stream_id", streamID, "error", err)
	}

	m.logger.Info("unsubscribed", "stream_id", streamID)
	m.bus.Publish(event.StreamUnsubscribed{StreamID: streamID, SubscriptionID: entry.sub.ID})
	return nil
}

// ConfigureAnalysis hot-swaps a stream's analyzer set without tearing down
// the subscription. Fails with ErrNotSubscribed for unknown streams.
func (m *Manager) ConfigureAnalysis(streamID string, cfg types.AnalysisConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.subs[streamID]
	if !ok {
		return errors.WrapInvalid(errors.ErrNotSubscribed, "manager", "ConfigureAnalysis", streamID)
	}
	entry.sub.Analysis = cfg

	if !m.cfg.EnableRealTimeAnalysis {
		return nil
	}
	if !m.pipeline.Configure(streamID, cfg) {
		m.pipeline.Register(streamID, entry.proc, cfg)
	}
	return nil
}

// GetAvailableChannels returns the discovered channel catalog.
func (m *Manager) GetAvailableChannels() []types.StreamChannel {
	return m.catalog.List()
}

// GetActiveStreams returns the subscribed stream IDs, sorted.
func (m *Manager) GetActiveStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStreamHealth returns the latest health snapshot for one stream.
func (m *Manager) GetStreamHealth(streamID string) (types.StreamHealth, bool) {
	return m.monitor.Get(streamID)
}

// GetAllStreamHealth returns the latest health snapshot of every active
// stream.
func (m *Manager) GetAllStreamHealth() []types.StreamHealth {
	return m.monitor.All()
}

// GetStreamStatistics returns the O(1) derived statistics of a stream.
func (m *Manager) GetStreamStatistics(streamID string) (types.StreamStatistics, error) {
	m.mu.Lock()
	entry, ok := m.subs[streamID]
	m.mu.Unlock()
	if !ok {
		return types.StreamStatistics{}, errors.WrapInvalid(errors.ErrNotSubscribed, "manager", "GetStreamStatistics", streamID)
	}
	return entry.proc.Statistics(), nil
}

// GetStreamData returns the most recent n buffered points, or all buffered
// points when n <= 0.
func (m *Manager) GetStreamData(streamID string, n int) ([]types.TelemetryDataPoint, error) {
	m.mu.Lock()
	entry, ok := m.subs[streamID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrNotSubscribed, "manager", "GetStreamData", streamID)
	}
	return entry.proc.Data(n), nil
}

// ConnectionState returns the current link read-model.
func (m *Manager) ConnectionState() ConnectionState {
	return ConnectionState{
		Connected: m.controller.State() == connection.StateConnected,
		Protocol:  m.negotiator.Current().String(),
		Latency:   time.Duration(m.lastRTT.Load()),
	}
}

// EnqueueOutbound queues a request envelope for the rate-limited flush
// loop. Returns ErrQueueFull when the bounded queue rejects it.
func (m *Manager) EnqueueOutbound(env queue.Envelope) error {
	return m.outbound.Enqueue(env)
}

// Destroy unsubscribes everything, stops the loops, and disconnects. Safe
// to call on a manager that was never initialized, and idempotent. Destroy
// is terminal: the worker pools and the event bus are gone afterwards, so
// a destroyed manager cannot be initialized again; build a new one.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	wasInitialized := m.initialized
	m.initialized = false
	m.destroyed = true
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Unsubscribe(id); err != nil {
			m.logger.Warn("unsubscribe during destroy failed", "stream_id", id, "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
	if wasInitialized {
		m.monitor.Stop()
		if m.cfg.EnableRealTimeAnalysis {
			if err := m.pipeline.Stop(5 * time.Second); err != nil {
				m.logger.Warn("analysis pipeline stop", "error", err)
			}
		}
	}

	err := m.controller.Close()
	m.bus.Close()
	m.logger.Info("destroyed")
	return err
}

// handleFrame is the transport's inbound data path: decode, feed the
// negotiator's link model, buffer, re-export.
func (m *Manager) handleFrame(frame []byte) {
	streamID, point, _, err := protocol.DecodeData(frame)
	if err != nil {
		if m.metrics != nil {
			m.metrics.decodeErrors.Inc()
		}
		m.logger.Warn("frame decode failed", "error", err)
		m.bus.Publish(event.StreamError{Err: errors.WrapInvalid(err, "manager", "handleFrame", "decode frame")})
		return
	}

	m.negotiator.RecordSample(len(frame), time.Duration(m.lastRTT.Load()))

	m.mu.Lock()
	entry, ok := m.subs[streamID]
	m.mu.Unlock()
	if !ok {
		// frames can trail an unsubscribe; drop silently
		return
	}

	entry.proc.Add(point)
	if m.metrics != nil {
		m.metrics.dataPoints.Inc()
	}
	m.bus.Publish(event.StreamData{StreamID: streamID, Point: point})
}

// handleConnectionLost snapshots every stream to offline and charges the
// loss to each active subscription before the controller starts its
// reconnect loop.
func (m *Manager) handleConnectionLost(err error) {
	for _, h := range m.monitor.MarkAllOffline() {
		m.bus.Publish(event.StreamHealthChanged{StreamID: h.StreamID, Health: h})
	}

	streamErr := errors.WrapTransient(errors.ErrConnectionLost, "manager", "handleConnectionLost", "link dropped")
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.bus.Publish(event.StreamError{StreamID: id, Err: streamErr})
	}

	m.controller.ConnectionLost(err)
}

// handleConnectionState re-exports controller transitions on the bus.
func (m *Manager) handleConnectionState(state connection.State, attempt int, err error) {
	m.bus.Publish(event.ConnectionStatus{
		State:   toEventState(state),
		Attempt: attempt,
		Err:     err,
		At:      time.Now(),
	})
}

func toEventState(s connection.State) event.ConnectionState {
	switch s {
	case connection.StateConnecting:
		return event.StateConnecting
	case connection.StateConnected:
		return event.StateConnected
	case connection.StateReconnecting:
		return event.StateReconnecting
	case connection.StateFailed:
		return event.StateFailed
	default:
		return event.StateDisconnected
	}
}

// restoreSubscriptions replays every live subscription against a fresh
// connection. Stream IDs and configs are preserved; the transport treats a
// repeated subscribe as a no-op, so the replay is idempotent.
func (m *Manager) restoreSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.transport.Subscribe(id); err != nil {
			return errors.WrapTransient(err, "manager", "restoreSubscriptions", id)
		}
	}
	if len(ids) > 0 {
		m.logger.Info("subscriptions restored", "count", len(ids))
	}
	return nil
}

// handleLatency stores the RTT sample for health quality and the link
// read-model.
func (m *Manager) handleLatency(rtt time.Duration) {
	m.lastRTT.Store(int64(rtt))
}

// linkLatency is the health monitor's latency source.
func (m *Manager) linkLatency() time.Duration {
	return time.Duration(m.lastRTT.Load())
}

// handleAnalysisError charges the fault to the stream's error rate and
// re-exports it.
func (m *Manager) handleAnalysisError(streamID string, err error) {
	m.mu.Lock()
	entry, ok := m.subs[streamID]
	m.mu.Unlock()
	if ok {
		entry.proc.RecordError()
	}
	m.bus.Publish(event.StreamError{StreamID: streamID, Err: err})
}
