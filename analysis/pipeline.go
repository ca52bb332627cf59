package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/pkg/worker"
	"github.com/c360/streamkit/processor"
	"github.com/c360/streamkit/types"
)

// task is one stream's analyzer run for a single tick.
type task struct {
	run func(context.Context) error
}

// PipelineConfig configures the shared analysis scheduler.
type PipelineConfig struct {
	// Interval between analysis passes. Zero means one second.
	Interval time.Duration
	// Workers and QueueSize bound the dispatch pool. Zeros take the pool
	// defaults.
	Workers   int
	QueueSize int
	// Emit receives every produced result. Required.
	Emit func(Result)
	// OnError receives analyzer faults (including recovered panics). May
	// be nil.
	OnError func(streamID string, err error)
	// Metrics optionally wires pool metrics.
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Pipeline is the central analysis scheduler. One clock drives every
// subscription: each tick snapshots the registered streams' windows,
// refreshes the shared correlation set, and dispatches per-stream analyzer
// runs to a bounded worker pool. A slow or faulty analyzer delays or fails
// only its own stream's pass.
type Pipeline struct {
	mu      sync.RWMutex
	streams map[string]*streamState

	correlation *CorrelationAnalyzer
	pool        *worker.Pool[task]
	interval    time.Duration
	emit        func(Result)
	onError     func(streamID string, err error)
	logger      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// streamState holds one subscription's analyzers. The per-state mutex keeps
// ticks for the same stream from interleaving when the pool lags.
type streamState struct {
	mu      sync.Mutex
	proc    *processor.Processor
	cfg     types.AnalysisConfig
	stats   *StatisticsAnalyzer
	trend   *TrendAnalyzer
	drift   *DriftDetector
	predict *PredictionEngine
	lastTs  time.Time
}

// NewPipeline creates a stopped pipeline; call Start to run the clock.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		streams:     make(map[string]*streamState),
		correlation: NewCorrelationAnalyzer(),
		interval:    cfg.Interval,
		emit:        cfg.Emit,
		onError:     cfg.OnError,
		logger:      cfg.Logger.With("component", "analysis"),
	}

	var opts []worker.Option[task]
	if cfg.Metrics != nil {
		opts = append(opts, worker.WithMetrics[task](cfg.Metrics, "analysis"))
	}
	p.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, func(ctx context.Context, t task) error {
		return t.run(ctx)
	}, opts...)

	return p
}

// Register adds a stream to the schedule. Re-registering an ID replaces its
// analyzers and resets their state.
func (p *Pipeline) Register(streamID string, proc *processor.Processor, cfg types.AnalysisConfig) {
	state := &streamState{proc: proc}
	state.apply(cfg)

	p.mu.Lock()
	p.streams[streamID] = state
	p.mu.Unlock()

	if cfg.EnableCorrelation {
		p.correlation.Register(streamID)
	} else {
		p.correlation.Deregister(streamID)
	}
}

// Deregister removes a stream from the schedule. Unknown IDs are a no-op.
func (p *Pipeline) Deregister(streamID string) {
	p.mu.Lock()
	delete(p.streams, streamID)
	p.mu.Unlock()
	p.correlation.Deregister(streamID)
}

// Configure hot-swaps a stream's analyzer set mid-flight. Returns false when
// the stream is not registered. Stateful analyzers kept enabled retain their
// accumulated state; newly enabled ones start fresh.
func (p *Pipeline) Configure(streamID string, cfg types.AnalysisConfig) bool {
	p.mu.RLock()
	state, ok := p.streams[streamID]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	state.mu.Lock()
	state.apply(cfg)
	state.mu.Unlock()

	if cfg.EnableCorrelation {
		p.correlation.Register(streamID)
	} else {
		p.correlation.Deregister(streamID)
	}
	return true
}

// apply reconciles the analyzer set with cfg. Caller holds state.mu (or has
// exclusive access during Register).
func (s *streamState) apply(cfg types.AnalysisConfig) {
	if cfg.EnableStatistics || cfg.EnableAnomaly {
		if s.stats == nil || s.cfg.AnomalyThreshold != cfg.AnomalyThreshold {
			s.stats = NewStatisticsAnalyzer(cfg.AnomalyThreshold)
		}
	} else {
		s.stats = nil
	}
	if cfg.EnableTrend {
		if s.trend == nil {
			s.trend = NewTrendAnalyzer()
		}
	} else {
		s.trend = nil
	}
	if cfg.EnableDrift {
		if s.drift == nil {
			s.drift = NewDriftDetector(0)
		}
	} else {
		s.drift = nil
	}
	if cfg.EnablePrediction {
		if s.predict == nil || s.cfg.PredictionHorizon != cfg.PredictionHorizon {
			s.predict = NewPredictionEngine(cfg.PredictionHorizon)
		}
	} else {
		s.predict = nil
	}
	s.cfg = cfg
}

// Start launches the worker pool and the tick loop.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.pool.Start(ctx); err != nil {
		return fmt.Errorf("analysis.Start: pool start failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				p.Tick(now)
			}
		}
	}()
	return nil
}

// Stop halts the clock and drains the pool.
func (p *Pipeline) Stop(timeout time.Duration) error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
	return p.pool.Stop(timeout)
}

// Tick runs one analysis pass: snapshot every registered stream's window,
// refresh the correlation set, then dispatch per-stream runs. Exported so
// callers with their own clock can drive passes directly.
func (p *Pipeline) Tick(now time.Time) {
	p.mu.RLock()
	snapshot := make(map[string]*streamState, len(p.streams))
	for id, state := range p.streams {
		snapshot[id] = state
	}
	p.mu.RUnlock()

	windows := make(map[string][]types.TelemetryDataPoint, len(snapshot))
	for id, state := range snapshot {
		windows[id] = state.proc.Data(0)
	}

	// Correlation series refresh before any job runs, so every stream's
	// pass sees the same aligned snapshot.
	for id, state := range snapshot {
		if state.cfg.EnableCorrelation {
			p.correlation.Update(id, windows[id])
		}
	}

	for id, state := range snapshot {
		if !state.cfg.Any() {
			continue
		}
		id, state, window := id, state, windows[id]
		err := p.pool.Submit(task{run: func(context.Context) error {
			p.analyze(id, state, window, now)
			return nil
		}})
		if err != nil {
			p.logger.Warn("analysis pass dropped, pool saturated", "stream_id", id)
		}
	}
}

// analyze runs one stream's enabled analyzers over the snapshotted window.
func (p *Pipeline) analyze(streamID string, state *streamState, window []types.TelemetryDataPoint, now time.Time) {
	state.mu.Lock()
	defer state.mu.Unlock()

	// Stateful analyzers consume only samples that arrived since the
	// previous pass; window analyzers see the whole snapshot.
	fresh := pointsAfter(window, state.lastTs)
	if len(window) > 0 {
		state.lastTs = window[len(window)-1].Timestamp
	}

	cfg := state.cfg
	if cfg.EnableStatistics && state.stats != nil {
		p.guard(streamID, "statistics", func() {
			if res, ok := state.stats.Statistics(streamID, window, now); ok {
				p.emit(res)
			}
		})
	}
	if cfg.EnableAnomaly && state.stats != nil {
		p.guard(streamID, "anomaly", func() {
			if res, ok := state.stats.Anomalies(streamID, window); ok {
				p.emit(res)
			}
		})
	}
	if cfg.EnableCorrelation {
		p.guard(streamID, "correlation", func() {
			if res, ok := p.correlation.Evaluate(streamID); ok {
				p.emit(res)
			}
		})
	}
	if cfg.EnableTrend && state.trend != nil {
		p.guard(streamID, "trend", func() {
			if res, ok := state.trend.Evaluate(streamID, window); ok {
				p.emit(res)
			}
		})
	}
	if cfg.EnableDrift && state.drift != nil {
		p.guard(streamID, "drift", func() {
			if res, ok := state.drift.Observe(streamID, fresh); ok {
				p.emit(res)
			}
		})
	}
	if cfg.EnablePrediction && state.predict != nil {
		p.guard(streamID, "prediction", func() {
			if res, ok := state.predict.Observe(streamID, fresh); ok {
				p.emit(res)
			}
		})
	}
}

// guard isolates one analyzer invocation: a panic is reported through
// OnError and the remaining analyzers still run.
func (p *Pipeline) guard(streamID, analyzer string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("analysis.%s: panic: %v", analyzer, r)
			p.logger.Error("analyzer panicked",
				"stream_id", streamID,
				"analyzer", analyzer,
				"panic", r,
			)
			if p.onError != nil {
				p.onError(streamID, err)
			}
		}
	}()
	fn()
}

// pointsAfter returns the suffix of the window strictly newer than ts.
// Windows are in arrival order, so a single backward scan finds the cut.
func pointsAfter(window []types.TelemetryDataPoint, ts time.Time) []types.TelemetryDataPoint {
	if ts.IsZero() {
		return window
	}
	cut := len(window)
	for cut > 0 && window[cut-1].Timestamp.After(ts) {
		cut--
	}
	return window[cut:]
}
