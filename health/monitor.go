package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/streamkit/processor"
	"github.com/c360/streamkit/types"
)

// EmitFunc receives one health snapshot per tracked stream per sweep,
// always, even when unchanged. Consumers dedupe if they need to.
type EmitFunc func(types.StreamHealth)

// LatencyFunc reports the current link round trip.
type LatencyFunc func() time.Duration

type streamEntry struct {
	proc     *processor.Processor
	expected time.Duration
	tracked  time.Time // when tracking began, freshness baseline before first data
	last     types.StreamHealth
	hasLast  bool
}

// Monitor runs a periodic sweep computing per-stream health snapshots from
// processor freshness, error counters, and link latency. Updates are pure
// transforms producing new snapshots, never in-place mutation.
type Monitor struct {
	mu      sync.RWMutex
	streams map[string]*streamEntry

	interval time.Duration
	latency  LatencyFunc
	emit     EmitFunc
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a health monitor sweeping at the given interval.
func NewMonitor(interval time.Duration, latency LatencyFunc, emit EmitFunc, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if latency == nil {
		latency = func() time.Duration { return 0 }
	}
	if emit == nil {
		emit = func(types.StreamHealth) {}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		streams:  make(map[string]*streamEntry),
		interval: interval,
		latency:  latency,
		emit:     emit,
		logger:   logger,
	}
}

// Track starts monitoring a stream backed by the given processor. The
// expected interval comes from the channel's advertised frequency.
func (m *Monitor) Track(streamID string, proc *processor.Processor, expected time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streams[streamID] = &streamEntry{
		proc:     proc,
		expected: expected,
		tracked:  time.Now(),
	}
}

// Remove stops monitoring a stream. Health entries exist iff a matching
// subscription is active.
func (m *Monitor) Remove(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, streamID)
}

// Get returns the latest snapshot for a stream, computing one on demand if
// no sweep has run since tracking began.
func (m *Monitor) Get(streamID string) (types.StreamHealth, bool) {
	m.mu.RLock()
	entry, ok := m.streams[streamID]
	if ok && entry.hasLast {
		last := entry.last
		m.mu.RUnlock()
		return last, true
	}
	m.mu.RUnlock()

	if !ok {
		return types.StreamHealth{}, false
	}

	snapshots := m.Sweep(time.Now())
	for _, h := range snapshots {
		if h.StreamID == streamID {
			return h, true
		}
	}
	return types.StreamHealth{}, false
}

// All returns the latest snapshot for every tracked stream.
func (m *Monitor) All() []types.StreamHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.StreamHealth, 0, len(m.streams))
	for id, entry := range m.streams {
		if entry.hasLast {
			out = append(out, entry.last)
		} else {
			out = append(out, types.StreamHealth{
				StreamID: id,
				Status:   types.StatusHealthy,
				Quality:  types.QualityGood,
			})
		}
	}
	return out
}

// Sweep computes and stores a fresh snapshot per tracked stream and returns
// them. Exposed for the periodic loop and for deterministic tests.
func (m *Monitor) Sweep(now time.Time) []types.StreamHealth {
	latency := m.latency()

	m.mu.Lock()
	snapshots := make([]types.StreamHealth, 0, len(m.streams))
	for id, entry := range m.streams {
		stats := entry.proc.Statistics()

		lastData := entry.proc.LastUpdate()
		if lastData.IsZero() {
			// No data yet: measure silence from when tracking began
			lastData = entry.tracked
		}

		h := Evaluate(Inputs{
			StreamID:         id,
			Now:              now,
			LastData:         lastData,
			ExpectedInterval: entry.expected,
			ErrorRate:        entry.proc.ErrorRate(),
			Latency:          latency,
			DataRate:         stats.DataRate,
		})

		entry.last = h
		entry.hasLast = true
		snapshots = append(snapshots, h)
	}
	m.mu.Unlock()

	return snapshots
}

// MarkAllOffline snapshots every tracked stream as offline, used when the
// connection drops.
func (m *Monitor) MarkAllOffline() []types.StreamHealth {
	m.mu.Lock()
	snapshots := make([]types.StreamHealth, 0, len(m.streams))
	for id, entry := range m.streams {
		h := Offline(id, entry.proc.LastUpdate())
		entry.last = h
		entry.hasLast = true
		snapshots = append(snapshots, h)
	}
	m.mu.Unlock()

	for _, h := range snapshots {
		m.emit(h)
	}
	return snapshots
}

// Start begins the periodic sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				for _, h := range m.Sweep(time.Now()) {
					m.emit(h)
				}
			}
		}
	}()
}

// Stop halts the sweep loop. Safe to call without Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Count returns the number of tracked streams.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}
