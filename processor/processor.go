// Package processor implements the per-subscription stream data processor:
// a fixed-capacity ring buffer with decimation and running statistics. Each
// processor is exclusively owned by its subscription; analyzers only read
// snapshots.
//
// Overflow is drop-oldest: when the buffer is full the oldest retained point
// is evicted and the drop counter increments. This is the canonical
// backpressure point for a single stream.
//
// Decimation policy (deterministic): with ratio R > 1, one point is
// retained per window of R raw samples: the arithmetic mean of the window
// for scalar streams, the last sample of the window for vector and matrix
// streams. The retained point carries the timestamp and quality of the last
// raw sample in its window. Raw arrival rate is unaffected; buffer
// occupancy reflects the decimated count.
package processor

import (
	"sync"
	"time"

	"github.com/c360/streamkit/types"
)

// Processor buffers and decimates one stream's samples.
type Processor struct {
	mu     sync.RWMutex
	points []types.TelemetryDataPoint
	size   int
	head   int // next write position

	decimation int

	// decimation window accumulation
	windowCount int
	windowSum   float64
	windowLast  types.TelemetryDataPoint

	// running counters, guarded by mu
	received   int64 // raw samples seen
	retained   int64 // samples written into the ring
	dropped    int64 // ring evictions
	errorCount int64
	startTime  time.Time
	lastUpdate time.Time
}

// New creates a processor with the given ring capacity and decimation ratio.
// Capacity below 1 is clamped to 1; ratios below 1 mean no decimation.
func New(bufferSize, decimationRatio int) *Processor {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if decimationRatio < 1 {
		decimationRatio = 1
	}
	return &Processor{
		points:     make([]types.TelemetryDataPoint, bufferSize),
		decimation: decimationRatio,
		startTime:  time.Now(),
	}
}

// Add ingests one raw sample in arrival order.
func (p *Processor) Add(point types.TelemetryDataPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.received++
	p.lastUpdate = time.Now()

	if p.decimation == 1 {
		p.push(point)
		return
	}

	p.windowCount++
	p.windowSum += point.Value
	p.windowLast = point

	if p.windowCount < p.decimation {
		return
	}

	retained := p.windowLast
	if len(retained.Vector) == 0 && len(retained.Matrix) == 0 {
		retained.Value = p.windowSum / float64(p.windowCount)
	}

	p.windowCount = 0
	p.windowSum = 0
	p.push(retained)
}

// push writes into the ring, evicting the oldest point when full.
// Callers hold p.mu.
func (p *Processor) push(point types.TelemetryDataPoint) {
	capacity := len(p.points)
	if p.size == capacity {
		p.dropped++
	} else {
		p.size++
	}
	p.points[p.head] = point
	p.head = (p.head + 1) % capacity
	p.retained++
}

// Data returns the most recent n retained points in arrival order without
// mutating the buffer. n <= 0 or n > size returns all buffered points.
func (p *Processor) Data(n int) []types.TelemetryDataPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || n > p.size {
		n = p.size
	}
	if n == 0 {
		return nil
	}

	capacity := len(p.points)
	out := make([]types.TelemetryDataPoint, n)
	// head points at the next write slot; the newest point is head-1
	start := (p.head - n + capacity*2) % capacity
	for i := 0; i < n; i++ {
		out[i] = p.points[(start+i)%capacity]
	}
	return out
}

// Statistics returns a snapshot computed from running counters in O(1).
// DataRate is raw samples per second since the processor was created.
func (p *Processor) Statistics() types.StreamStatistics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	elapsed := time.Since(p.startTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.received) / elapsed
	}

	return types.StreamStatistics{
		DataRate:         rate,
		BufferUsageRatio: float64(p.size) / float64(len(p.points)),
		PointCount:       p.size,
		DroppedCount:     p.dropped,
		LastUpdateTs:     p.lastUpdate,
	}
}

// RecordError notes a stream-level error (decode failure, bad payload) for
// health classification.
func (p *Processor) RecordError() {
	p.mu.Lock()
	p.errorCount++
	p.mu.Unlock()
}

// ErrorRate returns errors per received raw sample, 0 when no data has
// arrived.
func (p *Processor) ErrorRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.received == 0 {
		if p.errorCount > 0 {
			return 1
		}
		return 0
	}
	return float64(p.errorCount) / float64(p.received)
}

// LastUpdate returns the arrival time of the most recent raw sample, zero
// if none has arrived.
func (p *Processor) LastUpdate() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastUpdate
}

// Size returns the number of buffered (retained) points.
func (p *Processor) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Capacity returns the ring capacity.
func (p *Processor) Capacity() int {
	return len(p.points)
}

// Reset clears buffered data and counters, keeping capacity and decimation.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.points {
		p.points[i] = types.TelemetryDataPoint{}
	}
	p.size = 0
	p.head = 0
	p.windowCount = 0
	p.windowSum = 0
	p.received = 0
	p.retained = 0
	p.dropped = 0
	p.errorCount = 0
	p.startTime = time.Now()
	p.lastUpdate = time.Time{}
}
