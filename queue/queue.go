// Package queue provides the bounded, priority-ordered outbound message
// queue. Dequeue order is highest priority first, FIFO within a priority.
//
// Overflow policy: reject-new. Enqueue on a full queue returns ErrQueueFull
// and leaves the queue untouched; the caller decides whether the message was
// worth logging. This mirrors the non-blocking submit semantics of the
// worker pool and keeps the hot path free of evictions.
package queue

import (
	"container/heap"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/metric"
)

// Priority levels for outbound messages.
type Priority int

// Message priorities, higher dequeues first.
const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Envelope is the generic outbound request envelope sent over the wire.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Priority  Priority        `json:"priority"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode renders the envelope as its wire form.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "queue", "Encode", "marshal envelope")
	}
	return data, nil
}

// ErrQueueFull is returned when enqueueing on a queue at capacity.
var ErrQueueFull = errors.ErrQueueFull

type entry struct {
	env Envelope
	seq uint64 // tie-breaker: FIFO within a priority
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].env.Priority != h[j].env.Priority {
		return h[i].env.Priority > h[j].env.Priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe bounded priority queue.
type Queue struct {
	mu       sync.Mutex
	items    entryHeap
	capacity int
	nextSeq  uint64

	// Statistics (atomic)
	enqueued int64
	dequeued int64
	rejected int64

	metrics *queueMetrics
}

type queueMetrics struct {
	depth    prometheus.Gauge
	enqueued prometheus.Counter
	dequeued prometheus.Counter
	rejected prometheus.Counter
}

// Option configures a queue.
type Option func(*Queue) error

// WithMetrics registers queue depth and throughput metrics.
func WithMetrics(registry *metric.Registry, prefix string) Option {
	return func(q *Queue) error {
		m := &queueMetrics{
			depth: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: prefix + "_depth",
				Help: "Current outbound queue depth",
			}),
			enqueued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_enqueued_total",
				Help: "Total messages enqueued",
			}),
			dequeued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_dequeued_total",
				Help: "Total messages dequeued for send",
			}),
			rejected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_rejected_total",
				Help: "Total messages rejected because the queue was full",
			}),
		}

		const serviceName = "message_queue"
		if err := registry.RegisterGauge(serviceName, prefix+"_depth", m.depth); err != nil {
			return err
		}
		if err := registry.RegisterCounter(serviceName, prefix+"_enqueued_total", m.enqueued); err != nil {
			return err
		}
		if err := registry.RegisterCounter(serviceName, prefix+"_dequeued_total", m.dequeued); err != nil {
			return err
		}
		if err := registry.RegisterCounter(serviceName, prefix+"_rejected_total", m.rejected); err != nil {
			return err
		}

		q.metrics = m
		return nil
	}
}

// New creates a bounded priority queue.
func New(capacity int, opts ...Option) (*Queue, error) {
	if capacity <= 0 {
		capacity = 1
	}

	q := &Queue{
		items:    make(entryHeap, 0, capacity),
		capacity: capacity,
	}

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, errors.Wrap(err, "Queue", "New", "apply option")
		}
	}

	return q, nil
}

// Enqueue adds an envelope to the queue. Returns ErrQueueFull when at
// capacity (reject-new policy).
func (q *Queue) Enqueue(env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		atomic.AddInt64(&q.rejected, 1)
		if q.metrics != nil {
			q.metrics.rejected.Inc()
		}
		return ErrQueueFull
	}

	heap.Push(&q.items, entry{env: env, seq: q.nextSeq})
	q.nextSeq++

	atomic.AddInt64(&q.enqueued, 1)
	if q.metrics != nil {
		q.metrics.enqueued.Inc()
		q.metrics.depth.Set(float64(len(q.items)))
	}
	return nil
}

// Dequeue removes and returns up to max envelopes in priority order. This is
// what the connection controller drains each flush cycle, bounded so a flush
// cannot saturate the link.
func (q *Queue) Dequeue(max int) []Envelope {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}

	out := make([]Envelope, 0, n)
	for i := 0; i < n; i++ {
		e := heap.Pop(&q.items).(entry)
		out = append(out, e.env)
	}

	atomic.AddInt64(&q.dequeued, int64(n))
	if q.metrics != nil {
		q.metrics.dequeued.Add(float64(n))
		q.metrics.depth.Set(float64(len(q.items)))
	}
	return out
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the maximum queue depth.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Clear discards all queued envelopes.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	if q.metrics != nil {
		q.metrics.depth.Set(0)
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Depth    int   `json:"depth"`
	Capacity int   `json:"capacity"`
	Enqueued int64 `json:"enqueued"`
	Dequeued int64 `json:"dequeued"`
	Rejected int64 `json:"rejected"`
}

// Statistics returns a snapshot of queue counters.
func (q *Queue) Statistics() Stats {
	return Stats{
		Depth:    q.Len(),
		Capacity: q.capacity,
		Enqueued: atomic.LoadInt64(&q.enqueued),
		Dequeued: atomic.LoadInt64(&q.dequeued),
		Rejected: atomic.LoadInt64(&q.rejected),
	}
}
