package types

import "time"

// HealthStatus is the connectivity/freshness grade of a stream.
type HealthStatus string

// Stream health statuses
const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusOffline   HealthStatus = "offline"
)

// Quality is a coarse grade derived from link latency, separate from the
// freshness-driven status.
type Quality string

// Stream quality grades
const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// StreamHealth is a per-stream health snapshot. Snapshots are produced only
// by the health monitor sweep and by data-arrival updates; status is a pure
// function of data freshness, error rate, and link latency and is never set
// directly by callers.
type StreamHealth struct {
	StreamID   string        `json:"stream_id"`
	Status     HealthStatus  `json:"status"`
	Latency    time.Duration `json:"latency"`
	DataRate   float64       `json:"data_rate"`
	ErrorRate  float64       `json:"error_rate"`
	LastDataTs time.Time     `json:"last_data_ts"`
	Quality    Quality       `json:"quality"`
	Issues     []string      `json:"issues,omitempty"`
}

// StreamStatistics is a derived snapshot recomputed on demand from a stream
// data processor's running counters.
type StreamStatistics struct {
	DataRate         float64   `json:"data_rate"`
	BufferUsageRatio float64   `json:"buffer_usage_ratio"`
	PointCount       int       `json:"point_count"`
	DroppedCount     int64     `json:"dropped_count"`
	LastUpdateTs     time.Time `json:"last_update_ts"`
}
