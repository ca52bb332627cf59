// Package health computes per-stream health from data freshness, error
// rate, and link latency. Classification is a pure function of its inputs:
// callers never set a status directly, they feed observations and read the
// computed snapshot.
package health

import (
	"fmt"
	"time"

	"github.com/c360/streamkit/types"
)

// Classification thresholds. Silence is measured in multiples of the
// channel's expected sample interval.
const (
	offlineSilenceFactor   = 10
	unhealthySilenceFactor = 5
	degradedErrorRate      = 0.1

	poorLatency = 100 * time.Millisecond
	fairLatency = 50 * time.Millisecond
)

// defaultExpectedInterval is assumed for channels that do not advertise a
// frequency.
const defaultExpectedInterval = time.Second

// Classify derives the stream status from time since the last sample, the
// channel's expected sample interval, and the observed error rate.
func Classify(sinceLast, expectedInterval time.Duration, errorRate float64) types.HealthStatus {
	if expectedInterval <= 0 {
		expectedInterval = defaultExpectedInterval
	}

	switch {
	case sinceLast > time.Duration(offlineSilenceFactor)*expectedInterval:
		return types.StatusOffline
	case sinceLast > time.Duration(unhealthySilenceFactor)*expectedInterval:
		return types.StatusUnhealthy
	case errorRate > degradedErrorRate:
		return types.StatusDegraded
	default:
		return types.StatusHealthy
	}
}

// ClassifyQuality derives the coarse quality grade from link latency.
func ClassifyQuality(latency time.Duration) types.Quality {
	switch {
	case latency > poorLatency:
		return types.QualityPoor
	case latency > fairLatency:
		return types.QualityFair
	default:
		return types.QualityGood
	}
}

// Inputs are the observations a health snapshot is computed from.
type Inputs struct {
	StreamID         string
	Now              time.Time
	LastData         time.Time
	ExpectedInterval time.Duration
	ErrorRate        float64
	Latency          time.Duration
	DataRate         float64
}

// Evaluate computes a complete health snapshot from the inputs.
func Evaluate(in Inputs) types.StreamHealth {
	sinceLast := in.Now.Sub(in.LastData)
	status := Classify(sinceLast, in.ExpectedInterval, in.ErrorRate)
	quality := ClassifyQuality(in.Latency)

	var issues []string
	switch status {
	case types.StatusOffline:
		issues = append(issues, fmt.Sprintf("no data for %s", sinceLast.Round(time.Millisecond)))
	case types.StatusUnhealthy:
		issues = append(issues, fmt.Sprintf("data stale for %s", sinceLast.Round(time.Millisecond)))
	case types.StatusDegraded:
		issues = append(issues, fmt.Sprintf("error rate %.2f above threshold", in.ErrorRate))
	}
	if quality != types.QualityGood {
		issues = append(issues, fmt.Sprintf("link latency %s", in.Latency.Round(time.Millisecond)))
	}

	return types.StreamHealth{
		StreamID:   in.StreamID,
		Status:     status,
		Latency:    in.Latency,
		DataRate:   in.DataRate,
		ErrorRate:  in.ErrorRate,
		LastDataTs: in.LastData,
		Quality:    quality,
		Issues:     issues,
	}
}

// Offline returns an offline snapshot for a stream, used when the link
// drops and every stream is known-dark regardless of buffer freshness.
func Offline(streamID string, lastData time.Time) types.StreamHealth {
	return types.StreamHealth{
		StreamID:   streamID,
		Status:     types.StatusOffline,
		LastDataTs: lastData,
		Quality:    types.QualityPoor,
		Issues:     []string{"connection lost"},
	}
}
