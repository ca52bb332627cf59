package analysis

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/c360/streamkit/types"
)

// minCorrelationSamples is the smallest aligned series length worth
// reporting a coefficient for.
const minCorrelationSamples = 3

// CorrelationAnalyzer computes pairwise Pearson coefficients across every
// stream registered with it. One instance is shared by all subscriptions
// that enable correlation; the pipeline refreshes each stream's series at
// the start of a tick, then evaluation reads the shared snapshot.
type CorrelationAnalyzer struct {
	mu     sync.RWMutex
	series map[string][]float64
}

// NewCorrelationAnalyzer returns an empty correlation set.
func NewCorrelationAnalyzer() *CorrelationAnalyzer {
	return &CorrelationAnalyzer{series: make(map[string][]float64)}
}

// Register adds a stream to the correlation set with no data yet.
func (c *CorrelationAnalyzer) Register(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.series[streamID]; !ok {
		c.series[streamID] = nil
	}
}

// Deregister drops a stream and its series from the set.
func (c *CorrelationAnalyzer) Deregister(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, streamID)
}

// Update replaces the stream's series with the scalar projection of the
// given window. Unregistered streams are ignored.
func (c *CorrelationAnalyzer) Update(streamID string, points []types.TelemetryDataPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.series[streamID]; !ok {
		return
	}
	c.series[streamID] = scalarValues(points)
}

// Evaluate computes the addressed stream's coefficient against every other
// registered stream, aligned on the most recent min(lenA, lenB) samples.
// Returns false when no pair has enough data.
func (c *CorrelationAnalyzer) Evaluate(streamID string) (CorrelationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	own, ok := c.series[streamID]
	if !ok || len(own) < minCorrelationSamples {
		return CorrelationResult{}, false
	}

	var pairs []CorrelationPair
	for other, series := range c.series {
		if other == streamID {
			continue
		}
		n := len(own)
		if len(series) < n {
			n = len(series)
		}
		if n < minCorrelationSamples {
			continue
		}
		a := own[len(own)-n:]
		b := series[len(series)-n:]
		pairs = append(pairs, CorrelationPair{
			OtherStream: other,
			Coefficient: stat.Correlation(a, b, nil),
			Samples:     n,
		})
	}
	if len(pairs) == 0 {
		return CorrelationResult{}, false
	}

	return CorrelationResult{StreamID: streamID, Pairs: pairs}, true
}
