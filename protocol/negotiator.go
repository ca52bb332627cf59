package protocol

import (
	"log/slog"
	"sync"
	"time"
)

// SwitchFunc is invoked when the negotiator changes encoding. It runs on the
// caller's goroutine recording the link sample that triggered the switch.
type SwitchFunc func(from, to Encoding)

// NegotiatorConfig parameterizes encoding selection.
type NegotiatorConfig struct {
	// EnableBinary allows switching to the binary encodings at all.
	EnableBinary bool

	// CompressionThreshold is the average payload size in bytes above
	// which the negotiator prefers a binary encoding.
	CompressionThreshold int

	// ConstrainedRTT is the smoothed round trip above which the
	// negotiator prefers the delta encoding. Zero means 75ms.
	ConstrainedRTT time.Duration

	// EvaluateEvery is the number of link samples between switch
	// evaluations, damping flapping. Zero means 16.
	EvaluateEvery int
}

// Negotiator tracks and selects the wire encoding from measured link
// metrics. It may switch autonomously and reports each switch, but never
// forces consumers to resubscribe: frames self-describe their encoding.
type Negotiator struct {
	mu      sync.RWMutex
	current Encoding
	cfg     NegotiatorConfig

	// Exponentially weighted link metrics
	avgPayload float64
	avgRTT     float64 // milliseconds
	samples    int

	onSwitch SwitchFunc
	logger   *slog.Logger
}

// NewNegotiator creates a negotiator starting on the plain JSON encoding.
func NewNegotiator(cfg NegotiatorConfig, logger *slog.Logger) *Negotiator {
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = 1024
	}
	if cfg.ConstrainedRTT <= 0 {
		cfg.ConstrainedRTT = 75 * time.Millisecond
	}
	if cfg.EvaluateEvery <= 0 {
		cfg.EvaluateEvery = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Negotiator{
		current: EncodingJSON,
		cfg:     cfg,
		logger:  logger,
	}
}

// OnSwitch registers the switch callback.
func (n *Negotiator) OnSwitch(fn SwitchFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onSwitch = fn
}

// Current returns the encoding in effect.
func (n *Negotiator) Current() Encoding {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// Available returns the encodings this negotiator may select.
func (n *Negotiator) Available() []Encoding {
	if n.cfg.EnableBinary {
		return []Encoding{EncodingJSON, EncodingBinary, EncodingBinaryDelta}
	}
	return []Encoding{EncodingJSON}
}

// RecordSample feeds one link-quality observation: the payload size of a
// sent or received frame and the most recent round trip. Every
// EvaluateEvery samples the negotiator re-evaluates its choice.
func (n *Negotiator) RecordSample(payloadBytes int, rtt time.Duration) {
	n.mu.Lock()

	const alpha = 0.2
	if n.samples == 0 {
		n.avgPayload = float64(payloadBytes)
		n.avgRTT = float64(rtt.Milliseconds())
	} else {
		n.avgPayload = alpha*float64(payloadBytes) + (1-alpha)*n.avgPayload
		n.avgRTT = alpha*float64(rtt.Milliseconds()) + (1-alpha)*n.avgRTT
	}
	n.samples++

	if n.samples%n.cfg.EvaluateEvery != 0 {
		n.mu.Unlock()
		return
	}

	target := n.pickLocked()
	from := n.current
	var cb SwitchFunc
	if target != from {
		n.current = target
		cb = n.onSwitch
	}
	n.mu.Unlock()

	if cb != nil {
		n.logger.Info("protocol switched",
			"from", from.String(),
			"to", target.String(),
			"avg_payload_bytes", int(n.avgPayload),
			"avg_rtt_ms", int(n.avgRTT))
		cb(from, target)
	}
}

// pickLocked chooses the target encoding from the smoothed link metrics.
// Callers hold n.mu.
func (n *Negotiator) pickLocked() Encoding {
	if !n.cfg.EnableBinary {
		return EncodingJSON
	}

	threshold := float64(n.cfg.CompressionThreshold)
	switch {
	case n.avgPayload > threshold && n.avgRTT > float64(n.cfg.ConstrainedRTT.Milliseconds()):
		return EncodingBinaryDelta
	case n.avgPayload > threshold:
		return EncodingBinary
	case n.avgPayload < threshold/2:
		// Bandwidth is ample, fall back to the plain encoding
		return EncodingJSON
	default:
		// Between threshold/2 and threshold: keep the current choice
		return n.current
	}
}
