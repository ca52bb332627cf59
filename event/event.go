// Package event defines the typed notification surface of the stream
// manager and a bounded fan-out bus for delivering it. Consumers switch on
// the concrete event type; the set is closed by the unexported marker
// method.
package event

import (
	"time"

	"github.com/c360/streamkit/analysis"
	"github.com/c360/streamkit/types"
)

// Event is the closed set of notifications the manager publishes.
type Event interface {
	event()
	// Stream returns the stream the event concerns, or "" for
	// connection-level events.
	Stream() string
}

// StreamSubscribed announces a newly active subscription.
type StreamSubscribed struct {
	StreamID     string
	Subscription types.Subscription
}

func (StreamSubscribed) event()           {}
func (e StreamSubscribed) Stream() string { return e.StreamID }

// StreamUnsubscribed announces a subscription teardown.
type StreamUnsubscribed struct {
	StreamID       string
	SubscriptionID string
}

func (StreamUnsubscribed) event()           {}
func (e StreamUnsubscribed) Stream() string { return e.StreamID }

// StreamData carries one buffered sample, post-decimation.
type StreamData struct {
	StreamID string
	Point    types.TelemetryDataPoint
}

func (StreamData) event()           {}
func (e StreamData) Stream() string { return e.StreamID }

// StreamError reports a per-stream fault (decode failure, analyzer fault,
// send failure).
type StreamError struct {
	StreamID string
	Err      error
}

func (StreamError) event()           {}
func (e StreamError) Stream() string { return e.StreamID }

// StreamHealthChanged carries the latest health assessment for a stream.
type StreamHealthChanged struct {
	StreamID string
	Health   types.StreamHealth
}

func (StreamHealthChanged) event()           {}
func (e StreamHealthChanged) Stream() string { return e.StreamID }

// AnalysisProduced carries one analyzer result.
type AnalysisProduced struct {
	StreamID string
	Result   analysis.Result
}

func (AnalysisProduced) event()           {}
func (e AnalysisProduced) Stream() string { return e.StreamID }

// ConnectionState names a connection lifecycle phase.
type ConnectionState string

// Connection lifecycle states
const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

// ConnectionStatus announces a connection state transition. Attempt is the
// 1-based reconnect attempt while reconnecting, zero otherwise.
type ConnectionStatus struct {
	State   ConnectionState
	Attempt int
	Err     error
	At      time.Time
}

func (ConnectionStatus) event()         {}
func (ConnectionStatus) Stream() string { return "" }

// ProtocolSwitched announces an encoding change on the wire.
type ProtocolSwitched struct {
	From   string
	To     string
	Reason string
	At     time.Time
}

func (ProtocolSwitched) event()         {}
func (ProtocolSwitched) Stream() string { return "" }
