// Package transport abstracts the wire link between the stream manager and
// the telemetry source. Implementations deliver raw frames; decoding is the
// protocol package's job. The manager owns reconnection, so transports
// report loss once and stay down until Connect is called again.
package transport

import (
	"context"
	"time"

	"github.com/c360/streamkit/types"
)

// Handlers are the inbound callbacks a transport invokes. OnData receives
// every raw data frame; OnConnectionLost fires once per established
// connection that drops. Either may be nil.
type Handlers struct {
	OnData           func(frame []byte)
	OnConnectionLost func(err error)
}

// Transport is a single logical link to the telemetry source.
type Transport interface {
	// Connect establishes the link. Calling Connect on an open transport
	// is an error.
	Connect(ctx context.Context) error
	// Close tears down the link without firing OnConnectionLost.
	Close() error
	// Connected reports whether the link is currently up.
	Connected() bool
	// DiscoverChannels asks the source for its channel catalog.
	DiscoverChannels(ctx context.Context) ([]types.StreamChannel, error)
	// Subscribe starts delivery of the stream's frames to OnData.
	Subscribe(streamID string) error
	// Unsubscribe stops delivery for the stream.
	Unsubscribe(streamID string) error
	// Send transmits one outbound frame.
	Send(data []byte) error
	// RTT measures the link round-trip time.
	RTT() (time.Duration, error)
}
