// Package protocol implements wire encodings for telemetry frames and the
// negotiator that selects among them from measured link metrics. Every frame
// carries a leading marker byte identifying its encoding, so the encoding
// can switch mid-session without interrupting in-flight subscriptions: a
// decoder accepts any supported encoding at any time.
package protocol

// Encoding identifies a wire encoding for telemetry frames.
type Encoding int

// Supported encodings
const (
	// EncodingJSON is the plain text encoding: a JSON object per frame.
	EncodingJSON Encoding = iota
	// EncodingBinary is the compact fixed-width big-endian encoding.
	EncodingBinary
	// EncodingBinaryDelta is the compact varint encoding with reduced
	// value precision, for constrained links.
	EncodingBinaryDelta
)

// String returns the wire name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingBinary:
		return "binary"
	case EncodingBinaryDelta:
		return "binary-delta"
	default:
		return "unknown"
	}
}

// Valid reports whether the encoding is supported.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingJSON, EncodingBinary, EncodingBinaryDelta:
		return true
	}
	return false
}

// Frame marker bytes. JSON frames start with '{' so a raw JSON object is a
// valid frame without extra framing.
const (
	markerJSON        = '{'
	markerBinary      = 0xB1
	markerBinaryDelta = 0xB2
)
