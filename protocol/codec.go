package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/types"
)

// dataFrame is the JSON shape of a telemetry data push.
type dataFrame struct {
	StreamID string                   `json:"stream_id"`
	Point    types.TelemetryDataPoint `json:"point"`
}

// Shape markers for binary frames.
const (
	shapeScalar byte = 0
	shapeVector byte = 1
	shapeMatrix byte = 2
)

var qualityCodes = map[types.PointQuality]byte{
	"":                   0,
	types.PointGood:      1,
	types.PointUncertain: 2,
	types.PointBad:       3,
}

var qualityNames = map[byte]types.PointQuality{
	0: "",
	1: types.PointGood,
	2: types.PointUncertain,
	3: types.PointBad,
}

// EncodeData encodes a telemetry data push in the given encoding.
func EncodeData(streamID string, p types.TelemetryDataPoint, enc Encoding) ([]byte, error) {
	if streamID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Codec", "EncodeData", "empty stream ID")
	}
	if len(streamID) > 255 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("stream ID longer than 255 bytes: %d", len(streamID)),
			"Codec", "EncodeData", "check stream ID")
	}

	switch enc {
	case EncodingJSON:
		return json.Marshal(dataFrame{StreamID: streamID, Point: p})
	case EncodingBinary:
		return encodeBinary(streamID, p), nil
	case EncodingBinaryDelta:
		return encodeBinaryDelta(streamID, p), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrUnknownFormat, "Codec", "EncodeData", "select encoding")
	}
}

// DecodeData decodes a telemetry frame, detecting the encoding from its
// marker byte. A stream can therefore change encoding mid-session without
// the consumer resubscribing.
func DecodeData(frame []byte) (string, types.TelemetryDataPoint, Encoding, error) {
	var zero types.TelemetryDataPoint
	if len(frame) == 0 {
		return "", zero, EncodingJSON, errors.WrapInvalid(errors.ErrDecodeFailed, "Codec", "DecodeData", "empty frame")
	}

	switch frame[0] {
	case markerJSON:
		var df dataFrame
		if err := json.Unmarshal(frame, &df); err != nil {
			return "", zero, EncodingJSON, errors.WrapInvalid(err, "Codec", "DecodeData", "parse JSON frame")
		}
		if df.StreamID == "" {
			return "", zero, EncodingJSON, errors.WrapInvalid(errors.ErrInvalidData,
				"Codec", "DecodeData", "missing stream ID")
		}
		return df.StreamID, df.Point, EncodingJSON, nil
	case markerBinary:
		id, p, err := decodeBinary(frame)
		return id, p, EncodingBinary, err
	case markerBinaryDelta:
		id, p, err := decodeBinaryDelta(frame)
		return id, p, EncodingBinaryDelta, err
	default:
		return "", zero, EncodingJSON, errors.WrapInvalid(errors.ErrUnknownFormat,
			"Codec", "DecodeData", "detect frame marker")
	}
}

// encodeBinary packs a point as fixed-width big-endian fields:
// marker, id length, id, unix-nano timestamp, shape, payload, quality.
func encodeBinary(streamID string, p types.TelemetryDataPoint) []byte {
	buf := make([]byte, 0, 2+len(streamID)+8+2+8)
	buf = append(buf, markerBinary, byte(len(streamID)))
	buf = append(buf, streamID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.Timestamp.UnixNano()))

	switch {
	case len(p.Matrix) > 0:
		buf = append(buf, shapeMatrix)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Matrix)))
		cols := 0
		if len(p.Matrix) > 0 {
			cols = len(p.Matrix[0])
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(cols))
		for _, row := range p.Matrix {
			for _, v := range row {
				buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
			}
		}
	case len(p.Vector) > 0:
		buf = append(buf, shapeVector)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Vector)))
		for _, v := range p.Vector {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
		}
	default:
		buf = append(buf, shapeScalar)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(p.Value))
	}

	buf = append(buf, qualityCodes[p.Quality])
	return buf
}

func decodeBinary(frame []byte) (string, types.TelemetryDataPoint, error) {
	var zero types.TelemetryDataPoint
	r := &reader{buf: frame, pos: 1}

	idLen, err := r.byte()
	if err != nil {
		return "", zero, err
	}
	id, err := r.bytes(int(idLen))
	if err != nil {
		return "", zero, err
	}
	tsBits, err := r.uint64()
	if err != nil {
		return "", zero, err
	}

	p := types.TelemetryDataPoint{Timestamp: time.Unix(0, int64(tsBits)).UTC()}

	shape, err := r.byte()
	if err != nil {
		return "", zero, err
	}
	switch shape {
	case shapeScalar:
		bits, err := r.uint64()
		if err != nil {
			return "", zero, err
		}
		p.Value = math.Float64frombits(bits)
	case shapeVector:
		n, err := r.uint16()
		if err != nil {
			return "", zero, err
		}
		if !r.fits(uint64(n), 8) {
			return "", zero, errTruncated
		}
		p.Vector = make([]float64, n)
		for i := range p.Vector {
			bits, err := r.uint64()
			if err != nil {
				return "", zero, err
			}
			p.Vector[i] = math.Float64frombits(bits)
		}
	case shapeMatrix:
		rows, err := r.uint16()
		if err != nil {
			return "", zero, err
		}
		cols, err := r.uint16()
		if err != nil {
			return "", zero, err
		}
		if !r.fits(uint64(rows)*uint64(cols), 8) {
			return "", zero, errTruncated
		}
		p.Matrix = make([][]float64, rows)
		for i := range p.Matrix {
			p.Matrix[i] = make([]float64, cols)
			for j := range p.Matrix[i] {
				bits, err := r.uint64()
				if err != nil {
					return "", zero, err
				}
				p.Matrix[i][j] = math.Float64frombits(bits)
			}
		}
	default:
		return "", zero, errors.WrapInvalid(errors.ErrDecodeFailed, "Codec", "decodeBinary", "unknown shape")
	}

	q, err := r.byte()
	if err != nil {
		return "", zero, err
	}
	p.Quality = qualityNames[q]

	return string(id), p, nil
}

// encodeBinaryDelta packs a point with varint timestamps (microsecond
// resolution) and float32 values. Smaller than EncodingBinary at the cost
// of value precision; meant for constrained links.
func encodeBinaryDelta(streamID string, p types.TelemetryDataPoint) []byte {
	buf := make([]byte, 0, 2+len(streamID)+10+5)
	buf = append(buf, markerBinaryDelta)
	buf = binary.AppendUvarint(buf, uint64(len(streamID)))
	buf = append(buf, streamID...)
	buf = binary.AppendVarint(buf, p.Timestamp.UnixMicro())

	switch {
	case len(p.Matrix) > 0:
		buf = append(buf, shapeMatrix)
		buf = binary.AppendUvarint(buf, uint64(len(p.Matrix)))
		cols := len(p.Matrix[0])
		buf = binary.AppendUvarint(buf, uint64(cols))
		for _, row := range p.Matrix {
			for _, v := range row {
				buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
		}
	case len(p.Vector) > 0:
		buf = append(buf, shapeVector)
		buf = binary.AppendUvarint(buf, uint64(len(p.Vector)))
		for _, v := range p.Vector {
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		}
	default:
		buf = append(buf, shapeScalar)
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(p.Value)))
	}

	buf = append(buf, qualityCodes[p.Quality])
	return buf
}

func decodeBinaryDelta(frame []byte) (string, types.TelemetryDataPoint, error) {
	var zero types.TelemetryDataPoint
	r := &reader{buf: frame, pos: 1}

	idLen, err := r.uvarint()
	if err != nil {
		return "", zero, err
	}
	id, err := r.bytes(int(idLen))
	if err != nil {
		return "", zero, err
	}
	micros, err := r.varint()
	if err != nil {
		return "", zero, err
	}

	p := types.TelemetryDataPoint{Timestamp: time.UnixMicro(micros).UTC()}

	shape, err := r.byte()
	if err != nil {
		return "", zero, err
	}
	switch shape {
	case shapeScalar:
		v, err := r.float32()
		if err != nil {
			return "", zero, err
		}
		p.Value = float64(v)
	case shapeVector:
		n, err := r.uvarint()
		if err != nil {
			return "", zero, err
		}
		if !r.fits(n, 4) {
			return "", zero, errTruncated
		}
		p.Vector = make([]float64, n)
		for i := range p.Vector {
			v, err := r.float32()
			if err != nil {
				return "", zero, err
			}
			p.Vector[i] = float64(v)
		}
	case shapeMatrix:
		rows, err := r.uvarint()
		if err != nil {
			return "", zero, err
		}
		cols, err := r.uvarint()
		if err != nil {
			return "", zero, err
		}
		// Bound rows alone as well: a zero-cols frame must not force a
		// huge row-header allocation.
		if !r.fits(rows, 1) || (cols != 0 && rows > math.MaxUint64/cols) || !r.fits(rows*cols, 4) {
			return "", zero, errTruncated
		}
		p.Matrix = make([][]float64, rows)
		for i := range p.Matrix {
			p.Matrix[i] = make([]float64, cols)
			for j := range p.Matrix[i] {
				v, err := r.float32()
				if err != nil {
					return "", zero, err
				}
				p.Matrix[i][j] = float64(v)
			}
		}
	default:
		return "", zero, errors.WrapInvalid(errors.ErrDecodeFailed, "Codec", "decodeBinaryDelta", "unknown shape")
	}

	q, err := r.byte()
	if err != nil {
		return "", zero, err
	}
	p.Quality = qualityNames[q]

	return string(id), p, nil
}

// reader is a bounds-checked cursor over a frame.
type reader struct {
	buf []byte
	pos int
}

var errTruncated = errors.WrapInvalid(errors.ErrDecodeFailed, "Codec", "read", "truncated frame")

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, errTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// fits reports whether count elements of size bytes each can still be read
// from the frame. Length fields come off the wire, so every element count is
// checked against the remaining bytes before it sizes an allocation.
func (r *reader) fits(count, size uint64) bool {
	return count <= uint64(len(r.buf)-r.pos)/size
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) float32() (float32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errTruncated
	}
	r.pos += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errTruncated
	}
	r.pos += n
	return v, nil
}
