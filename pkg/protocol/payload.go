package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Parameter type tags.
const (
	TagString byte = 0x01
	TagInt    byte = 0x02
	TagUint   byte = 0x03
	TagFloat  byte = 0x04
	TagBool   byte = 0x05
	TagBytes  byte = 0x06
)

// Payload header: opcode (2 bytes) + parameter count (2 bytes).
const payloadHeaderSize = 4

var ErrInvalidPayload = errors.New("invalid payload encoding")

// DecodeError reports a failure while reading a payload's parameter
// stream. It identifies the payload's opcode and the index of the
// offending parameter.
type DecodeError struct {
	OpCode uint16
	Index  int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("payload 0x%04x: parameter %d: %s", e.OpCode, e.Index, e.Reason)
}

// Payload is an opcode plus an ordered sequence of typed parameters.
// It is immutable once built: two payloads with identical opcode and
// parameter sequence serialize identically.
type Payload struct {
	opCode uint16
	count  uint16
	params []byte
}

// OpCode returns the payload's operation code.
func (p *Payload) OpCode() uint16 {
	return p.opCode
}

// ParamCount returns the number of parameters in the payload.
func (p *Payload) ParamCount() int {
	return int(p.count)
}

// Encode serializes the payload into a single byte slice.
func (p *Payload) Encode() []byte {
	buf := make([]byte, payloadHeaderSize+len(p.params))
	binary.BigEndian.PutUint16(buf[0:2], p.opCode)
	binary.BigEndian.PutUint16(buf[2:4], p.count)
	copy(buf[payloadHeaderSize:], p.params)
	return buf
}

// DecodePayload deserializes a byte slice produced by Encode. The
// entire parameter stream is structurally validated; trailing or
// truncated bytes fail with ErrInvalidPayload.
func DecodePayload(buf []byte) (*Payload, error) {
	if len(buf) < payloadHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the payload header", ErrInvalidPayload, len(buf))
	}

	p := &Payload{
		opCode: binary.BigEndian.Uint16(buf[0:2]),
		count:  binary.BigEndian.Uint16(buf[2:4]),
		params: buf[payloadHeaderSize:],
	}

	// Walk the parameter stream once to validate structure.
	offset := 0
	for i := 0; i < int(p.count); i++ {
		size, err := paramSize(p.params[offset:])
		if err != nil {
			return nil, &DecodeError{OpCode: p.opCode, Index: i, Reason: err.Error()}
		}
		offset += size
	}
	if offset != len(p.params) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d parameters", ErrInvalidPayload, len(p.params)-offset, p.count)
	}

	return p, nil
}

// paramSize returns the total encoded size of the parameter at the
// start of buf, validating that buf holds all of it.
func paramSize(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, errors.New("parameter stream truncated")
	}

	switch buf[0] {
	case TagString, TagBytes:
		if len(buf) < 5 {
			return 0, errors.New("length prefix truncated")
		}
		n := int(binary.BigEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return 0, fmt.Errorf("declared %d data bytes, only %d present", n, len(buf)-5)
		}
		return 5 + n, nil

	case TagInt, TagUint, TagFloat:
		if len(buf) < 2 {
			return 0, errors.New("width prefix truncated")
		}
		w := int(buf[1])
		if w != 1 && w != 2 && w != 4 && w != 8 {
			return 0, fmt.Errorf("invalid numeric width %d", w)
		}
		if buf[0] == TagFloat && w != 4 && w != 8 {
			return 0, fmt.Errorf("invalid float width %d", w)
		}
		if len(buf) < 2+w {
			return 0, fmt.Errorf("declared %d value bytes, only %d present", w, len(buf)-2)
		}
		return 2 + w, nil

	case TagBool:
		if len(buf) < 2 {
			return 0, errors.New("boolean value truncated")
		}
		return 2, nil

	default:
		return 0, fmt.Errorf("unknown parameter tag 0x%02x", buf[0])
	}
}

// ===== BUILDER =====

// PayloadBuilder accumulates typed parameters in call order and
// produces an immutable Payload.
type PayloadBuilder struct {
	opCode uint16
	count  uint16
	params []byte
}

// NewPayloadBuilder creates a builder for the given opcode. Building
// with zero parameters is legal; opcode-only messages are common.
func NewPayloadBuilder(opCode uint16) *PayloadBuilder {
	return &PayloadBuilder{opCode: opCode}
}

// AddString appends a UTF-8 string parameter.
func (b *PayloadBuilder) AddString(v string) *PayloadBuilder {
	return b.addLengthPrefixed(TagString, []byte(v))
}

// AddBytes appends a raw byte-sequence parameter.
func (b *PayloadBuilder) AddBytes(v []byte) *PayloadBuilder {
	return b.addLengthPrefixed(TagBytes, v)
}

func (b *PayloadBuilder) addLengthPrefixed(tag byte, v []byte) *PayloadBuilder {
	var prefix [5]byte
	prefix[0] = tag
	binary.BigEndian.PutUint32(prefix[1:5], uint32(len(v)))
	b.params = append(b.params, prefix[:]...)
	b.params = append(b.params, v...)
	b.count++
	return b
}

// AddBool appends a boolean parameter.
func (b *PayloadBuilder) AddBool(v bool) *PayloadBuilder {
	val := byte(0)
	if v {
		val = 1
	}
	b.params = append(b.params, TagBool, val)
	b.count++
	return b
}

// AddInt appends a signed integer, stored in the smallest of
// 1/2/4/8 bytes that losslessly represents the value.
func (b *PayloadBuilder) AddInt(v int64) *PayloadBuilder {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.params = append(b.params, TagInt, 1, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		var raw [2]byte
		binary.BigEndian.PutUint16(raw[:], uint16(int16(v)))
		b.params = append(b.params, TagInt, 2)
		b.params = append(b.params, raw[:]...)
	case v >= math.MinInt32 && v <= math.MaxInt32:
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], uint32(int32(v)))
		b.params = append(b.params, TagInt, 4)
		b.params = append(b.params, raw[:]...)
	default:
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], uint64(v))
		b.params = append(b.params, TagInt, 8)
		b.params = append(b.params, raw[:]...)
	}
	b.count++
	return b
}

// AddUint appends an unsigned integer, stored in the smallest of
// 1/2/4/8 bytes that losslessly represents the value.
func (b *PayloadBuilder) AddUint(v uint64) *PayloadBuilder {
	switch {
	case v <= math.MaxUint8:
		b.params = append(b.params, TagUint, 1, byte(v))
	case v <= math.MaxUint16:
		var raw [2]byte
		binary.BigEndian.PutUint16(raw[:], uint16(v))
		b.params = append(b.params, TagUint, 2)
		b.params = append(b.params, raw[:]...)
	case v <= math.MaxUint32:
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], uint32(v))
		b.params = append(b.params, TagUint, 4)
		b.params = append(b.params, raw[:]...)
	default:
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], v)
		b.params = append(b.params, TagUint, 8)
		b.params = append(b.params, raw[:]...)
	}
	b.count++
	return b
}

// AddFloat32 appends a 32-bit IEEE-754 float parameter.
func (b *PayloadBuilder) AddFloat32(v float32) *PayloadBuilder {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], math.Float32bits(v))
	b.params = append(b.params, TagFloat, 4)
	b.params = append(b.params, raw[:]...)
	b.count++
	return b
}

// AddFloat64 appends a 64-bit IEEE-754 double parameter.
func (b *PayloadBuilder) AddFloat64(v float64) *PayloadBuilder {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], math.Float64bits(v))
	b.params = append(b.params, TagFloat, 8)
	b.params = append(b.params, raw[:]...)
	b.count++
	return b
}

// Build produces the final Payload. The builder must not be reused
// afterwards.
func (b *PayloadBuilder) Build() *Payload {
	return &Payload{
		opCode: b.opCode,
		count:  b.count,
		params: b.params,
	}
}

// ===== READER =====

// PayloadReader is a sequential, single-pass cursor over a payload's
// parameter stream. Each Read call consumes exactly one parameter.
type PayloadReader struct {
	payload *Payload
	offset  int
	index   int
}

// NewPayloadReader creates a reader positioned at the first parameter.
func NewPayloadReader(p *Payload) *PayloadReader {
	return &PayloadReader{payload: p}
}

// HasMore reports whether unconsumed parameters remain.
func (r *PayloadReader) HasMore() bool {
	return r.index < int(r.payload.count)
}

func (r *PayloadReader) errorf(format string, args ...interface{}) error {
	return &DecodeError{
		OpCode: r.payload.opCode,
		Index:  r.index,
		Reason: fmt.Sprintf(format, args...),
	}
}

// next returns the tag of the next parameter without consuming it.
func (r *PayloadReader) next() (byte, error) {
	if !r.HasMore() {
		return 0, r.errorf("read past end of parameter stream")
	}
	if r.offset >= len(r.payload.params) {
		return 0, r.errorf("parameter stream truncated")
	}
	return r.payload.params[r.offset], nil
}

// PeekNextParamSize returns the stored byte width of the next
// parameter without consuming it. It is defined only when the next
// parameter is integer-typed.
func (r *PayloadReader) PeekNextParamSize() (int, error) {
	tag, err := r.next()
	if err != nil {
		return 0, err
	}
	if tag != TagInt && tag != TagUint {
		return 0, r.errorf("peek is only defined for integer parameters, next has tag 0x%02x", tag)
	}
	if r.offset+1 >= len(r.payload.params) {
		return 0, r.errorf("width prefix truncated")
	}
	return int(r.payload.params[r.offset+1]), nil
}

// readNumeric consumes a tag+width parameter and returns its raw
// big-endian value bytes.
func (r *PayloadReader) readNumeric(wantDesc string, accept ...byte) ([]byte, error) {
	tag, err := r.next()
	if err != nil {
		return nil, err
	}

	ok := false
	for _, a := range accept {
		if tag == a {
			ok = true
			break
		}
	}
	if !ok {
		return nil, r.errorf("expected %s, found tag 0x%02x", wantDesc, tag)
	}

	if r.offset+2 > len(r.payload.params) {
		return nil, r.errorf("width prefix truncated")
	}
	w := int(r.payload.params[r.offset+1])
	if r.offset+2+w > len(r.payload.params) {
		return nil, r.errorf("value truncated: width %d", w)
	}

	raw := r.payload.params[r.offset+2 : r.offset+2+w]
	r.offset += 2 + w
	r.index++
	return raw, nil
}

// ReadInt reads an integer parameter as signed, determining its width
// from the stream. A parameter stored as unsigned yields the
// two's-complement signed reinterpretation of its bytes.
func (r *PayloadReader) ReadInt() (int64, error) {
	raw, err := r.readNumeric("an integer parameter", TagInt, TagUint)
	if err != nil {
		return 0, err
	}

	switch len(raw) {
	case 1:
		return int64(int8(raw[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(raw))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(raw))), nil
	case 8:
		return int64(binary.BigEndian.Uint64(raw)), nil
	default:
		return 0, r.errorf("invalid integer width %d", len(raw))
	}
}

// ReadUint reads an integer parameter as unsigned, determining its
// width from the stream. A parameter stored as signed yields the
// unsigned reinterpretation of its bit pattern.
func (r *PayloadReader) ReadUint() (uint64, error) {
	raw, err := r.readNumeric("an integer parameter", TagInt, TagUint)
	if err != nil {
		return 0, err
	}

	switch len(raw) {
	case 1:
		return uint64(raw[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(raw)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(raw)), nil
	case 8:
		return binary.BigEndian.Uint64(raw), nil
	default:
		return 0, r.errorf("invalid integer width %d", len(raw))
	}
}

// ReadFloat reads a float parameter of either width (4 or 8 bytes) and
// returns it as a float64.
func (r *PayloadReader) ReadFloat() (float64, error) {
	raw, err := r.readNumeric("a float parameter", TagFloat)
	if err != nil {
		return 0, err
	}

	switch len(raw) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
	default:
		return 0, r.errorf("invalid float width %d", len(raw))
	}
}

// ReadBool reads a boolean parameter.
func (r *PayloadReader) ReadBool() (bool, error) {
	tag, err := r.next()
	if err != nil {
		return false, err
	}
	if tag != TagBool {
		return false, r.errorf("expected a boolean parameter, found tag 0x%02x", tag)
	}
	if r.offset+2 > len(r.payload.params) {
		return false, r.errorf("boolean value truncated")
	}

	v := r.payload.params[r.offset+1]
	r.offset += 2
	r.index++
	return v != 0, nil
}

// ReadString reads a string parameter.
func (r *PayloadReader) ReadString() (string, error) {
	raw, err := r.readLengthPrefixed("a string parameter", TagString)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadBytes reads a raw byte-sequence parameter.
func (r *PayloadReader) ReadBytes() ([]byte, error) {
	raw, err := r.readLengthPrefixed("a bytes parameter", TagBytes)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (r *PayloadReader) readLengthPrefixed(wantDesc string, want byte) ([]byte, error) {
	tag, err := r.next()
	if err != nil {
		return nil, err
	}
	if tag != want {
		return nil, r.errorf("expected %s, found tag 0x%02x", wantDesc, tag)
	}
	if r.offset+5 > len(r.payload.params) {
		return nil, r.errorf("length prefix truncated")
	}

	n := int(binary.BigEndian.Uint32(r.payload.params[r.offset+1 : r.offset+5]))
	if r.offset+5+n > len(r.payload.params) {
		return nil, r.errorf("value truncated: declared %d bytes", n)
	}

	raw := r.payload.params[r.offset+5 : r.offset+5+n]
	r.offset += 5 + n
	r.index++
	return raw, nil
}
