package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encodable is implemented by every type with a binary form. ByteLen must
// report exactly the number of bytes EncodeTo writes.
type Encodable interface {
	ByteLen() int
	EncodeTo(w *Writer)
}

// Decodable is implemented by pointers to types with a binary form.
type Decodable interface {
	DecodeFrom(r *Reader)
}

// Encode writes v to w and returns the number of bytes written. It panics if
// the written size disagrees with v.ByteLen, which is a programming error in
// the type's codec rather than a runtime condition.
func Encode(w io.Writer, v Encodable) (int, error) {
	ew := NewWriter(w)
	v.EncodeTo(ew)
	if ew.err != nil {
		return ew.n, ew.err
	}
	if want := v.ByteLen(); ew.n != want {
		panic(fmt.Sprintf("codec: %T wrote %d bytes, ByteLen reported %d", v, ew.n, want))
	}
	return ew.n, nil
}

// EncodeToBytes encodes v into a freshly allocated buffer.
func EncodeToBytes(v Encodable) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(v.ByteLen())
	if _, err := Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads v from r under limits.
func Decode(r io.Reader, limits DecodingLimits, v Decodable) error {
	dr := NewReader(r, limits)
	v.DecodeFrom(dr)
	return dr.Err()
}

// DecodeBytes decodes v from b and fails if any bytes are left over.
func DecodeBytes(b []byte, limits DecodingLimits, v Decodable) error {
	br := bytes.NewReader(b)
	if err := Decode(br, limits, v); err != nil {
		return err
	}
	if br.Len() != 0 {
		return Errorf(BadDecodingError, "%d trailing bytes after %T", br.Len(), v)
	}
	return nil
}

// Writer encodes primitives onto an io.Writer.
type Writer struct {
	w       io.Writer
	n       int
	err     error
	scratch [8]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.n }

func (w *Writer) Err() error { return w.err }

// Fail records err unless an earlier failure is already recorded.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += n
	if err != nil {
		w.err = err
	}
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
		return
	}
	w.Byte(0)
}

func (w *Writer) Byte(v byte) {
	w.scratch[0] = v
	w.write(w.scratch[:1])
}

func (w *Writer) SByte(v int8) { w.Byte(byte(v)) }

func (w *Writer) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(w.scratch[:2], v)
	w.write(w.scratch[:2])
}

func (w *Writer) Int16(v int16) { w.Uint16(uint16(v)) }

func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	w.write(w.scratch[:4])
}

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:8], v)
	w.write(w.scratch[:8])
}

func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

func (w *Writer) Float(v float32) { w.Uint32(math.Float32bits(v)) }

func (w *Writer) Double(v float64) { w.Uint64(math.Float64bits(v)) }

// UAString writes a length-prefixed UTF-8 string. The empty string is
// encoded as the null string.
func (w *Writer) UAString(v string) {
	if v == "" {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(v)))
	w.write([]byte(v))
}

// ByteString writes a length-prefixed byte string. A nil slice is null and
// an empty non-nil slice has length zero.
func (w *Writer) ByteString(v []byte) {
	if v == nil {
		w.Int32(-1)
		return
	}
	w.Int32(int32(len(v)))
	w.write(v)
}

// Raw writes b without a length prefix.
func (w *Writer) Raw(b []byte) { w.write(b) }

// StringByteLen is the encoded size of a String.
func StringByteLen(v string) int { return 4 + len(v) }

// ByteStringByteLen is the encoded size of a ByteString.
func ByteStringByteLen(v []byte) int { return 4 + len(v) }

// Reader decodes primitives from an io.Reader under DecodingLimits.
type Reader struct {
	r       io.Reader
	limits  DecodingLimits
	err     error
	depth   int
	scratch [8]byte
}

func NewReader(r io.Reader, limits DecodingLimits) *Reader {
	return &Reader{r: r, limits: limits.WithDefaults()}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) Limits() DecodingLimits { return r.limits }

// Fail records err unless an earlier failure is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Failf records a status-wrapped failure.
func (r *Reader) Failf(code StatusCode, format string, args ...any) {
	r.Fail(Errorf(code, format, args...))
}

func (r *Reader) read(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := r.scratch[:n]
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.Fail(fmt.Errorf("%w: %w", BadDecodingError, err))
		return nil
	}
	return b
}

// enter tracks recursion into nested structures.
func (r *Reader) enter() bool {
	r.depth++
	if r.depth > r.limits.MaxNestingDepth {
		r.Failf(BadEncodingLimitsExceeded, "nesting depth exceeds %d", r.limits.MaxNestingDepth)
		return false
	}
	return true
}

func (r *Reader) leave() { r.depth-- }

func (r *Reader) Bool() bool { return r.Byte() != 0 }

func (r *Reader) Byte() byte {
	b := r.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) SByte() int8 { return int8(r.Byte()) }

func (r *Reader) Uint16() uint16 {
	b := r.read(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Int16() int16 { return int16(r.Uint16()) }

func (r *Reader) Uint32() uint32 {
	b := r.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint64() uint64 {
	b := r.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Float() float32 { return math.Float32frombits(r.Uint32()) }

func (r *Reader) Double() float64 { return math.Float64frombits(r.Uint64()) }

// length reads a length prefix. -1 reports null; other negative values fail.
func (r *Reader) length(kind string, max int) (int, bool) {
	n := r.Int32()
	if r.err != nil {
		return 0, false
	}
	switch {
	case n == -1:
		return 0, false
	case n < -1:
		r.Failf(BadDecodingError, "%s length %d is negative", kind, n)
		return 0, false
	case int(n) > max:
		r.Failf(BadEncodingLimitsExceeded, "%s length %d exceeds limit %d", kind, n, max)
		return 0, false
	}
	return int(n), true
}

func (r *Reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	var buf bytes.Buffer
	buf.Grow(initialCap(n))
	if _, err := io.CopyN(&buf, r.r, int64(n)); err != nil {
		r.Fail(fmt.Errorf("%w: %w", BadDecodingError, err))
		return nil
	}
	return buf.Bytes()
}

// UAString reads a String. Null decodes as the empty string.
func (r *Reader) UAString() string {
	n, ok := r.length("string", r.limits.MaxStringLength)
	if !ok || n == 0 {
		return ""
	}
	return string(r.bytes(n))
}

// ByteString reads a ByteString. Null decodes as nil.
func (r *Reader) ByteString() []byte {
	n, ok := r.length("byte string", r.limits.MaxByteStringLength)
	if !ok {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	return r.bytes(n)
}

// ArrayLength reads an array length prefix. present is false for the null
// array or on failure.
func (r *Reader) ArrayLength() (n int, present bool) {
	return r.length("array", r.limits.MaxArrayLength)
}

// Enum reads an Int32 enumeration and fails if it is outside [0, max].
func (r *Reader) Enum(name string, max int32) int32 {
	v := r.Int32()
	if r.err != nil {
		return 0
	}
	if v < 0 || v > max {
		r.Failf(BadDecodingError, "invalid %s value %d", name, v)
		return 0
	}
	return v
}
