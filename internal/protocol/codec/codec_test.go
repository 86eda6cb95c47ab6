package codec

import (
	"bytes"
	"errors"
	"math"
	"runtime"
	"testing"
	"time"
)

func roundTrip[T any, PT interface {
	*T
	Encodable
	Decodable
}](t *testing.T, in T) T {
	t.Helper()
	var buf bytes.Buffer
	n, err := Encode(&buf, PT(&in))
	if err != nil {
		t.Fatalf("encode %T: %v", in, err)
	}
	if n != buf.Len() || n != PT(&in).ByteLen() {
		t.Fatalf("encode %T wrote %d bytes, buffer=%d byte_len=%d", in, n, buf.Len(), PT(&in).ByteLen())
	}
	var out T
	if err := DecodeBytes(buf.Bytes(), DefaultDecodingLimits(), PT(&out)); err != nil {
		t.Fatalf("decode %T: %v", in, err)
	}
	return out
}

func TestScalarsAreLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Uint16(0x0102)
	w.Int32(-2)
	w.Double(1.5)
	if err := w.Err(); err != nil {
		t.Fatalf("write: %v", err)
	}
	want := []byte{0x02, 0x01, 0xfe, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0xf8, 0x3f}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("bytes mismatch: got=% x want=% x", buf.Bytes(), want)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()), DefaultDecodingLimits())
	if got := r.Uint16(); got != 0x0102 {
		t.Fatalf("uint16 mismatch: %#x", got)
	}
	if got := r.Int32(); got != -2 {
		t.Fatalf("int32 mismatch: %d", got)
	}
	if got := r.Double(); got != 1.5 {
		t.Fatalf("double mismatch: %v", got)
	}
	if r.Err() != nil {
		t.Fatalf("read: %v", r.Err())
	}
}

func TestStringNullAndEmptyByteString(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.UAString("")
	w.ByteString(nil)
	w.ByteString([]byte{})
	w.UAString("hé")
	want := []byte{
		0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff,
		0, 0, 0, 0,
		3, 0, 0, 0, 'h', 0xc3, 0xa9,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("bytes mismatch: got=% x want=% x", buf.Bytes(), want)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()), DefaultDecodingLimits())
	if s := r.UAString(); s != "" {
		t.Fatalf("null string decoded as %q", s)
	}
	if b := r.ByteString(); b != nil {
		t.Fatalf("null byte string decoded as %#v", b)
	}
	if b := r.ByteString(); b == nil || len(b) != 0 {
		t.Fatalf("empty byte string decoded as %#v", b)
	}
	if s := r.UAString(); s != "hé" {
		t.Fatalf("string mismatch: %q", s)
	}
}

func TestArrayNullDistinctFromEmpty(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	WriteSlice(w, []uint32(nil), (*Writer).Uint32)
	WriteSlice(w, []uint32{}, (*Writer).Uint32)
	WriteSlice(w, []uint32{7, 8}, (*Writer).Uint32)

	r := NewReader(bytes.NewReader(buf.Bytes()), DefaultDecodingLimits())
	if got := ReadSlice(r, (*Reader).Uint32); got != nil {
		t.Fatalf("null array decoded as %#v", got)
	}
	if got := ReadSlice(r, (*Reader).Uint32); got == nil || len(got) != 0 {
		t.Fatalf("empty array decoded as %#v", got)
	}
	if got := ReadSlice(r, (*Reader).Uint32); len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("array decoded as %#v", got)
	}
}

func TestDecodeLimitsExceeded(t *testing.T) {
	limits := DecodingLimits{MaxArrayLength: 2, MaxStringLength: 3, MaxByteStringLength: 4}

	cases := []struct {
		name string
		in   []byte
		read func(*Reader)
	}{
		{"array", []byte{3, 0, 0, 0}, func(r *Reader) { ReadSlice(r, (*Reader).Byte) }},
		{"string", []byte{4, 0, 0, 0, 'a', 'b', 'c', 'd'}, func(r *Reader) { r.UAString() }},
		{"byte string", []byte{5, 0, 0, 0}, func(r *Reader) { r.ByteString() }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(tc.in), limits)
			tc.read(r)
			if !errors.Is(r.Err(), BadEncodingLimitsExceeded) {
				t.Fatalf("expected BadEncodingLimitsExceeded, got %v", r.Err())
			}
		})
	}
}

func TestNegativeLengthIsDecodingError(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xfe, 0xff, 0xff, 0xff}), DefaultDecodingLimits())
	r.UAString()
	if StatusOf(r.Err()) != BadDecodingError {
		t.Fatalf("expected BadDecodingError, got %v", r.Err())
	}
}

func TestTruncatedInputIsDecodingError(t *testing.T) {
	var n NodeID
	err := Decode(bytes.NewReader([]byte{0x02, 0x01}), DefaultDecodingLimits(), &n)
	if !errors.Is(err, BadDecodingError) {
		t.Fatalf("expected BadDecodingError, got %v", err)
	}
}

func TestEnumOutOfRange(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{9, 0, 0, 0}), DefaultDecodingLimits())
	if v := r.Enum("MessageSecurityMode", 3); v != 0 {
		t.Fatalf("expected zero value on failure, got %d", v)
	}
	if !errors.Is(r.Err(), BadDecodingError) {
		t.Fatalf("expected BadDecodingError, got %v", r.Err())
	}
}

func TestDateTimeTicks(t *testing.T) {
	epoch := time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := DateTimeTicks(epoch); got != 0 {
		t.Fatalf("epoch ticks = %d", got)
	}
	if got := DateTimeTicks(epoch.Add(100 * time.Nanosecond)); got != 1 {
		t.Fatalf("epoch+100ns ticks = %d", got)
	}
	if got := DateTimeTicks(time.Date(1500, time.March, 1, 0, 0, 0, 0, time.UTC)); got != 0 {
		t.Fatalf("pre-epoch ticks = %d", got)
	}
	end := time.Date(9999, time.December, 31, 23, 59, 59, 999_999, time.UTC)
	if got := DateTimeTicks(end); got != math.MaxInt64 {
		t.Fatalf("end of time ticks = %d", got)
	}
	if got := DateTimeTicks(time.Time{}); got != 0 {
		t.Fatalf("zero time ticks = %d", got)
	}

	ts := TimeFromTicks(131279270199860000)
	if got := DateTimeTicks(ts); got != 131279270199860000 {
		t.Fatalf("ticks round trip = %d", got)
	}
	if ts.Year() != 2017 {
		t.Fatalf("unexpected year %d", ts.Year())
	}
}

func TestNodeIDEncodings(t *testing.T) {
	cases := []struct {
		id   NodeID
		want []byte
	}{
		{NewNumericNodeID(0, 72), []byte{0x00, 72}},
		{NewNumericNodeID(5, 1025), []byte{0x01, 5, 0x01, 0x04}},
		{NewNumericNodeID(300, 1), []byte{0x02, 0x2c, 0x01, 1, 0, 0, 0}},
		{NewNumericNodeID(0, 446), []byte{0x01, 0, 0xbe, 0x01}},
		{NewStringNodeID(1, "ab"), []byte{0x03, 1, 0, 2, 0, 0, 0, 'a', 'b'}},
		{NewOpaqueNodeID(2, []byte{9}), []byte{0x05, 2, 0, 1, 0, 0, 0, 9}},
	}
	for _, tc := range cases {
		got, err := EncodeToBytes(tc.id)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.id, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("encode %s: got=% x want=% x", tc.id, got, tc.want)
		}
		out := roundTrip(t, tc.id)
		if !out.Equal(tc.id) {
			t.Fatalf("round trip %s: got %s", tc.id, out)
		}
	}
}

func TestNodeIDTextForm(t *testing.T) {
	for _, s := range []string{"i=2258", "ns=2;s=abort", "ns=1;g=72962b91-fa75-4ae6-8d28-b404dc7daf63", "ns=3;b=AQID"} {
		id, err := ParseNodeID(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if id.String() != s {
			t.Fatalf("text round trip: got %q want %q", id.String(), s)
		}
	}
	if _, err := ParseNodeID("ns=x;i=1"); !errors.Is(err, BadInvalidArgument) {
		t.Fatalf("expected BadInvalidArgument, got %v", err)
	}
}

func TestGuidWireLayout(t *testing.T) {
	g, err := ParseGuid("72962b91-fa75-4ae6-8d28-b404dc7daf63")
	if err != nil {
		t.Fatalf("parse guid: %v", err)
	}
	got, err := EncodeToBytes(g)
	if err != nil {
		t.Fatalf("encode guid: %v", err)
	}
	want := []byte{0x91, 0x2b, 0x96, 0x72, 0x75, 0xfa, 0xe6, 0x4a, 0x8d, 0x28, 0xb4, 0x04, 0xdc, 0x7d, 0xaf, 0x63}
	if !bytes.Equal(got, want) {
		t.Fatalf("guid bytes: got=% x want=% x", got, want)
	}
	if out := roundTrip(t, g); out != g {
		t.Fatalf("guid round trip: %s", out)
	}
}

func TestExpandedNodeIDFlags(t *testing.T) {
	in := ExpandedNodeID{NodeID: NewNumericNodeID(0, 1), NamespaceURI: "urn:x", ServerIndex: 3}
	b, err := EncodeToBytes(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[0] != 0xC0 {
		t.Fatalf("encoding byte = %#x", b[0])
	}
	out := roundTrip(t, in)
	if !out.NodeID.Equal(in.NodeID) || out.NamespaceURI != in.NamespaceURI || out.ServerIndex != in.ServerIndex {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	var plain NodeID
	if err := DecodeBytes(b, DefaultDecodingLimits(), &plain); !errors.Is(err, BadDecodingError) {
		t.Fatalf("plain node id accepted expanded flags: %v", err)
	}
}

func TestLocalizedTextMask(t *testing.T) {
	b, err := EncodeToBytes(LocalizedText{Text: "hi"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[0] != 0x02 || len(b) != 7 {
		t.Fatalf("unexpected encoding % x", b)
	}
	in := LocalizedText{Locale: "en", Text: "hi"}
	if out := roundTrip(t, in); out != in {
		t.Fatalf("round trip: %+v", out)
	}
}

func TestExtensionObjectBody(t *testing.T) {
	in, err := NewBinaryExtensionObject(NewNumericNodeID(0, 999), QualifiedName{NamespaceIndex: 1, Name: "x"})
	if err != nil {
		t.Fatalf("new extension object: %v", err)
	}
	out := roundTrip(t, in)
	var q QualifiedName
	if err := out.DecodeBody(DefaultDecodingLimits(), &q); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if q.Name != "x" || q.NamespaceIndex != 1 {
		t.Fatalf("body mismatch: %+v", q)
	}

	null := roundTrip(t, ExtensionObject{})
	if !null.IsNull() {
		t.Fatalf("expected null extension object, got %+v", null)
	}
}

func TestDataValueMaskOrder(t *testing.T) {
	src := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	in := DataValue{
		Value:             MustVariant(int32(7)),
		Status:            BadNotWritable,
		SourceTimestamp:   src,
		SourcePicoseconds: 10,
		ServerPicoseconds: 20,
	}
	b, err := EncodeToBytes(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[0] != 0x01|0x02|0x04|0x10|0x20 {
		t.Fatalf("mask = %#x", b[0])
	}
	// mask, variant(1+4), status(4), source ts(8), source pico(2), server pico(2)
	if len(b) != 1+5+4+8+2+2 {
		t.Fatalf("length = %d", len(b))
	}
	out := roundTrip(t, in)
	if out.Value.Value != int32(7) || out.Status != BadNotWritable || !out.SourceTimestamp.Equal(src) ||
		out.SourcePicoseconds != 10 || out.ServerPicoseconds != 20 || !out.ServerTimestamp.IsZero() {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestDiagnosticInfoRecursive(t *testing.T) {
	in := DiagnosticInfo{
		Mask:            DiagnosticSymbolicID | DiagnosticAdditionalInfo | DiagnosticInnerStatusCode | DiagnosticInnerDiagnosticInfo,
		SymbolicID:      4,
		AdditionalInfo:  "detail",
		InnerStatusCode: BadTimeout,
		InnerDiagnosticInfo: &DiagnosticInfo{
			Mask:   DiagnosticLocale,
			Locale: 2,
		},
	}
	out := roundTrip(t, in)
	if out.SymbolicID != 4 || out.AdditionalInfo != "detail" || out.InnerStatusCode != BadTimeout {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.InnerDiagnosticInfo == nil || out.InnerDiagnosticInfo.Locale != 2 {
		t.Fatalf("inner mismatch: %+v", out.InnerDiagnosticInfo)
	}
}

func TestNestingDepthLimit(t *testing.T) {
	// Variant arrays of variants, nested deeper than the limit.
	v := MustVariant(int32(1))
	for i := 0; i < 5; i++ {
		v = Variant{Type: TypeVariant, Array: true, Value: []Variant{v}}
	}
	b, err := EncodeToBytes(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out Variant
	err = DecodeBytes(b, DecodingLimits{MaxNestingDepth: 3}, &out)
	if !errors.Is(err, BadEncodingLimitsExceeded) {
		t.Fatalf("expected BadEncodingLimitsExceeded, got %v", err)
	}
	if err := DecodeBytes(b, DefaultDecodingLimits(), &out); err != nil {
		t.Fatalf("decode within limit: %v", err)
	}
}

// declaredArrays is depth nested Variant arrays, each claiming n elements,
// with nothing behind the last length prefix.
func declaredArrays(depth int, n int32) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < depth; i++ {
		w.Byte(byte(TypeVariant) | variantArrayFlag)
		w.Int32(n)
	}
	return buf.Bytes()
}

func allocatedDuring(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestTruncatedArraysDoNotReserveDeclaredLength(t *testing.T) {
	limits := DefaultDecodingLimits()
	b := declaredArrays(60, int32(limits.MaxArrayLength))

	var err error
	allocated := allocatedDuring(func() {
		var out Variant
		err = DecodeBytes(b, limits, &out)
	})
	if !errors.Is(err, BadDecodingError) {
		t.Fatalf("expected BadDecodingError, got %v", err)
	}
	if allocated > 16<<20 {
		t.Fatalf("decoding %d bytes allocated %d bytes", len(b), allocated)
	}

	var slice bytes.Buffer
	w := NewWriter(&slice)
	w.Int32(int32(limits.MaxArrayLength))
	w.Uint32(7)
	allocated = allocatedDuring(func() {
		r := NewReader(bytes.NewReader(slice.Bytes()), limits)
		if got := ReadSlice(r, (*Reader).Uint64); got != nil {
			t.Errorf("expected nil slice on failure, got %d elements", len(got))
		}
		err = r.Err()
	})
	if !errors.Is(err, BadDecodingError) {
		t.Fatalf("expected BadDecodingError, got %v", err)
	}
	if allocated > 256<<10 {
		t.Fatalf("truncated slice allocated %d bytes", allocated)
	}

	var str bytes.Buffer
	w = NewWriter(&str)
	w.Int32(int32(limits.MaxByteStringLength))
	w.Byte('x')
	r := NewReader(bytes.NewReader(str.Bytes()), limits)
	if got := r.ByteString(); got != nil || !errors.Is(r.Err(), BadDecodingError) {
		t.Fatalf("expected failure on short byte string, got %q %v", got, r.Err())
	}
}

func TestDecodedArraysKeepEveryElement(t *testing.T) {
	values := make([]uint32, 3*preallocLimit+7)
	for i := range values {
		values[i] = uint32(i)
	}
	got := roundTripVariant(t, Variant{Type: TypeUint32, Array: true, Value: values})
	out, ok := got.Value.([]uint32)
	if !ok || len(out) != len(values) || out[len(out)-1] != uint32(len(values)-1) {
		t.Fatalf("array not preserved: %T len %d", got.Value, len(out))
	}
	empty := roundTripVariant(t, Variant{Type: TypeUint32, Array: true, Value: []uint32{}})
	if e, ok := empty.Value.([]uint32); !ok || e == nil || len(e) != 0 {
		t.Fatalf("empty array decoded as %#v", empty.Value)
	}
}

func roundTripVariant(t *testing.T, v Variant) Variant {
	t.Helper()
	b, err := EncodeToBytes(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out Variant
	if err := DecodeBytes(b, DefaultDecodingLimits(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestEncodePanicsOnByteLenMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on ByteLen mismatch")
		}
	}()
	_, _ = Encode(&bytes.Buffer{}, lyingEncodable{})
}

type lyingEncodable struct{}

func (lyingEncodable) ByteLen() int { return 3 }

func (lyingEncodable) EncodeTo(w *Writer) { w.Uint32(1) }

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != Good {
		t.Fatalf("nil error should be Good")
	}
	wrapped := Errorf(BadTCPEndpointURLInvalid, "url %q", "http://x")
	if StatusOf(wrapped) != BadTCPEndpointURLInvalid {
		t.Fatalf("wrapped status = %v", StatusOf(wrapped))
	}
	if StatusOf(errors.New("plain")) != BadUnexpectedError {
		t.Fatalf("plain error should map to BadUnexpectedError")
	}
	if !BadTimeout.IsBad() || BadTimeout.IsGood() || !Good.IsGood() {
		t.Fatalf("severity bits misread")
	}
	if BadTimeout.String() != "BadTimeout" || StatusCode(0x80FF0000).String() != "StatusCode(0x80FF0000)" {
		t.Fatalf("unexpected names %q %q", BadTimeout, StatusCode(0x80FF0000))
	}
}
