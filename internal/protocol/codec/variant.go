package codec

import (
	"fmt"
	"time"
)

// TypeID is the built-in type identifier carried in a Variant mask.
type TypeID byte

const (
	TypeNull TypeID = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeGuid
	TypeByteString
	TypeXMLElement
	TypeNodeID
	TypeExpandedNodeID
	TypeStatusCode
	TypeQualifiedName
	TypeLocalizedText
	TypeExtensionObject
	TypeDataValue
	TypeVariant
	TypeDiagnosticInfo
)

const (
	variantTypeMask       byte = 0x3F
	variantDimensionsFlag byte = 0x40
	variantArrayFlag      byte = 0x80
)

var typeNames = [...]string{
	"Null", "Boolean", "SByte", "Byte", "Int16", "UInt16", "Int32", "UInt32",
	"Int64", "UInt64", "Float", "Double", "String", "DateTime", "Guid",
	"ByteString", "XmlElement", "NodeId", "ExpandedNodeId", "StatusCode",
	"QualifiedName", "LocalizedText", "ExtensionObject", "DataValue",
	"Variant", "DiagnosticInfo",
}

func (t TypeID) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TypeID(%d)", byte(t))
}

// Variant is a tagged value of any built-in type. Scalars hold the Go type
// listed by NewVariant; arrays hold a slice of it with Array set. Dimensions
// is only meaningful for arrays and is omitted when nil.
type Variant struct {
	Type       TypeID
	Array      bool
	Value      any
	Dimensions []int32
}

// NewVariant wraps a Go value. []byte is a ByteString scalar; a Byte array
// must be built as Variant{Type: TypeByte, Array: true, Value: b}.
func NewVariant(v any) (Variant, error) {
	if v == nil {
		return Variant{}, nil
	}
	if b, ok := v.([]byte); ok {
		return Variant{Type: TypeByteString, Value: b}, nil
	}
	for t := TypeBoolean; t <= TypeDiagnosticInfo; t++ {
		c := &variantCodecs[t]
		if t != TypeVariant && c.holds(v, false) {
			return Variant{Type: t, Value: v}, nil
		}
		if t != TypeByte && c.holds(v, true) {
			return Variant{Type: t, Array: true, Value: v}, nil
		}
	}
	return Variant{}, Errorf(BadTypeMismatch, "no variant type for %T", v)
}

// MustVariant is NewVariant for values known to be supported.
func MustVariant(v any) Variant {
	out, err := NewVariant(v)
	if err != nil {
		panic(err)
	}
	return out
}

// IsNull reports whether the variant carries no value.
func (v Variant) IsNull() bool { return v.Type == TypeNull }

func (v Variant) valid() bool {
	if v.Type > TypeDiagnosticInfo {
		return false
	}
	if v.Type == TypeNull {
		return v.Value == nil
	}
	if v.Type == TypeVariant && !v.Array {
		return false
	}
	return variantCodecs[v.Type].holds(v.Value, v.Array)
}

func (v Variant) mask() byte {
	m := byte(v.Type)
	if v.Array {
		m |= variantArrayFlag
		if v.Dimensions != nil {
			m |= variantDimensionsFlag
		}
	}
	return m
}

func (v Variant) ByteLen() int {
	if v.Type == TypeNull || !v.valid() {
		return 1
	}
	c := &variantCodecs[v.Type]
	if !v.Array {
		return 1 + c.scalarLen(v.Value)
	}
	size := 1 + 4 + c.arrayLen(v.Value)
	if v.Dimensions != nil {
		size += SliceByteLen(v.Dimensions, FixedSize[int32](4))
	}
	return size
}

func (v Variant) EncodeTo(w *Writer) {
	if !v.valid() {
		w.Fail(Errorf(BadEncodingError, "variant type %s does not hold %T (array=%t)", v.Type, v.Value, v.Array))
		return
	}
	w.Byte(v.mask())
	if v.Type == TypeNull {
		return
	}
	c := &variantCodecs[v.Type]
	if !v.Array {
		c.encodeScalar(w, v.Value)
		return
	}
	c.encodeArray(w, v.Value)
	if v.Dimensions != nil {
		WriteSlice(w, v.Dimensions, (*Writer).Int32)
	}
}

func (v *Variant) DecodeFrom(r *Reader) {
	if !r.enter() {
		return
	}
	defer r.leave()
	*v = Variant{}
	m := r.Byte()
	if r.err != nil {
		return
	}
	t := TypeID(m & variantTypeMask)
	if t > TypeDiagnosticInfo {
		r.Failf(BadDecodingError, "unknown variant type %d", t)
		return
	}
	array := m&variantArrayFlag != 0
	if t == TypeNull {
		return
	}
	if t == TypeVariant && !array {
		r.Failf(BadDecodingError, "scalar variant nested in variant")
		return
	}
	c := &variantCodecs[t]
	v.Type = t
	v.Array = array
	if !array {
		v.Value = c.decodeScalar(r)
		return
	}
	n, ok := r.ArrayLength()
	if r.err != nil {
		return
	}
	if !ok {
		n = -1
	}
	v.Value = c.decodeArray(r, n)
	if m&variantDimensionsFlag != 0 {
		v.Dimensions = ReadSlice(r, (*Reader).Int32)
	}
}

// variantCodec erases the element type of one built-in for Variant.
type variantCodec struct {
	holds        func(v any, array bool) bool
	scalarLen    func(v any) int
	arrayLen     func(v any) int
	encodeScalar func(w *Writer, v any)
	encodeArray  func(w *Writer, v any)
	decodeScalar func(r *Reader) any
	decodeArray  func(r *Reader, n int) any
}

func codecFor[T any](size func(T) int, enc func(*Writer, T), dec func(*Reader) T) variantCodec {
	return variantCodec{
		holds: func(v any, array bool) bool {
			if array {
				_, ok := v.([]T)
				return ok
			}
			_, ok := v.(T)
			return ok
		},
		scalarLen: func(v any) int { return size(v.(T)) },
		arrayLen: func(v any) int {
			total := 0
			for _, e := range v.([]T) {
				total += size(e)
			}
			return total
		},
		encodeScalar: func(w *Writer, v any) { enc(w, v.(T)) },
		encodeArray: func(w *Writer, v any) {
			values := v.([]T)
			if values == nil {
				w.Int32(-1)
				return
			}
			w.Int32(int32(len(values)))
			for _, e := range values {
				enc(w, e)
			}
		},
		decodeScalar: func(r *Reader) any { return dec(r) },
		decodeArray: func(r *Reader, n int) any {
			if n < 0 {
				return []T(nil)
			}
			out := make([]T, 0, initialCap(n))
			for i := 0; i < n; i++ {
				v := dec(r)
				if r.err != nil {
					break
				}
				out = append(out, v)
			}
			return out
		},
	}
}

func structCodec[T Encodable, PT interface {
	*T
	Decodable
}]() variantCodec {
	return codecFor(
		func(v T) int { return v.ByteLen() },
		func(w *Writer, v T) { v.EncodeTo(w) },
		func(r *Reader) T {
			var v T
			PT(&v).DecodeFrom(r)
			return v
		},
	)
}

var variantCodecs [TypeDiagnosticInfo + 1]variantCodec

// Populated in init because DataValue and Variant refer back to this table.
func init() {
	variantCodecs = [...]variantCodec{
		TypeNull:            {holds: func(v any, _ bool) bool { return v == nil }},
		TypeBoolean:         codecFor(FixedSize[bool](1), (*Writer).Bool, (*Reader).Bool),
		TypeSByte:           codecFor(FixedSize[int8](1), (*Writer).SByte, (*Reader).SByte),
		TypeByte:            codecFor(FixedSize[byte](1), (*Writer).Byte, (*Reader).Byte),
		TypeInt16:           codecFor(FixedSize[int16](2), (*Writer).Int16, (*Reader).Int16),
		TypeUint16:          codecFor(FixedSize[uint16](2), (*Writer).Uint16, (*Reader).Uint16),
		TypeInt32:           codecFor(FixedSize[int32](4), (*Writer).Int32, (*Reader).Int32),
		TypeUint32:          codecFor(FixedSize[uint32](4), (*Writer).Uint32, (*Reader).Uint32),
		TypeInt64:           codecFor(FixedSize[int64](8), (*Writer).Int64, (*Reader).Int64),
		TypeUint64:          codecFor(FixedSize[uint64](8), (*Writer).Uint64, (*Reader).Uint64),
		TypeFloat:           codecFor(FixedSize[float32](4), (*Writer).Float, (*Reader).Float),
		TypeDouble:          codecFor(FixedSize[float64](8), (*Writer).Double, (*Reader).Double),
		TypeString:          codecFor(StringByteLen, (*Writer).UAString, (*Reader).UAString),
		TypeDateTime:        codecFor(FixedSize[time.Time](8), (*Writer).DateTime, (*Reader).DateTime),
		TypeGuid:            structCodec[Guid](),
		TypeByteString:      codecFor(ByteStringByteLen, (*Writer).ByteString, (*Reader).ByteString),
		TypeXMLElement:      structCodec[XMLElement](),
		TypeNodeID:          structCodec[NodeID](),
		TypeExpandedNodeID:  structCodec[ExpandedNodeID](),
		TypeStatusCode:      structCodec[StatusCode](),
		TypeQualifiedName:   structCodec[QualifiedName](),
		TypeLocalizedText:   structCodec[LocalizedText](),
		TypeExtensionObject: structCodec[ExtensionObject](),
		TypeDataValue:       structCodec[DataValue](),
		TypeVariant:         structCodec[Variant](),
		TypeDiagnosticInfo:  structCodec[DiagnosticInfo](),
	}
}
