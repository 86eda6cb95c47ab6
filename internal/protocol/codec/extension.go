package codec

// ExtensionObject body encodings.
const (
	ExtensionBodyNone   byte = 0x00
	ExtensionBodyBinary byte = 0x01
	ExtensionBodyXML    byte = 0x02
)

// ExtensionObject carries a structure this stack does not interpret. The body
// is kept as raw bytes tagged with the encoding node of its type.
type ExtensionObject struct {
	TypeID   NodeID
	Encoding byte
	Body     []byte
}

// NewBinaryExtensionObject encodes v as the binary body of typeID.
func NewBinaryExtensionObject(typeID NodeID, v Encodable) (ExtensionObject, error) {
	body, err := EncodeToBytes(v)
	if err != nil {
		return ExtensionObject{}, err
	}
	return ExtensionObject{TypeID: typeID, Encoding: ExtensionBodyBinary, Body: body}, nil
}

// IsNull reports whether the object has no type and no body.
func (e ExtensionObject) IsNull() bool {
	return e.TypeID.IsNull() && e.Encoding == ExtensionBodyNone
}

// DecodeBody decodes a binary body into v.
func (e ExtensionObject) DecodeBody(limits DecodingLimits, v Decodable) error {
	if e.Encoding != ExtensionBodyBinary {
		return Errorf(BadDecodingError, "extension object %s has no binary body", e.TypeID)
	}
	return DecodeBytes(e.Body, limits, v)
}

func (e ExtensionObject) ByteLen() int {
	size := e.TypeID.ByteLen() + 1
	if e.Encoding != ExtensionBodyNone {
		size += 4 + len(e.Body)
	}
	return size
}

func (e ExtensionObject) EncodeTo(w *Writer) {
	if e.Encoding > ExtensionBodyXML {
		w.Fail(Errorf(BadEncodingError, "extension object encoding 0x%02x", e.Encoding))
		return
	}
	e.TypeID.EncodeTo(w)
	w.Byte(e.Encoding)
	if e.Encoding != ExtensionBodyNone {
		w.Int32(int32(len(e.Body)))
		w.Raw(e.Body)
	}
}

func (e *ExtensionObject) DecodeFrom(r *Reader) {
	*e = ExtensionObject{}
	e.TypeID.DecodeFrom(r)
	e.Encoding = r.Byte()
	if r.err != nil {
		return
	}
	switch e.Encoding {
	case ExtensionBodyNone:
	case ExtensionBodyBinary, ExtensionBodyXML:
		n, ok := r.length("extension object body", r.limits.MaxByteStringLength)
		if !ok {
			if r.err == nil {
				r.Failf(BadDecodingError, "extension object body is null")
			}
			return
		}
		e.Body = r.bytes(n)
	default:
		r.Failf(BadDecodingError, "unknown extension object encoding 0x%02x", e.Encoding)
	}
}
