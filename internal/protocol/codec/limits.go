package codec

// DecodingLimits bounds what a Reader accepts from the wire.
type DecodingLimits struct {
	MaxArrayLength      int
	MaxStringLength     int
	MaxByteStringLength int
	MaxNestingDepth     int
}

func DefaultDecodingLimits() DecodingLimits {
	return DecodingLimits{
		MaxArrayLength:      100000,
		MaxStringLength:     65536,
		MaxByteStringLength: 65536,
		MaxNestingDepth:     64,
	}
}

// WithDefaults fills zero fields from DefaultDecodingLimits.
func (l DecodingLimits) WithDefaults() DecodingLimits {
	d := DefaultDecodingLimits()
	if l.MaxArrayLength <= 0 {
		l.MaxArrayLength = d.MaxArrayLength
	}
	if l.MaxStringLength <= 0 {
		l.MaxStringLength = d.MaxStringLength
	}
	if l.MaxByteStringLength <= 0 {
		l.MaxByteStringLength = d.MaxByteStringLength
	}
	if l.MaxNestingDepth <= 0 {
		l.MaxNestingDepth = d.MaxNestingDepth
	}
	return l
}
