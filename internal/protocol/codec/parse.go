package codec

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// ParseVariant builds a scalar Variant from a type name and its text form.
// Type names follow TypeID.String and are matched case-insensitively.
func ParseVariant(typeName, raw string) (Variant, error) {
	var (
		v   any
		err error
	)
	switch strings.ToLower(strings.TrimSpace(typeName)) {
	case "boolean", "bool":
		v, err = strconv.ParseBool(raw)
	case "sbyte":
		var n int64
		n, err = strconv.ParseInt(raw, 10, 8)
		v = int8(n)
	case "byte":
		var n uint64
		n, err = strconv.ParseUint(raw, 10, 8)
		v = byte(n)
	case "int16":
		var n int64
		n, err = strconv.ParseInt(raw, 10, 16)
		v = int16(n)
	case "uint16":
		var n uint64
		n, err = strconv.ParseUint(raw, 10, 16)
		v = uint16(n)
	case "int32":
		var n int64
		n, err = strconv.ParseInt(raw, 10, 32)
		v = int32(n)
	case "uint32":
		var n uint64
		n, err = strconv.ParseUint(raw, 10, 32)
		v = uint32(n)
	case "int64":
		v, err = strconv.ParseInt(raw, 10, 64)
	case "uint64":
		v, err = strconv.ParseUint(raw, 10, 64)
	case "float":
		var f float64
		f, err = strconv.ParseFloat(raw, 32)
		v = float32(f)
	case "double":
		v, err = strconv.ParseFloat(raw, 64)
	case "string":
		v = raw
	case "datetime":
		v, err = time.Parse(time.RFC3339Nano, raw)
	case "guid":
		v, err = ParseGuid(raw)
	case "bytestring":
		v, err = base64.StdEncoding.DecodeString(raw)
	case "nodeid":
		v, err = ParseNodeID(raw)
	case "localizedtext":
		v = LocalizedText{Text: raw}
	case "qualifiedname":
		v = QualifiedName{Name: raw}
	default:
		return Variant{}, Errorf(BadInvalidArgument, "unsupported variant type %q", typeName)
	}
	if err != nil {
		return Variant{}, Errorf(BadInvalidArgument, "parse %s %q: %v", typeName, raw, err)
	}
	return NewVariant(v)
}
