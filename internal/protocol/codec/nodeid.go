package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// IDType selects which identifier field of a NodeID is meaningful.
type IDType byte

const (
	IDTypeNumeric IDType = iota
	IDTypeString
	IDTypeGuid
	IDTypeOpaque
)

// NodeID encoding bytes.
const (
	nodeIDTwoByte    byte = 0x00
	nodeIDFourByte   byte = 0x01
	nodeIDNumeric    byte = 0x02
	nodeIDString     byte = 0x03
	nodeIDGuid       byte = 0x04
	nodeIDByteString byte = 0x05

	expandedNamespaceURIFlag byte = 0x80
	expandedServerIndexFlag  byte = 0x40
)

// NodeID identifies a node in a server address space.
type NodeID struct {
	Namespace uint16
	Type      IDType
	Numeric   uint32
	Str       string
	Guid      Guid
	Opaque    []byte
}

func NewNumericNodeID(ns uint16, id uint32) NodeID {
	return NodeID{Namespace: ns, Type: IDTypeNumeric, Numeric: id}
}

func NewStringNodeID(ns uint16, id string) NodeID {
	return NodeID{Namespace: ns, Type: IDTypeString, Str: id}
}

func NewGuidNodeID(ns uint16, id Guid) NodeID {
	return NodeID{Namespace: ns, Type: IDTypeGuid, Guid: id}
}

func NewOpaqueNodeID(ns uint16, id []byte) NodeID {
	return NodeID{Namespace: ns, Type: IDTypeOpaque, Opaque: id}
}

// IsNull reports whether n is the numeric node 0 in namespace 0.
func (n NodeID) IsNull() bool {
	return n.Namespace == 0 && n.Type == IDTypeNumeric && n.Numeric == 0
}

// Equal compares identifiers; NodeID holds a slice so == is unavailable.
func (n NodeID) Equal(o NodeID) bool {
	if n.Namespace != o.Namespace || n.Type != o.Type {
		return false
	}
	switch n.Type {
	case IDTypeNumeric:
		return n.Numeric == o.Numeric
	case IDTypeString:
		return n.Str == o.Str
	case IDTypeGuid:
		return n.Guid == o.Guid
	default:
		return bytes.Equal(n.Opaque, o.Opaque)
	}
}

// String renders the standard text form, e.g. "i=2258" or "ns=2;s=abort".
func (n NodeID) String() string {
	var id string
	switch n.Type {
	case IDTypeNumeric:
		id = "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	case IDTypeString:
		id = "s=" + n.Str
	case IDTypeGuid:
		id = "g=" + n.Guid.String()
	default:
		id = "b=" + base64.StdEncoding.EncodeToString(n.Opaque)
	}
	if n.Namespace == 0 {
		return id
	}
	return fmt.Sprintf("ns=%d;%s", n.Namespace, id)
}

// ParseNodeID parses the text form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	var ns uint16
	rest := strings.TrimSpace(s)
	if strings.HasPrefix(rest, "ns=") {
		head, tail, ok := strings.Cut(rest[3:], ";")
		if !ok {
			return NodeID{}, Errorf(BadInvalidArgument, "node id %q: missing identifier", s)
		}
		v, err := strconv.ParseUint(head, 10, 16)
		if err != nil {
			return NodeID{}, Errorf(BadInvalidArgument, "node id %q: namespace: %v", s, err)
		}
		ns = uint16(v)
		rest = tail
	}
	if len(rest) < 2 || rest[1] != '=' {
		return NodeID{}, Errorf(BadInvalidArgument, "node id %q: missing identifier type", s)
	}
	body := rest[2:]
	switch rest[0] {
	case 'i':
		v, err := strconv.ParseUint(body, 10, 32)
		if err != nil {
			return NodeID{}, Errorf(BadInvalidArgument, "node id %q: %v", s, err)
		}
		return NewNumericNodeID(ns, uint32(v)), nil
	case 's':
		return NewStringNodeID(ns, body), nil
	case 'g':
		g, err := ParseGuid(body)
		if err != nil {
			return NodeID{}, err
		}
		return NewGuidNodeID(ns, g), nil
	case 'b':
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return NodeID{}, Errorf(BadInvalidArgument, "node id %q: %v", s, err)
		}
		return NewOpaqueNodeID(ns, b), nil
	}
	return NodeID{}, Errorf(BadInvalidArgument, "node id %q: unknown identifier type %q", s, rest[0])
}

func (n NodeID) encodingByte() byte {
	switch n.Type {
	case IDTypeNumeric:
		switch {
		case n.Namespace == 0 && n.Numeric <= 0xFF:
			return nodeIDTwoByte
		case n.Namespace <= 0xFF && n.Numeric <= 0xFFFF:
			return nodeIDFourByte
		default:
			return nodeIDNumeric
		}
	case IDTypeString:
		return nodeIDString
	case IDTypeGuid:
		return nodeIDGuid
	default:
		return nodeIDByteString
	}
}

func (n NodeID) ByteLen() int {
	switch n.encodingByte() {
	case nodeIDTwoByte:
		return 2
	case nodeIDFourByte:
		return 4
	case nodeIDNumeric:
		return 7
	case nodeIDString:
		return 3 + StringByteLen(n.Str)
	case nodeIDGuid:
		return 3 + 16
	default:
		return 3 + ByteStringByteLen(n.Opaque)
	}
}

func (n NodeID) EncodeTo(w *Writer) { n.encodeWithFlags(w, 0) }

func (n NodeID) encodeWithFlags(w *Writer, flags byte) {
	enc := n.encodingByte()
	w.Byte(enc | flags)
	switch enc {
	case nodeIDTwoByte:
		w.Byte(byte(n.Numeric))
	case nodeIDFourByte:
		w.Byte(byte(n.Namespace))
		w.Uint16(uint16(n.Numeric))
	case nodeIDNumeric:
		w.Uint16(n.Namespace)
		w.Uint32(n.Numeric)
	case nodeIDString:
		w.Uint16(n.Namespace)
		w.UAString(n.Str)
	case nodeIDGuid:
		w.Uint16(n.Namespace)
		n.Guid.EncodeTo(w)
	default:
		w.Uint16(n.Namespace)
		w.ByteString(n.Opaque)
	}
}

func (n *NodeID) DecodeFrom(r *Reader) {
	enc := r.Byte()
	if r.err != nil {
		return
	}
	if enc&(expandedNamespaceURIFlag|expandedServerIndexFlag) != 0 {
		r.Failf(BadDecodingError, "node id encoding 0x%02x carries expanded flags", enc)
		return
	}
	n.decodeBody(r, enc)
}

func (n *NodeID) decodeBody(r *Reader, enc byte) {
	*n = NodeID{}
	switch enc {
	case nodeIDTwoByte:
		n.Numeric = uint32(r.Byte())
	case nodeIDFourByte:
		n.Namespace = uint16(r.Byte())
		n.Numeric = uint32(r.Uint16())
	case nodeIDNumeric:
		n.Namespace = r.Uint16()
		n.Numeric = r.Uint32()
	case nodeIDString:
		n.Type = IDTypeString
		n.Namespace = r.Uint16()
		n.Str = r.UAString()
	case nodeIDGuid:
		n.Type = IDTypeGuid
		n.Namespace = r.Uint16()
		n.Guid.DecodeFrom(r)
	case nodeIDByteString:
		n.Type = IDTypeOpaque
		n.Namespace = r.Uint16()
		n.Opaque = r.ByteString()
	default:
		r.Failf(BadDecodingError, "unknown node id encoding 0x%02x", enc)
	}
}

// ExpandedNodeID is a NodeID that may name its namespace by URI and live on
// another server.
type ExpandedNodeID struct {
	NodeID       NodeID
	NamespaceURI string
	ServerIndex  uint32
}

func (e ExpandedNodeID) flags() byte {
	var flags byte
	if e.NamespaceURI != "" {
		flags |= expandedNamespaceURIFlag
	}
	if e.ServerIndex != 0 {
		flags |= expandedServerIndexFlag
	}
	return flags
}

func (e ExpandedNodeID) ByteLen() int {
	size := e.NodeID.ByteLen()
	if e.NamespaceURI != "" {
		size += StringByteLen(e.NamespaceURI)
	}
	if e.ServerIndex != 0 {
		size += 4
	}
	return size
}

func (e ExpandedNodeID) EncodeTo(w *Writer) {
	e.NodeID.encodeWithFlags(w, e.flags())
	if e.NamespaceURI != "" {
		w.UAString(e.NamespaceURI)
	}
	if e.ServerIndex != 0 {
		w.Uint32(e.ServerIndex)
	}
}

func (e *ExpandedNodeID) DecodeFrom(r *Reader) {
	enc := r.Byte()
	if r.err != nil {
		return
	}
	*e = ExpandedNodeID{}
	e.NodeID.decodeBody(r, enc&^(expandedNamespaceURIFlag|expandedServerIndexFlag))
	if enc&expandedNamespaceURIFlag != 0 {
		e.NamespaceURI = r.UAString()
	}
	if enc&expandedServerIndexFlag != 0 {
		e.ServerIndex = r.Uint32()
	}
}
