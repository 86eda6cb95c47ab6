package codec

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Guid is a 16-byte identifier. The first three groups are little-endian on
// the wire while the last eight bytes are copied verbatim.
type Guid struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// GuidFromUUID maps an RFC 4122 UUID onto the Guid field layout.
func GuidFromUUID(u uuid.UUID) Guid {
	var g Guid
	g.Data1 = binary.BigEndian.Uint32(u[0:4])
	g.Data2 = binary.BigEndian.Uint16(u[4:6])
	g.Data3 = binary.BigEndian.Uint16(u[6:8])
	copy(g.Data4[:], u[8:16])
	return g
}

// NewGuid returns a random Guid.
func NewGuid() Guid { return GuidFromUUID(uuid.New()) }

// ParseGuid accepts the canonical 8-4-4-4-12 text form.
func ParseGuid(s string) (Guid, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Guid{}, Errorf(BadInvalidArgument, "guid %q: %v", s, err)
	}
	return GuidFromUUID(u), nil
}

func (g Guid) UUID() uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], g.Data1)
	binary.BigEndian.PutUint16(u[4:6], g.Data2)
	binary.BigEndian.PutUint16(u[6:8], g.Data3)
	copy(u[8:16], g.Data4[:])
	return u
}

func (g Guid) String() string { return g.UUID().String() }

func (g Guid) ByteLen() int { return 16 }

func (g Guid) EncodeTo(w *Writer) {
	w.Uint32(g.Data1)
	w.Uint16(g.Data2)
	w.Uint16(g.Data3)
	w.Raw(g.Data4[:])
}

func (g *Guid) DecodeFrom(r *Reader) {
	g.Data1 = r.Uint32()
	g.Data2 = r.Uint16()
	g.Data3 = r.Uint16()
	if b := r.read(8); b != nil {
		copy(g.Data4[:], b)
	}
}
