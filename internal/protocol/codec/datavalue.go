package codec

import "time"

const (
	dataValueValue             byte = 0x01
	dataValueStatus            byte = 0x02
	dataValueSourceTimestamp   byte = 0x04
	dataValueServerTimestamp   byte = 0x08
	dataValueSourcePicoseconds byte = 0x10
	dataValueServerPicoseconds byte = 0x20
)

// DataValue is a value with quality and timestamps. Zero-valued fields are
// left out of the encoding mask: a null Value, a Good Status, zero times and
// zero picoseconds.
type DataValue struct {
	Value             Variant
	Status            StatusCode
	SourceTimestamp   time.Time
	SourcePicoseconds uint16
	ServerTimestamp   time.Time
	ServerPicoseconds uint16
}

func (d DataValue) mask() byte {
	var m byte
	if !d.Value.IsNull() {
		m |= dataValueValue
	}
	if d.Status != Good {
		m |= dataValueStatus
	}
	if !d.SourceTimestamp.IsZero() {
		m |= dataValueSourceTimestamp
	}
	if d.SourcePicoseconds != 0 {
		m |= dataValueSourcePicoseconds
	}
	if !d.ServerTimestamp.IsZero() {
		m |= dataValueServerTimestamp
	}
	if d.ServerPicoseconds != 0 {
		m |= dataValueServerPicoseconds
	}
	return m
}

func (d DataValue) ByteLen() int {
	m := d.mask()
	size := 1
	if m&dataValueValue != 0 {
		size += d.Value.ByteLen()
	}
	if m&dataValueStatus != 0 {
		size += 4
	}
	if m&dataValueSourceTimestamp != 0 {
		size += 8
	}
	if m&dataValueSourcePicoseconds != 0 {
		size += 2
	}
	if m&dataValueServerTimestamp != 0 {
		size += 8
	}
	if m&dataValueServerPicoseconds != 0 {
		size += 2
	}
	return size
}

func (d DataValue) EncodeTo(w *Writer) {
	m := d.mask()
	w.Byte(m)
	if m&dataValueValue != 0 {
		d.Value.EncodeTo(w)
	}
	if m&dataValueStatus != 0 {
		w.Uint32(uint32(d.Status))
	}
	if m&dataValueSourceTimestamp != 0 {
		w.DateTime(d.SourceTimestamp)
	}
	if m&dataValueSourcePicoseconds != 0 {
		w.Uint16(d.SourcePicoseconds)
	}
	if m&dataValueServerTimestamp != 0 {
		w.DateTime(d.ServerTimestamp)
	}
	if m&dataValueServerPicoseconds != 0 {
		w.Uint16(d.ServerPicoseconds)
	}
}

func (d *DataValue) DecodeFrom(r *Reader) {
	if !r.enter() {
		return
	}
	defer r.leave()
	*d = DataValue{}
	m := r.Byte()
	if m&dataValueValue != 0 {
		d.Value.DecodeFrom(r)
	}
	if m&dataValueStatus != 0 {
		d.Status = StatusCode(r.Uint32())
	}
	if m&dataValueSourceTimestamp != 0 {
		d.SourceTimestamp = r.DateTime()
	}
	if m&dataValueSourcePicoseconds != 0 {
		d.SourcePicoseconds = r.Uint16()
	}
	if m&dataValueServerTimestamp != 0 {
		d.ServerTimestamp = r.DateTime()
	}
	if m&dataValueServerPicoseconds != 0 {
		d.ServerPicoseconds = r.Uint16()
	}
}
