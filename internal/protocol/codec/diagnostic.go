package codec

// DiagnosticInfo encoding mask bits.
const (
	DiagnosticSymbolicID          byte = 0x01
	DiagnosticNamespaceURI        byte = 0x02
	DiagnosticLocalizedText       byte = 0x04
	DiagnosticLocale              byte = 0x08
	DiagnosticAdditionalInfo      byte = 0x10
	DiagnosticInnerStatusCode     byte = 0x20
	DiagnosticInnerDiagnosticInfo byte = 0x40
)

// DiagnosticInfo is vendor diagnostic detail. Mask selects the present
// fields; the integer fields index into a response string table.
type DiagnosticInfo struct {
	Mask                byte
	SymbolicID          int32
	NamespaceURI        int32
	Locale              int32
	LocalizedText       int32
	AdditionalInfo      string
	InnerStatusCode     StatusCode
	InnerDiagnosticInfo *DiagnosticInfo
}

func (d DiagnosticInfo) has(bit byte) bool { return d.Mask&bit != 0 }

func (d DiagnosticInfo) ByteLen() int {
	size := 1
	for _, bit := range []byte{DiagnosticSymbolicID, DiagnosticNamespaceURI, DiagnosticLocale, DiagnosticLocalizedText, DiagnosticInnerStatusCode} {
		if d.has(bit) {
			size += 4
		}
	}
	if d.has(DiagnosticAdditionalInfo) {
		size += StringByteLen(d.AdditionalInfo)
	}
	if d.has(DiagnosticInnerDiagnosticInfo) {
		if d.InnerDiagnosticInfo != nil {
			size += d.InnerDiagnosticInfo.ByteLen()
		} else {
			size++
		}
	}
	return size
}

func (d DiagnosticInfo) EncodeTo(w *Writer) {
	w.Byte(d.Mask)
	if d.has(DiagnosticSymbolicID) {
		w.Int32(d.SymbolicID)
	}
	if d.has(DiagnosticNamespaceURI) {
		w.Int32(d.NamespaceURI)
	}
	if d.has(DiagnosticLocale) {
		w.Int32(d.Locale)
	}
	if d.has(DiagnosticLocalizedText) {
		w.Int32(d.LocalizedText)
	}
	if d.has(DiagnosticAdditionalInfo) {
		w.UAString(d.AdditionalInfo)
	}
	if d.has(DiagnosticInnerStatusCode) {
		w.Uint32(uint32(d.InnerStatusCode))
	}
	if d.has(DiagnosticInnerDiagnosticInfo) {
		if d.InnerDiagnosticInfo != nil {
			d.InnerDiagnosticInfo.EncodeTo(w)
		} else {
			w.Byte(0)
		}
	}
}

func (d *DiagnosticInfo) DecodeFrom(r *Reader) {
	if !r.enter() {
		return
	}
	defer r.leave()
	*d = DiagnosticInfo{Mask: r.Byte()}
	if d.has(DiagnosticSymbolicID) {
		d.SymbolicID = r.Int32()
	}
	if d.has(DiagnosticNamespaceURI) {
		d.NamespaceURI = r.Int32()
	}
	if d.has(DiagnosticLocale) {
		d.Locale = r.Int32()
	}
	if d.has(DiagnosticLocalizedText) {
		d.LocalizedText = r.Int32()
	}
	if d.has(DiagnosticAdditionalInfo) {
		d.AdditionalInfo = r.UAString()
	}
	if d.has(DiagnosticInnerStatusCode) {
		d.InnerStatusCode = StatusCode(r.Uint32())
	}
	if d.has(DiagnosticInnerDiagnosticInfo) {
		d.InnerDiagnosticInfo = new(DiagnosticInfo)
		d.InnerDiagnosticInfo.DecodeFrom(r)
	}
}
