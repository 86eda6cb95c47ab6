package codec

// QualifiedName is a name qualified by a namespace index.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

func (q QualifiedName) ByteLen() int { return 2 + StringByteLen(q.Name) }

func (q QualifiedName) EncodeTo(w *Writer) {
	w.Uint16(q.NamespaceIndex)
	w.UAString(q.Name)
}

func (q *QualifiedName) DecodeFrom(r *Reader) {
	q.NamespaceIndex = r.Uint16()
	q.Name = r.UAString()
}

const (
	localizedTextLocale byte = 0x01
	localizedTextText   byte = 0x02
)

// LocalizedText is human readable text with an optional locale. Empty fields
// are omitted from the encoding mask.
type LocalizedText struct {
	Locale string
	Text   string
}

func (l LocalizedText) mask() byte {
	var m byte
	if l.Locale != "" {
		m |= localizedTextLocale
	}
	if l.Text != "" {
		m |= localizedTextText
	}
	return m
}

func (l LocalizedText) ByteLen() int {
	size := 1
	if l.Locale != "" {
		size += StringByteLen(l.Locale)
	}
	if l.Text != "" {
		size += StringByteLen(l.Text)
	}
	return size
}

func (l LocalizedText) EncodeTo(w *Writer) {
	w.Byte(l.mask())
	if l.Locale != "" {
		w.UAString(l.Locale)
	}
	if l.Text != "" {
		w.UAString(l.Text)
	}
}

func (l *LocalizedText) DecodeFrom(r *Reader) {
	m := r.Byte()
	*l = LocalizedText{}
	if m&localizedTextLocale != 0 {
		l.Locale = r.UAString()
	}
	if m&localizedTextText != 0 {
		l.Text = r.UAString()
	}
}

// XMLElement is an XML fragment carried as a String.
type XMLElement string

func (x XMLElement) ByteLen() int { return StringByteLen(string(x)) }

func (x XMLElement) EncodeTo(w *Writer) { w.UAString(string(x)) }

func (x *XMLElement) DecodeFrom(r *Reader) { *x = XMLElement(r.UAString()) }
