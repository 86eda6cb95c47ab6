package service

import "github.com/danmuck/opcuactl/internal/protocol/codec"

// Attribute ids used by Read and Write.
const (
	AttributeNodeID      uint32 = 1
	AttributeNodeClass   uint32 = 2
	AttributeBrowseName  uint32 = 3
	AttributeDisplayName uint32 = 4
	AttributeDescription uint32 = 5
	AttributeValue       uint32 = 13
	AttributeDataType    uint32 = 14
	AttributeAccessLevel uint32 = 17
)

type ReadValueID struct {
	NodeID       codec.NodeID
	AttributeID  uint32
	IndexRange   string
	DataEncoding codec.QualifiedName
}

func (v ReadValueID) ByteLen() int {
	return v.NodeID.ByteLen() + 4 + codec.StringByteLen(v.IndexRange) + v.DataEncoding.ByteLen()
}

func (v ReadValueID) EncodeTo(w *codec.Writer) {
	v.NodeID.EncodeTo(w)
	w.Uint32(v.AttributeID)
	w.UAString(v.IndexRange)
	v.DataEncoding.EncodeTo(w)
}

func (v *ReadValueID) DecodeFrom(r *codec.Reader) {
	v.NodeID.DecodeFrom(r)
	v.AttributeID = r.Uint32()
	v.IndexRange = r.UAString()
	v.DataEncoding.DecodeFrom(r)
}

type ReadRequest struct {
	Header             RequestHeader
	MaxAge             float64
	TimestampsToReturn TimestampsToReturn
	NodesToRead        []ReadValueID
}

func (m *ReadRequest) EncodingID() uint32            { return IDReadRequest }
func (m *ReadRequest) RequestHeader() *RequestHeader { return &m.Header }

func (m *ReadRequest) ByteLen() int {
	return m.Header.ByteLen() + 8 + 4 + codec.ArrayByteLen(m.NodesToRead)
}

func (m *ReadRequest) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	w.Double(m.MaxAge)
	w.Int32(int32(m.TimestampsToReturn))
	codec.WriteArray(w, m.NodesToRead)
}

func (m *ReadRequest) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.MaxAge = r.Double()
	m.TimestampsToReturn.decode(r)
	m.NodesToRead = codec.ReadArray[ReadValueID](r)
}

type ReadResponse struct {
	Header          ResponseHeader
	Results         []codec.DataValue
	DiagnosticInfos []codec.DiagnosticInfo
}

func (m *ReadResponse) EncodingID() uint32              { return IDReadResponse }
func (m *ReadResponse) ResponseHeader() *ResponseHeader { return &m.Header }

func (m *ReadResponse) ByteLen() int {
	return m.Header.ByteLen() + codec.ArrayByteLen(m.Results) + codec.ArrayByteLen(m.DiagnosticInfos)
}

func (m *ReadResponse) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	codec.WriteArray(w, m.Results)
	codec.WriteArray(w, m.DiagnosticInfos)
}

func (m *ReadResponse) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.Results = codec.ReadArray[codec.DataValue](r)
	m.DiagnosticInfos = codec.ReadArray[codec.DiagnosticInfo](r)
}

type WriteValue struct {
	NodeID      codec.NodeID
	AttributeID uint32
	IndexRange  string
	Value       codec.DataValue
}

func (v WriteValue) ByteLen() int {
	return v.NodeID.ByteLen() + 4 + codec.StringByteLen(v.IndexRange) + v.Value.ByteLen()
}

func (v WriteValue) EncodeTo(w *codec.Writer) {
	v.NodeID.EncodeTo(w)
	w.Uint32(v.AttributeID)
	w.UAString(v.IndexRange)
	v.Value.EncodeTo(w)
}

func (v *WriteValue) DecodeFrom(r *codec.Reader) {
	v.NodeID.DecodeFrom(r)
	v.AttributeID = r.Uint32()
	v.IndexRange = r.UAString()
	v.Value.DecodeFrom(r)
}

type WriteRequest struct {
	Header       RequestHeader
	NodesToWrite []WriteValue
}

func (m *WriteRequest) EncodingID() uint32            { return IDWriteRequest }
func (m *WriteRequest) RequestHeader() *RequestHeader { return &m.Header }
func (m *WriteRequest) ByteLen() int                  { return m.Header.ByteLen() + codec.ArrayByteLen(m.NodesToWrite) }

func (m *WriteRequest) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	codec.WriteArray(w, m.NodesToWrite)
}

func (m *WriteRequest) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.NodesToWrite = codec.ReadArray[WriteValue](r)
}

type WriteResponse struct {
	Header          ResponseHeader
	Results         []codec.StatusCode
	DiagnosticInfos []codec.DiagnosticInfo
}

func (m *WriteResponse) EncodingID() uint32              { return IDWriteResponse }
func (m *WriteResponse) ResponseHeader() *ResponseHeader { return &m.Header }

func (m *WriteResponse) ByteLen() int {
	return m.Header.ByteLen() + codec.ArrayByteLen(m.Results) + codec.ArrayByteLen(m.DiagnosticInfos)
}

func (m *WriteResponse) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	codec.WriteArray(w, m.Results)
	codec.WriteArray(w, m.DiagnosticInfos)
}

func (m *WriteResponse) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.Results = codec.ReadArray[codec.StatusCode](r)
	m.DiagnosticInfos = codec.ReadArray[codec.DiagnosticInfo](r)
}
