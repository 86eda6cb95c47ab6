package service

import (
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

// RequestHeader leads every request body.
type RequestHeader struct {
	AuthenticationToken codec.NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
	AdditionalHeader    codec.ExtensionObject
}

func (h RequestHeader) ByteLen() int {
	return h.AuthenticationToken.ByteLen() + 8 + 4 + 4 +
		codec.StringByteLen(h.AuditEntryID) + 4 + h.AdditionalHeader.ByteLen()
}

func (h RequestHeader) EncodeTo(w *codec.Writer) {
	h.AuthenticationToken.EncodeTo(w)
	w.DateTime(h.Timestamp)
	w.Uint32(h.RequestHandle)
	w.Uint32(h.ReturnDiagnostics)
	w.UAString(h.AuditEntryID)
	w.Uint32(h.TimeoutHint)
	h.AdditionalHeader.EncodeTo(w)
}

func (h *RequestHeader) DecodeFrom(r *codec.Reader) {
	h.AuthenticationToken.DecodeFrom(r)
	h.Timestamp = r.DateTime()
	h.RequestHandle = r.Uint32()
	h.ReturnDiagnostics = r.Uint32()
	h.AuditEntryID = r.UAString()
	h.TimeoutHint = r.Uint32()
	h.AdditionalHeader.DecodeFrom(r)
}

// ResponseHeader leads every response body.
type ResponseHeader struct {
	Timestamp          time.Time
	RequestHandle      uint32
	ServiceResult      codec.StatusCode
	ServiceDiagnostics codec.DiagnosticInfo
	StringTable        []string
	AdditionalHeader   codec.ExtensionObject
}

// NewResponseHeader answers req with result, stamped with the current time.
func NewResponseHeader(req *RequestHeader, result codec.StatusCode) ResponseHeader {
	h := ResponseHeader{Timestamp: time.Now().UTC(), ServiceResult: result}
	if req != nil {
		h.RequestHandle = req.RequestHandle
	}
	return h
}

func (h ResponseHeader) ByteLen() int {
	return 8 + 4 + 4 + h.ServiceDiagnostics.ByteLen() +
		codec.SliceByteLen(h.StringTable, codec.StringByteLen) + h.AdditionalHeader.ByteLen()
}

func (h ResponseHeader) EncodeTo(w *codec.Writer) {
	w.DateTime(h.Timestamp)
	w.Uint32(h.RequestHandle)
	w.Uint32(uint32(h.ServiceResult))
	h.ServiceDiagnostics.EncodeTo(w)
	codec.WriteSlice(w, h.StringTable, (*codec.Writer).UAString)
	h.AdditionalHeader.EncodeTo(w)
}

func (h *ResponseHeader) DecodeFrom(r *codec.Reader) {
	h.Timestamp = r.DateTime()
	h.RequestHandle = r.Uint32()
	h.ServiceResult = codec.StatusCode(r.Uint32())
	h.ServiceDiagnostics.DecodeFrom(r)
	h.StringTable = codec.ReadSlice(r, (*codec.Reader).UAString)
	h.AdditionalHeader.DecodeFrom(r)
}
