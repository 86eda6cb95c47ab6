package service

import (
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

type OpenSecureChannelRequest struct {
	Header                RequestHeader
	ClientProtocolVersion uint32
	RequestType           SecurityTokenRequestType
	SecurityMode          MessageSecurityMode
	ClientNonce           []byte
	RequestedLifetime     uint32
}

func (m *OpenSecureChannelRequest) EncodingID() uint32            { return IDOpenSecureChannelRequest }
func (m *OpenSecureChannelRequest) RequestHeader() *RequestHeader { return &m.Header }

func (m *OpenSecureChannelRequest) ByteLen() int {
	return m.Header.ByteLen() + 4 + 4 + 4 + codec.ByteStringByteLen(m.ClientNonce) + 4
}

func (m *OpenSecureChannelRequest) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	w.Uint32(m.ClientProtocolVersion)
	w.Int32(int32(m.RequestType))
	w.Int32(int32(m.SecurityMode))
	w.ByteString(m.ClientNonce)
	w.Uint32(m.RequestedLifetime)
}

func (m *OpenSecureChannelRequest) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.ClientProtocolVersion = r.Uint32()
	m.RequestType.decode(r)
	m.SecurityMode.decode(r)
	m.ClientNonce = r.ByteString()
	m.RequestedLifetime = r.Uint32()
}

// ChannelSecurityToken identifies the keys in force on a secure channel.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

func (t ChannelSecurityToken) ByteLen() int { return 4 + 4 + 8 + 4 }

func (t ChannelSecurityToken) EncodeTo(w *codec.Writer) {
	w.Uint32(t.ChannelID)
	w.Uint32(t.TokenID)
	w.DateTime(t.CreatedAt)
	w.Uint32(t.RevisedLifetime)
}

func (t *ChannelSecurityToken) DecodeFrom(r *codec.Reader) {
	t.ChannelID = r.Uint32()
	t.TokenID = r.Uint32()
	t.CreatedAt = r.DateTime()
	t.RevisedLifetime = r.Uint32()
}

type OpenSecureChannelResponse struct {
	Header                ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken         ChannelSecurityToken
	ServerNonce           []byte
}

func (m *OpenSecureChannelResponse) EncodingID() uint32              { return IDOpenSecureChannelResponse }
func (m *OpenSecureChannelResponse) ResponseHeader() *ResponseHeader { return &m.Header }

func (m *OpenSecureChannelResponse) ByteLen() int {
	return m.Header.ByteLen() + 4 + m.SecurityToken.ByteLen() + codec.ByteStringByteLen(m.ServerNonce)
}

func (m *OpenSecureChannelResponse) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	w.Uint32(m.ServerProtocolVersion)
	m.SecurityToken.EncodeTo(w)
	w.ByteString(m.ServerNonce)
}

func (m *OpenSecureChannelResponse) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.ServerProtocolVersion = r.Uint32()
	m.SecurityToken.DecodeFrom(r)
	m.ServerNonce = r.ByteString()
}

type CloseSecureChannelRequest struct {
	Header RequestHeader
}

func (m *CloseSecureChannelRequest) EncodingID() uint32            { return IDCloseSecureChannelRequest }
func (m *CloseSecureChannelRequest) RequestHeader() *RequestHeader { return &m.Header }
func (m *CloseSecureChannelRequest) ByteLen() int                  { return m.Header.ByteLen() }
func (m *CloseSecureChannelRequest) EncodeTo(w *codec.Writer)      { m.Header.EncodeTo(w) }
func (m *CloseSecureChannelRequest) DecodeFrom(r *codec.Reader)    { m.Header.DecodeFrom(r) }

type CloseSecureChannelResponse struct {
	Header ResponseHeader
}

func (m *CloseSecureChannelResponse) EncodingID() uint32              { return IDCloseSecureChannelResponse }
func (m *CloseSecureChannelResponse) ResponseHeader() *ResponseHeader { return &m.Header }
func (m *CloseSecureChannelResponse) ByteLen() int                    { return m.Header.ByteLen() }
func (m *CloseSecureChannelResponse) EncodeTo(w *codec.Writer)        { m.Header.EncodeTo(w) }
func (m *CloseSecureChannelResponse) DecodeFrom(r *codec.Reader)      { m.Header.DecodeFrom(r) }

// ServiceFault answers any request the server could not service.
type ServiceFault struct {
	Header ResponseHeader
}

// NewServiceFault builds a fault for req carrying result.
func NewServiceFault(req *RequestHeader, result codec.StatusCode) *ServiceFault {
	return &ServiceFault{Header: NewResponseHeader(req, result)}
}

func (m *ServiceFault) EncodingID() uint32              { return IDServiceFault }
func (m *ServiceFault) ResponseHeader() *ResponseHeader { return &m.Header }
func (m *ServiceFault) ByteLen() int                    { return m.Header.ByteLen() }
func (m *ServiceFault) EncodeTo(w *codec.Writer)        { m.Header.EncodeTo(w) }
func (m *ServiceFault) DecodeFrom(r *codec.Reader)      { m.Header.DecodeFrom(r) }
