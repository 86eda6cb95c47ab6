package chunk

import (
	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

// SecurityPolicyNoneURI is the only security policy this stack implements.
const SecurityPolicyNoneURI = "http://opcfoundation.org/UA/SecurityPolicy#None"

// SecurityHeader is the per-chunk security header: asymmetric on OPN chunks,
// symmetric on MSG and CLO chunks.
type SecurityHeader interface {
	codec.Encodable
	securityHeader()
}

// AsymmetricSecurityHeader names the policy and certificates of an OPN chunk.
type AsymmetricSecurityHeader struct {
	SecurityPolicyURI             string
	SenderCertificate             []byte
	ReceiverCertificateThumbprint []byte
}

// NoneSecurityHeader is the asymmetric header for SecurityPolicy#None.
func NoneSecurityHeader() AsymmetricSecurityHeader {
	return AsymmetricSecurityHeader{SecurityPolicyURI: SecurityPolicyNoneURI}
}

func (AsymmetricSecurityHeader) securityHeader() {}

func (h AsymmetricSecurityHeader) ByteLen() int {
	return codec.StringByteLen(h.SecurityPolicyURI) +
		codec.ByteStringByteLen(h.SenderCertificate) +
		codec.ByteStringByteLen(h.ReceiverCertificateThumbprint)
}

func (h AsymmetricSecurityHeader) EncodeTo(w *codec.Writer) {
	w.UAString(h.SecurityPolicyURI)
	w.ByteString(h.SenderCertificate)
	w.ByteString(h.ReceiverCertificateThumbprint)
}

func (h *AsymmetricSecurityHeader) DecodeFrom(r *codec.Reader) {
	h.SecurityPolicyURI = r.UAString()
	h.SenderCertificate = r.ByteString()
	h.ReceiverCertificateThumbprint = r.ByteString()
}

// CheckPolicy rejects every policy except None.
func (h AsymmetricSecurityHeader) CheckPolicy() error {
	if h.SecurityPolicyURI != SecurityPolicyNoneURI {
		return codec.Errorf(codec.BadSecurityPolicyRejected, "security policy %q", h.SecurityPolicyURI)
	}
	return nil
}

// SymmetricSecurityHeader names the channel token of a MSG or CLO chunk.
type SymmetricSecurityHeader struct {
	TokenID uint32
}

func (SymmetricSecurityHeader) securityHeader() {}

func (h SymmetricSecurityHeader) ByteLen() int { return 4 }

func (h SymmetricSecurityHeader) EncodeTo(w *codec.Writer) { w.Uint32(h.TokenID) }

func (h *SymmetricSecurityHeader) DecodeFrom(r *codec.Reader) { h.TokenID = r.Uint32() }

// SequenceHeader orders chunks and ties them to a request.
type SequenceHeader struct {
	SequenceNumber uint32
	RequestID      uint32
}

func (h SequenceHeader) ByteLen() int { return 8 }

func (h SequenceHeader) EncodeTo(w *codec.Writer) {
	w.Uint32(h.SequenceNumber)
	w.Uint32(h.RequestID)
}

func (h *SequenceHeader) DecodeFrom(r *codec.Reader) {
	h.SequenceNumber = r.Uint32()
	h.RequestID = r.Uint32()
}
