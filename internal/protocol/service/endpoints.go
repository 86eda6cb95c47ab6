package service

import "github.com/danmuck/opcuactl/internal/protocol/codec"

type ApplicationDescription struct {
	ApplicationURI      string
	ProductURI          string
	ApplicationName     codec.LocalizedText
	ApplicationType     ApplicationType
	GatewayServerURI    string
	DiscoveryProfileURI string
	DiscoveryURLs       []string
}

func (d ApplicationDescription) ByteLen() int {
	return codec.StringByteLen(d.ApplicationURI) + codec.StringByteLen(d.ProductURI) +
		d.ApplicationName.ByteLen() + 4 + codec.StringByteLen(d.GatewayServerURI) +
		codec.StringByteLen(d.DiscoveryProfileURI) + codec.SliceByteLen(d.DiscoveryURLs, codec.StringByteLen)
}

func (d ApplicationDescription) EncodeTo(w *codec.Writer) {
	w.UAString(d.ApplicationURI)
	w.UAString(d.ProductURI)
	d.ApplicationName.EncodeTo(w)
	w.Int32(int32(d.ApplicationType))
	w.UAString(d.GatewayServerURI)
	w.UAString(d.DiscoveryProfileURI)
	codec.WriteSlice(w, d.DiscoveryURLs, (*codec.Writer).UAString)
}

func (d *ApplicationDescription) DecodeFrom(r *codec.Reader) {
	d.ApplicationURI = r.UAString()
	d.ProductURI = r.UAString()
	d.ApplicationName.DecodeFrom(r)
	d.ApplicationType.decode(r)
	d.GatewayServerURI = r.UAString()
	d.DiscoveryProfileURI = r.UAString()
	d.DiscoveryURLs = codec.ReadSlice(r, (*codec.Reader).UAString)
}

type UserTokenPolicy struct {
	PolicyID          string
	TokenType         UserTokenType
	IssuedTokenType   string
	IssuerEndpointURL string
	SecurityPolicyURI string
}

func (p UserTokenPolicy) ByteLen() int {
	return codec.StringByteLen(p.PolicyID) + 4 + codec.StringByteLen(p.IssuedTokenType) +
		codec.StringByteLen(p.IssuerEndpointURL) + codec.StringByteLen(p.SecurityPolicyURI)
}

func (p UserTokenPolicy) EncodeTo(w *codec.Writer) {
	w.UAString(p.PolicyID)
	w.Int32(int32(p.TokenType))
	w.UAString(p.IssuedTokenType)
	w.UAString(p.IssuerEndpointURL)
	w.UAString(p.SecurityPolicyURI)
}

func (p *UserTokenPolicy) DecodeFrom(r *codec.Reader) {
	p.PolicyID = r.UAString()
	p.TokenType.decode(r)
	p.IssuedTokenType = r.UAString()
	p.IssuerEndpointURL = r.UAString()
	p.SecurityPolicyURI = r.UAString()
}

type EndpointDescription struct {
	EndpointURL         string
	Server              ApplicationDescription
	ServerCertificate   []byte
	SecurityMode        MessageSecurityMode
	SecurityPolicyURI   string
	UserIdentityTokens  []UserTokenPolicy
	TransportProfileURI string
	SecurityLevel       byte
}

func (d EndpointDescription) ByteLen() int {
	return codec.StringByteLen(d.EndpointURL) + d.Server.ByteLen() +
		codec.ByteStringByteLen(d.ServerCertificate) + 4 + codec.StringByteLen(d.SecurityPolicyURI) +
		codec.ArrayByteLen(d.UserIdentityTokens) + codec.StringByteLen(d.TransportProfileURI) + 1
}

func (d EndpointDescription) EncodeTo(w *codec.Writer) {
	w.UAString(d.EndpointURL)
	d.Server.EncodeTo(w)
	w.ByteString(d.ServerCertificate)
	w.Int32(int32(d.SecurityMode))
	w.UAString(d.SecurityPolicyURI)
	codec.WriteArray(w, d.UserIdentityTokens)
	w.UAString(d.TransportProfileURI)
	w.Byte(d.SecurityLevel)
}

func (d *EndpointDescription) DecodeFrom(r *codec.Reader) {
	d.EndpointURL = r.UAString()
	d.Server.DecodeFrom(r)
	d.ServerCertificate = r.ByteString()
	d.SecurityMode.decode(r)
	d.SecurityPolicyURI = r.UAString()
	d.UserIdentityTokens = codec.ReadArray[UserTokenPolicy](r)
	d.TransportProfileURI = r.UAString()
	d.SecurityLevel = r.Byte()
}

type GetEndpointsRequest struct {
	Header      RequestHeader
	EndpointURL string
	LocaleIDs   []string
	ProfileURIs []string
}

func (m *GetEndpointsRequest) EncodingID() uint32            { return IDGetEndpointsRequest }
func (m *GetEndpointsRequest) RequestHeader() *RequestHeader { return &m.Header }

func (m *GetEndpointsRequest) ByteLen() int {
	return m.Header.ByteLen() + codec.StringByteLen(m.EndpointURL) +
		codec.SliceByteLen(m.LocaleIDs, codec.StringByteLen) + codec.SliceByteLen(m.ProfileURIs, codec.StringByteLen)
}

func (m *GetEndpointsRequest) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	w.UAString(m.EndpointURL)
	codec.WriteSlice(w, m.LocaleIDs, (*codec.Writer).UAString)
	codec.WriteSlice(w, m.ProfileURIs, (*codec.Writer).UAString)
}

func (m *GetEndpointsRequest) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.EndpointURL = r.UAString()
	m.LocaleIDs = codec.ReadSlice(r, (*codec.Reader).UAString)
	m.ProfileURIs = codec.ReadSlice(r, (*codec.Reader).UAString)
}

type GetEndpointsResponse struct {
	Header    ResponseHeader
	Endpoints []EndpointDescription
}

func (m *GetEndpointsResponse) EncodingID() uint32              { return IDGetEndpointsResponse }
func (m *GetEndpointsResponse) ResponseHeader() *ResponseHeader { return &m.Header }

func (m *GetEndpointsResponse) ByteLen() int {
	return m.Header.ByteLen() + codec.ArrayByteLen(m.Endpoints)
}

func (m *GetEndpointsResponse) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	codec.WriteArray(w, m.Endpoints)
}

func (m *GetEndpointsResponse) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.Endpoints = codec.ReadArray[EndpointDescription](r)
}
