package service

import "github.com/danmuck/opcuactl/internal/protocol/codec"

// SecurityTokenRequestType selects issuing a new channel or renewing a token.
type SecurityTokenRequestType int32

const (
	SecurityTokenIssue SecurityTokenRequestType = iota
	SecurityTokenRenew
)

func (t SecurityTokenRequestType) String() string {
	if t == SecurityTokenRenew {
		return "Renew"
	}
	return "Issue"
}

func (t *SecurityTokenRequestType) decode(r *codec.Reader) {
	*t = SecurityTokenRequestType(r.Enum("SecurityTokenRequestType", int32(SecurityTokenRenew)))
}

type MessageSecurityMode int32

const (
	SecurityModeInvalid MessageSecurityMode = iota
	SecurityModeNone
	SecurityModeSign
	SecurityModeSignAndEncrypt
)

var securityModeNames = [...]string{"Invalid", "None", "Sign", "SignAndEncrypt"}

func (m MessageSecurityMode) String() string {
	if m >= 0 && int(m) < len(securityModeNames) {
		return securityModeNames[m]
	}
	return "Unknown"
}

func (m *MessageSecurityMode) decode(r *codec.Reader) {
	*m = MessageSecurityMode(r.Enum("MessageSecurityMode", int32(SecurityModeSignAndEncrypt)))
}

type TimestampsToReturn int32

const (
	TimestampsSource TimestampsToReturn = iota
	TimestampsServer
	TimestampsBoth
	TimestampsNeither
	TimestampsInvalid
)

// IncludesSource reports whether source timestamps are requested.
func (t TimestampsToReturn) IncludesSource() bool {
	return t == TimestampsSource || t == TimestampsBoth
}

// IncludesServer reports whether server timestamps are requested.
func (t TimestampsToReturn) IncludesServer() bool {
	return t == TimestampsServer || t == TimestampsBoth
}

func (t *TimestampsToReturn) decode(r *codec.Reader) {
	*t = TimestampsToReturn(r.Enum("TimestampsToReturn", int32(TimestampsInvalid)))
}

type ApplicationType int32

const (
	ApplicationServer ApplicationType = iota
	ApplicationClient
	ApplicationClientAndServer
	ApplicationDiscoveryServer
)

func (t *ApplicationType) decode(r *codec.Reader) {
	*t = ApplicationType(r.Enum("ApplicationType", int32(ApplicationDiscoveryServer)))
}

type UserTokenType int32

const (
	UserTokenAnonymous UserTokenType = iota
	UserTokenUserName
	UserTokenCertificate
	UserTokenIssuedToken
)

func (t *UserTokenType) decode(r *codec.Reader) {
	*t = UserTokenType(r.Enum("UserTokenType", int32(UserTokenIssuedToken)))
}
