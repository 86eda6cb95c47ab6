package session

import (
	"strings"

	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/service"
)

// MaxNonceLength bounds the nonce accepted on an unsecured channel.
const MaxNonceLength = 32

// NormalizeSecurityPolicy maps "", "none" or the full None URI to the None
// URI. Any other policy is rejected.
func NormalizeSecurityPolicy(policy string) (string, error) {
	trimmed := strings.TrimSpace(policy)
	switch {
	case trimmed == "", strings.EqualFold(trimmed, "none"), trimmed == chunk.SecurityPolicyNoneURI:
		return chunk.SecurityPolicyNoneURI, nil
	default:
		return "", codec.Errorf(codec.BadSecurityPolicyRejected, "security policy %q", policy)
	}
}

// ValidateSecurityMode accepts MessageSecurityMode None only.
func ValidateSecurityMode(mode service.MessageSecurityMode) error {
	if mode != service.SecurityModeNone {
		return codec.Errorf(codec.BadSecurityModeRejected, "security mode %s", mode)
	}
	return nil
}

// ValidateOpenRequest checks the security parameters of an OPN request.
func ValidateOpenRequest(req *service.OpenSecureChannelRequest) error {
	if err := ValidateSecurityMode(req.SecurityMode); err != nil {
		return err
	}
	if len(req.ClientNonce) > MaxNonceLength {
		return codec.Errorf(codec.BadNonceInvalid, "client nonce of %d bytes", len(req.ClientNonce))
	}
	return nil
}
