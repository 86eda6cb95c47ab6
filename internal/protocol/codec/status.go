package codec

import (
	"errors"
	"fmt"
)

// StatusCode is an OPC UA result code. Bad codes double as error values so
// they can be wrapped with %w and recovered with errors.Is or StatusOf.
type StatusCode uint32

const (
	Good StatusCode = 0

	BadUnexpectedError            StatusCode = 0x80010000
	BadInternalError              StatusCode = 0x80020000
	BadCommunicationError         StatusCode = 0x80050000
	BadEncodingError              StatusCode = 0x80060000
	BadDecodingError              StatusCode = 0x80070000
	BadEncodingLimitsExceeded     StatusCode = 0x80080000
	BadUnknownResponse            StatusCode = 0x80090000
	BadTimeout                    StatusCode = 0x800A0000
	BadServiceUnsupported         StatusCode = 0x800B0000
	BadShutdown                   StatusCode = 0x800C0000
	BadNothingToDo                StatusCode = 0x800F0000
	BadSecurityChecksFailed       StatusCode = 0x80130000
	BadSecureChannelIDInvalid     StatusCode = 0x80220000
	BadNonceInvalid               StatusCode = 0x80240000
	BadTimestampsToReturnInvalid  StatusCode = 0x802B0000
	BadNodeIDUnknown              StatusCode = 0x80340000
	BadAttributeIDInvalid         StatusCode = 0x80350000
	BadNotWritable                StatusCode = 0x803B0000
	BadRequestTypeInvalid         StatusCode = 0x80530000
	BadSecurityModeRejected       StatusCode = 0x80540000
	BadSecurityPolicyRejected     StatusCode = 0x80550000
	BadMaxAgeInvalid              StatusCode = 0x80700000
	BadTypeMismatch               StatusCode = 0x80740000
	BadNoSubscription             StatusCode = 0x80790000
	BadTCPMessageTypeInvalid      StatusCode = 0x807E0000
	BadTCPSecureChannelUnknown    StatusCode = 0x807F0000
	BadTCPMessageTooLarge         StatusCode = 0x80800000
	BadTCPEndpointURLInvalid      StatusCode = 0x80830000
	BadRequestInterrupted         StatusCode = 0x80840000
	BadSecureChannelTokenUnknown  StatusCode = 0x80870000
	BadSequenceNumberInvalid      StatusCode = 0x80880000
	BadInvalidArgument            StatusCode = 0x80AB0000
	BadRequestTooLarge            StatusCode = 0x80B80000
	BadResponseTooLarge           StatusCode = 0x80B90000
	BadProtocolVersionUnsupported StatusCode = 0x80BE0000
	BadSecureChannelClosed        StatusCode = 0x80860000
	BadConnectionClosed           StatusCode = 0x80AE0000
	BadServerNotConnected         StatusCode = 0x800D0000
	BadTooManyOperations          StatusCode = 0x80100000
	BadWriteNotSupported          StatusCode = 0x80730000
	BadOutOfRange                 StatusCode = 0x803C0000
	BadNotReadable                StatusCode = 0x803A0000
)

var statusNames = map[StatusCode]string{
	Good:                          "Good",
	BadUnexpectedError:            "BadUnexpectedError",
	BadInternalError:              "BadInternalError",
	BadCommunicationError:         "BadCommunicationError",
	BadEncodingError:              "BadEncodingError",
	BadDecodingError:              "BadDecodingError",
	BadEncodingLimitsExceeded:     "BadEncodingLimitsExceeded",
	BadUnknownResponse:            "BadUnknownResponse",
	BadTimeout:                    "BadTimeout",
	BadServiceUnsupported:         "BadServiceUnsupported",
	BadShutdown:                   "BadShutdown",
	BadNothingToDo:                "BadNothingToDo",
	BadSecurityChecksFailed:       "BadSecurityChecksFailed",
	BadSecureChannelIDInvalid:     "BadSecureChannelIdInvalid",
	BadNonceInvalid:               "BadNonceInvalid",
	BadTimestampsToReturnInvalid:  "BadTimestampsToReturnInvalid",
	BadNodeIDUnknown:              "BadNodeIdUnknown",
	BadAttributeIDInvalid:         "BadAttributeIdInvalid",
	BadNotWritable:                "BadNotWritable",
	BadRequestTypeInvalid:         "BadRequestTypeInvalid",
	BadSecurityModeRejected:       "BadSecurityModeRejected",
	BadSecurityPolicyRejected:     "BadSecurityPolicyRejected",
	BadMaxAgeInvalid:              "BadMaxAgeInvalid",
	BadTypeMismatch:               "BadTypeMismatch",
	BadNoSubscription:             "BadNoSubscription",
	BadTCPMessageTypeInvalid:      "BadTcpMessageTypeInvalid",
	BadTCPSecureChannelUnknown:    "BadTcpSecureChannelUnknown",
	BadTCPMessageTooLarge:         "BadTcpMessageTooLarge",
	BadTCPEndpointURLInvalid:      "BadTcpEndpointUrlInvalid",
	BadRequestInterrupted:         "BadRequestInterrupted",
	BadSecureChannelTokenUnknown:  "BadSecureChannelTokenUnknown",
	BadSequenceNumberInvalid:      "BadSequenceNumberInvalid",
	BadInvalidArgument:            "BadInvalidArgument",
	BadRequestTooLarge:            "BadRequestTooLarge",
	BadResponseTooLarge:           "BadResponseTooLarge",
	BadProtocolVersionUnsupported: "BadProtocolVersionUnsupported",
	BadSecureChannelClosed:        "BadSecureChannelClosed",
	BadConnectionClosed:           "BadConnectionClosed",
	BadServerNotConnected:         "BadServerNotConnected",
	BadTooManyOperations:          "BadTooManyOperations",
	BadWriteNotSupported:          "BadWriteNotSupported",
	BadOutOfRange:                 "BadOutOfRange",
	BadNotReadable:                "BadNotReadable",
}

func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

func (s StatusCode) Error() string { return s.String() }

// IsGood reports whether the severity bits are Good.
func (s StatusCode) IsGood() bool { return s&0xC0000000 == 0 }

// IsBad reports whether the severity bits are Bad.
func (s StatusCode) IsBad() bool { return s&0x80000000 != 0 }

func (s StatusCode) ByteLen() int { return 4 }

func (s StatusCode) EncodeTo(w *Writer) { w.Uint32(uint32(s)) }

func (s *StatusCode) DecodeFrom(r *Reader) { *s = StatusCode(r.Uint32()) }

// StatusOf extracts the status code carried by err. A nil error is Good and
// an error with no status in its chain is BadUnexpectedError.
func StatusOf(err error) StatusCode {
	if err == nil {
		return Good
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc
	}
	return BadUnexpectedError
}

// Errorf wraps a status code with context.
func Errorf(code StatusCode, format string, args ...any) error {
	return fmt.Errorf("%w: %s", code, fmt.Sprintf(format, args...))
}
