package service

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

// DefaultBinary encoding ids of the supported messages.
const (
	IDServiceFault               uint32 = 397
	IDGetEndpointsRequest        uint32 = 428
	IDGetEndpointsResponse       uint32 = 431
	IDOpenSecureChannelRequest   uint32 = 446
	IDOpenSecureChannelResponse  uint32 = 449
	IDCloseSecureChannelRequest  uint32 = 452
	IDCloseSecureChannelResponse uint32 = 455
	IDReadRequest                uint32 = 631
	IDReadResponse               uint32 = 634
	IDWriteRequest               uint32 = 673
	IDWriteResponse              uint32 = 676
	IDPublishRequest             uint32 = 826
	IDPublishResponse            uint32 = 829
)

var ErrUnsupportedMessage = errors.New("service: unsupported message")

// Message is any encodable service message.
type Message interface {
	codec.Encodable
	codec.Decodable
	EncodingID() uint32
}

// Request is a message sent by a client.
type Request interface {
	Message
	RequestHeader() *RequestHeader
}

// Response is a message sent by a server.
type Response interface {
	Message
	ResponseHeader() *ResponseHeader
}

var registry = map[uint32]func() Message{
	IDServiceFault:               func() Message { return new(ServiceFault) },
	IDGetEndpointsRequest:        func() Message { return new(GetEndpointsRequest) },
	IDGetEndpointsResponse:       func() Message { return new(GetEndpointsResponse) },
	IDOpenSecureChannelRequest:   func() Message { return new(OpenSecureChannelRequest) },
	IDOpenSecureChannelResponse:  func() Message { return new(OpenSecureChannelResponse) },
	IDCloseSecureChannelRequest:  func() Message { return new(CloseSecureChannelRequest) },
	IDCloseSecureChannelResponse: func() Message { return new(CloseSecureChannelResponse) },
	IDReadRequest:                func() Message { return new(ReadRequest) },
	IDReadResponse:               func() Message { return new(ReadResponse) },
	IDWriteRequest:               func() Message { return new(WriteRequest) },
	IDWriteResponse:              func() Message { return new(WriteResponse) },
	IDPublishRequest:             func() Message { return new(PublishRequest) },
	IDPublishResponse:            func() Message { return new(PublishResponse) },
}

// Name returns a short message name for logs and metrics.
func Name(m Message) string {
	switch m.(type) {
	case *ServiceFault:
		return "ServiceFault"
	case *GetEndpointsRequest, *GetEndpointsResponse:
		return "GetEndpoints"
	case *OpenSecureChannelRequest, *OpenSecureChannelResponse:
		return "OpenSecureChannel"
	case *CloseSecureChannelRequest, *CloseSecureChannelResponse:
		return "CloseSecureChannel"
	case *ReadRequest, *ReadResponse:
		return "Read"
	case *WriteRequest, *WriteResponse:
		return "Write"
	case *PublishRequest, *PublishResponse:
		return "Publish"
	}
	return fmt.Sprintf("%T", m)
}

// Envelope prefixes a message with its encoding NodeId.
type Envelope struct {
	Message Message
}

func (e Envelope) typeID() codec.NodeID {
	return codec.NewNumericNodeID(0, e.Message.EncodingID())
}

func (e Envelope) ByteLen() int { return e.typeID().ByteLen() + e.Message.ByteLen() }

func (e Envelope) EncodeTo(w *codec.Writer) {
	e.typeID().EncodeTo(w)
	e.Message.EncodeTo(w)
}

// UnsupportedError reports a well-formed message whose encoding id has no
// registered type. Header is set when a request header could be decoded
// after the id, so the peer can be answered with a ServiceFault.
type UnsupportedError struct {
	TypeID codec.NodeID
	Header *RequestHeader
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("service: unsupported message %s", e.TypeID)
}

func (e *UnsupportedError) Unwrap() []error {
	return []error{ErrUnsupportedMessage, codec.BadServiceUnsupported}
}

// EncodeMessage writes the encoding NodeId of msg followed by its body.
func EncodeMessage(w io.Writer, msg Message) (int, error) {
	return codec.Encode(w, Envelope{Message: msg})
}

// DecodeMessage reads an encoding NodeId and the message body it names.
func DecodeMessage(r io.Reader, limits codec.DecodingLimits) (Message, error) {
	cr := codec.NewReader(r, limits)
	var id codec.NodeID
	id.DecodeFrom(cr)
	if err := cr.Err(); err != nil {
		return nil, err
	}
	ctor, ok := registry[id.Numeric]
	if !ok || id.Namespace != 0 || id.Type != codec.IDTypeNumeric {
		var h RequestHeader
		h.DecodeFrom(cr)
		if cr.Err() != nil {
			return nil, &UnsupportedError{TypeID: id}
		}
		return nil, &UnsupportedError{TypeID: id, Header: &h}
	}
	msg := ctor()
	msg.DecodeFrom(cr)
	if err := cr.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Name(msg), err)
	}
	return msg, nil
}
