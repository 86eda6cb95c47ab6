package frame

import (
	"net/url"
	"strings"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

// Buffer size bounds accepted in a HELLO.
const (
	MinBufferSize      uint32 = 8192
	MaxBufferSize      uint32 = 16 * 1024 * 1024
	MaxEndpointURLLen         = 4096
	EndpointURLScheme         = "opc.tcp"
	DefaultEndpointPort       = "4840"
)

// Hello opens a UA-TCP connection.
type Hello struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

func (h Hello) ByteLen() int { return 5*4 + codec.StringByteLen(h.EndpointURL) }

func (h Hello) EncodeTo(w *codec.Writer) {
	w.Uint32(h.ProtocolVersion)
	w.Uint32(h.ReceiveBufferSize)
	w.Uint32(h.SendBufferSize)
	w.Uint32(h.MaxMessageSize)
	w.Uint32(h.MaxChunkCount)
	w.UAString(h.EndpointURL)
}

func (h *Hello) DecodeFrom(r *codec.Reader) {
	h.ProtocolVersion = r.Uint32()
	h.ReceiveBufferSize = r.Uint32()
	h.SendBufferSize = r.Uint32()
	h.MaxMessageSize = r.Uint32()
	h.MaxChunkCount = r.Uint32()
	h.EndpointURL = r.UAString()
}

// Validate checks a HELLO against the server's protocol version.
func (h Hello) Validate(serverProtocolVersion uint32) error {
	if err := ValidateEndpointURL(h.EndpointURL); err != nil {
		return err
	}
	if !bufferSizeValid(h.ReceiveBufferSize) || !bufferSizeValid(h.SendBufferSize) {
		return codec.Errorf(codec.BadCommunicationError, "buffer sizes receive=%d send=%d outside [%d, %d]",
			h.ReceiveBufferSize, h.SendBufferSize, MinBufferSize, MaxBufferSize)
	}
	if h.ProtocolVersion > serverProtocolVersion {
		return codec.Errorf(codec.BadProtocolVersionUnsupported, "client protocol version %d > server %d",
			h.ProtocolVersion, serverProtocolVersion)
	}
	return nil
}

func bufferSizeValid(n uint32) bool { return n >= MinBufferSize && n <= MaxBufferSize }

// ValidateEndpointURL accepts opc.tcp://host[:port][/path] up to MaxEndpointURLLen bytes.
func ValidateEndpointURL(raw string) error {
	if raw == "" || len(raw) > MaxEndpointURLLen {
		return codec.Errorf(codec.BadTCPEndpointURLInvalid, "endpoint url length %d", len(raw))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return codec.Errorf(codec.BadTCPEndpointURLInvalid, "endpoint url %q: %v", raw, err)
	}
	if !strings.EqualFold(u.Scheme, EndpointURLScheme) || u.Hostname() == "" {
		return codec.Errorf(codec.BadTCPEndpointURLInvalid, "endpoint url %q: want %s://host[:port]", raw, EndpointURLScheme)
	}
	return nil
}

// EndpointAddress returns host:port for an endpoint url, defaulting the port.
func EndpointAddress(raw string) (string, error) {
	if err := ValidateEndpointURL(raw); err != nil {
		return "", err
	}
	u, _ := url.Parse(raw)
	port := u.Port()
	if port == "" {
		port = DefaultEndpointPort
	}
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return host + ":" + port, nil
}

// Acknowledge answers a valid HELLO with the server's limits.
type Acknowledge struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

func (a Acknowledge) ByteLen() int { return 5 * 4 }

func (a Acknowledge) EncodeTo(w *codec.Writer) {
	w.Uint32(a.ProtocolVersion)
	w.Uint32(a.ReceiveBufferSize)
	w.Uint32(a.SendBufferSize)
	w.Uint32(a.MaxMessageSize)
	w.Uint32(a.MaxChunkCount)
}

func (a *Acknowledge) DecodeFrom(r *codec.Reader) {
	a.ProtocolVersion = r.Uint32()
	a.ReceiveBufferSize = r.Uint32()
	a.SendBufferSize = r.Uint32()
	a.MaxMessageSize = r.Uint32()
	a.MaxChunkCount = r.Uint32()
}

// Error is the last frame a peer sends before closing on a fatal status.
type Error struct {
	Code   codec.StatusCode
	Reason string
}

func (e Error) ByteLen() int { return 4 + codec.StringByteLen(e.Reason) }

func (e Error) EncodeTo(w *codec.Writer) {
	w.Uint32(uint32(e.Code))
	w.UAString(e.Reason)
}

func (e *Error) DecodeFrom(r *codec.Reader) {
	e.Code = codec.StatusCode(r.Uint32())
	e.Reason = r.UAString()
}

// Err converts a received ERROR frame into an error wrapping its status.
func (e Error) Err() error {
	if e.Reason == "" {
		return codec.Errorf(e.Code, "peer error")
	}
	return codec.Errorf(e.Code, "peer error: %s", e.Reason)
}

func NewHelloFrame(h Hello) (Frame, error)             { return newFrame(MessageHello, h) }
func NewAcknowledgeFrame(a Acknowledge) (Frame, error) { return newFrame(MessageAcknowledge, a) }
func NewErrorFrame(e Error) (Frame, error)             { return newFrame(MessageError, e) }

func DecodeHello(f Frame) (Hello, error) {
	var h Hello
	err := decodePayload(f, MessageHello, &h)
	return h, err
}

func DecodeAcknowledge(f Frame) (Acknowledge, error) {
	var a Acknowledge
	err := decodePayload(f, MessageAcknowledge, &a)
	return a, err
}

func DecodeError(f Frame) (Error, error) {
	var e Error
	err := decodePayload(f, MessageError, &e)
	return e, err
}
