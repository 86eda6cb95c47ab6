package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

// HeaderLen is the size of the UA-TCP message header.
const HeaderLen = 8

// MessageType is the three-letter tag that opens every frame.
type MessageType string

const (
	MessageHello       MessageType = "HEL"
	MessageAcknowledge MessageType = "ACK"
	MessageError       MessageType = "ERR"
	MessageOpen        MessageType = "OPN"
	MessageClose       MessageType = "CLO"
	MessageChunk       MessageType = "MSG"
)

// Chunk types carried in the fourth header byte.
const (
	ChunkFinal        byte = 'F'
	ChunkIntermediate byte = 'C'
	ChunkAbort        byte = 'A'
)

var (
	ErrShortHeader        = errors.New("frame: short header")
	ErrUnknownMessageType = fmt.Errorf("frame: unknown message type: %w", codec.BadTCPMessageTypeInvalid)
	ErrInvalidChunkType   = fmt.Errorf("frame: invalid chunk type: %w", codec.BadTCPMessageTypeInvalid)
	ErrMessageSizeInvalid = fmt.Errorf("frame: message size smaller than header: %w", codec.BadCommunicationError)
	ErrFrameTooLarge      = fmt.Errorf("frame: frame too large: %w", codec.BadTCPMessageTooLarge)
	ErrUnexpectedType     = fmt.Errorf("frame: unexpected message type: %w", codec.BadCommunicationError)
)

// Header is the fixed UA-TCP message header.
type Header struct {
	MessageType MessageType
	ChunkType   byte
	MessageSize uint32
}

// Frame is one complete UA-TCP message: header plus the bytes that follow it.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 65535}
}

func (t MessageType) known() bool {
	switch t {
	case MessageHello, MessageAcknowledge, MessageError, MessageOpen, MessageClose, MessageChunk:
		return true
	}
	return false
}

// HasChannel reports whether frames of this type carry a secure channel id.
func (t MessageType) HasChannel() bool {
	return t == MessageOpen || t == MessageClose || t == MessageChunk
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into the first HeaderLen bytes of b.
func PutHeader(b []byte, h Header) {
	copy(b[0:3], h.MessageType)
	b[3] = h.ChunkType
	binary.LittleEndian.PutUint32(b[4:8], h.MessageSize)
}

// DecodeHeader parses and validates the first HeaderLen bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		MessageType: MessageType(b[0:3]),
		ChunkType:   b[3],
		MessageSize: binary.LittleEndian.Uint32(b[4:8]),
	}
	if !h.MessageType.known() {
		return Header{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, b[0:3])
	}
	switch h.ChunkType {
	case ChunkFinal:
	case ChunkIntermediate, ChunkAbort:
		if !h.MessageType.HasChannel() {
			return Header{}, fmt.Errorf("%w: %c on %s", ErrInvalidChunkType, h.ChunkType, h.MessageType)
		}
	default:
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrInvalidChunkType, h.ChunkType)
	}
	if h.MessageSize < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d", ErrMessageSizeInvalid, h.MessageSize)
	}
	return h, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxFrameBytes > 0 && h.MessageSize > limits.MaxFrameBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.MessageSize, limits.MaxFrameBytes)
	}
	payload := make([]byte, h.MessageSize-HeaderLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("frame: %s body: %w", h.MessageType, errors.Join(err, codec.BadDecodingError))
	}
	return Frame{Header: h, Payload: payload}, nil
}

// Bytes returns the encoded frame with MessageSize recomputed.
func (f Frame) Bytes() []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	h := f.Header
	h.MessageSize = uint32(len(buf))
	PutHeader(buf, h)
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(f.Bytes())
	return err
}

// newFrame encodes payload behind a final header of type t.
func newFrame(t MessageType, payload codec.Encodable) (Frame, error) {
	var buf bytes.Buffer
	if _, err := codec.Encode(&buf, payload); err != nil {
		return Frame{}, err
	}
	return Frame{
		Header:  Header{MessageType: t, ChunkType: ChunkFinal, MessageSize: uint32(HeaderLen + buf.Len())},
		Payload: buf.Bytes(),
	}, nil
}

func decodePayload(f Frame, want MessageType, v codec.Decodable) error {
	if f.Header.MessageType != want {
		return fmt.Errorf("%w: got %s want %s", ErrUnexpectedType, f.Header.MessageType, want)
	}
	return codec.DecodeBytes(f.Payload, codec.DefaultDecodingLimits(), v)
}
