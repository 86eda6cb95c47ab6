package chunk

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
)

// HeaderLen is the UA-TCP header plus the secure channel id.
const HeaderLen = frame.HeaderLen + 4

var (
	ErrNotChunk          = fmt.Errorf("chunk: frame carries no secure channel: %w", codec.BadTCPMessageTypeInvalid)
	ErrShortChunk        = fmt.Errorf("chunk: body shorter than chunk header: %w", codec.BadDecodingError)
	ErrSizeMismatch      = fmt.Errorf("chunk: declared size disagrees with body: %w", codec.BadDecodingError)
	ErrNoChunks          = fmt.Errorf("chunk: no chunks to reassemble: %w", codec.BadInternalError)
	ErrTypeMismatch      = fmt.Errorf("chunk: message type changed within message: %w", codec.BadDecodingError)
	ErrChannelIDMismatch = fmt.Errorf("chunk: secure channel id changed within message: %w", codec.BadSecureChannelIDInvalid)
	ErrChunkOrder        = fmt.Errorf("chunk: final chunk is not last: %w", codec.BadDecodingError)
	ErrAborted           = fmt.Errorf("chunk: message aborted by sender: %w", codec.BadRequestInterrupted)
	ErrRequestIDMismatch = fmt.Errorf("chunk: request id changed within message: %w", codec.BadDecodingError)
	ErrTokenIDMismatch   = fmt.Errorf("chunk: token id changed within message: %w", codec.BadSecureChannelTokenUnknown)
	ErrSequenceNumber    = fmt.Errorf("chunk: sequence number out of order: %w", codec.BadSequenceNumberInvalid)
	ErrTooManyChunks     = fmt.Errorf("chunk: too many chunks: %w", codec.BadTCPMessageTooLarge)
	ErrMessageTooLarge   = fmt.Errorf("chunk: message too large: %w", codec.BadTCPMessageTooLarge)
	ErrChunkSizeTooSmall = fmt.Errorf("chunk: max chunk size leaves no room for a body: %w", codec.BadInternalError)
	ErrTrailingBytes     = fmt.Errorf("chunk: trailing bytes after message: %w", codec.BadDecodingError)
)

// Header is the chunk header.
type Header struct {
	MessageType     frame.MessageType
	ChunkType       byte
	MessageSize     uint32
	SecureChannelID uint32
}

// Chunk is one fragment of a secure channel message.
type Chunk struct {
	Header Header
	Body   []byte
}

// FromFrame reinterprets a channel-carrying frame as a chunk.
func FromFrame(f frame.Frame) (Chunk, error) {
	if !f.Header.MessageType.HasChannel() {
		return Chunk{}, fmt.Errorf("%w: %s", ErrNotChunk, f.Header.MessageType)
	}
	if len(f.Payload) < 4 {
		return Chunk{}, ErrShortChunk
	}
	return Chunk{
		Header: Header{
			MessageType:     f.Header.MessageType,
			ChunkType:       f.Header.ChunkType,
			MessageSize:     f.Header.MessageSize,
			SecureChannelID: binary.LittleEndian.Uint32(f.Payload[0:4]),
		},
		Body: f.Payload[4:],
	}, nil
}

// Parse decodes one complete chunk held in b.
func Parse(b []byte) (Chunk, error) {
	h, err := frame.DecodeHeader(b)
	if err != nil {
		return Chunk{}, err
	}
	if int(h.MessageSize) != len(b) {
		return Chunk{}, fmt.Errorf("%w: header %d, bytes %d", ErrSizeMismatch, h.MessageSize, len(b))
	}
	return FromFrame(frame.Frame{Header: h, Payload: b[frame.HeaderLen:]})
}

// PeerError is an ERR frame received where a chunk was expected. It unwraps
// to the status the peer sent.
type PeerError struct {
	Frame frame.Error
}

func (e *PeerError) Error() string { return e.Frame.Err().Error() }

func (e *PeerError) Unwrap() error { return e.Frame.Code }

// DecodeChunk reads exactly one chunk from r. A short body is a decode error
// and an ERR frame is returned as a *PeerError.
func DecodeChunk(r io.Reader, maxChunkSize uint32) (Chunk, error) {
	f, err := frame.ReadFrame(r, frame.Limits{MaxFrameBytes: maxChunkSize})
	if err != nil {
		return Chunk{}, err
	}
	if f.Header.MessageType == frame.MessageError {
		e, err := frame.DecodeError(f)
		if err != nil {
			return Chunk{}, err
		}
		return Chunk{}, &PeerError{Frame: e}
	}
	return FromFrame(f)
}

// Bytes returns the encoded chunk with MessageSize recomputed.
func (c Chunk) Bytes() []byte {
	buf := make([]byte, HeaderLen+len(c.Body))
	frame.PutHeader(buf, frame.Header{
		MessageType: c.Header.MessageType,
		ChunkType:   c.Header.ChunkType,
		MessageSize: uint32(len(buf)),
	})
	binary.LittleEndian.PutUint32(buf[frame.HeaderLen:HeaderLen], c.Header.SecureChannelID)
	copy(buf[HeaderLen:], c.Body)
	return buf
}

func (c Chunk) Encode(w io.Writer) error {
	_, err := w.Write(c.Bytes())
	return err
}

// IsFinal reports whether c completes its message.
func (c Chunk) IsFinal() bool { return c.Header.ChunkType == frame.ChunkFinal }

// IsAbort reports whether c cancels the message in progress.
func (c Chunk) IsAbort() bool { return c.Header.ChunkType == frame.ChunkAbort }

// WriteChunks writes chunks in order.
func WriteChunks(w io.Writer, chunks []Chunk) error {
	for _, c := range chunks {
		if err := c.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// sizeMismatch reports a chunk whose declared size disagrees with its body.
func (c Chunk) sizeMismatch() error {
	if int(c.Header.MessageSize) != HeaderLen+len(c.Body) {
		return fmt.Errorf("%w: header %d, bytes %d", ErrSizeMismatch, c.Header.MessageSize, HeaderLen+len(c.Body))
	}
	return nil
}
