package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
)

// Sequence numbers past this value may wrap to anything below 1024.
const sequenceWrapThreshold = math.MaxUint32 - 1024

// Limits bounds one direction of a secure channel. Zero means unlimited.
type Limits struct {
	MaxChunkSize   uint32
	MaxChunkCount  uint32
	MaxMessageSize uint32
	Decoding       codec.DecodingLimits
}

func DefaultLimits() Limits {
	return Limits{
		MaxChunkSize:   32768,
		MaxChunkCount:  1,
		MaxMessageSize: 16384,
		Decoding:       codec.DefaultDecodingLimits(),
	}
}

// Message is a reassembled secure channel message.
type Message struct {
	MessageType     frame.MessageType
	SecureChannelID uint32
	SecurityHeader  SecurityHeader
	SequenceHeader  SequenceHeader
	Body            service.Message
}

// TokenID returns the symmetric token id, or 0 for OPN messages.
func (m Message) TokenID() uint32 {
	if h, ok := m.SecurityHeader.(SymmetricSecurityHeader); ok {
		return h.TokenID
	}
	return 0
}

// Chunker splits outgoing messages into chunks and reassembles incoming
// ones. It owns the sequence numbers of one connection and is not safe for
// concurrent use from more than one sender and one receiver.
type Chunker struct {
	send    Limits
	receive Limits
	sendSeq uint32
	recvSeq uint32
}

func NewChunker(limits Limits) *Chunker {
	return &Chunker{send: limits, receive: limits}
}

// Negotiate replaces the limits after the HELLO/ACK exchange.
func (c *Chunker) Negotiate(send, receive Limits) {
	c.send = send
	c.receive = receive
}

func (c *Chunker) SendLimits() Limits    { return c.send }
func (c *Chunker) ReceiveLimits() Limits { return c.receive }

func (c *Chunker) nextSequence() uint32 {
	if c.sendSeq >= sequenceWrapThreshold {
		c.sendSeq = 0
	}
	c.sendSeq++
	return c.sendSeq
}

// Encode splits msg into chunks of messageType on channelID.
func (c *Chunker) Encode(messageType frame.MessageType, channelID uint32, security SecurityHeader, requestID uint32, msg service.Message) ([]Chunk, error) {
	if !messageType.HasChannel() {
		return nil, fmt.Errorf("%w: %s", ErrNotChunk, messageType)
	}
	body, err := codec.EncodeToBytes(service.Envelope{Message: msg})
	if err != nil {
		return nil, err
	}
	if c.send.MaxMessageSize > 0 && uint32(len(body)) > c.send.MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(body), c.send.MaxMessageSize)
	}
	sec, err := codec.EncodeToBytes(security)
	if err != nil {
		return nil, err
	}

	perChunk := len(body)
	if c.send.MaxChunkSize > 0 {
		perChunk = int(c.send.MaxChunkSize) - HeaderLen - len(sec) - 8
		if perChunk <= 0 {
			return nil, ErrChunkSizeTooSmall
		}
	}
	count := 1
	if perChunk > 0 && len(body) > perChunk {
		count = (len(body) + perChunk - 1) / perChunk
	}
	if c.send.MaxChunkCount > 0 && uint32(count) > c.send.MaxChunkCount {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyChunks, count, c.send.MaxChunkCount)
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		part := body
		if count > 1 {
			end := min((i+1)*perChunk, len(body))
			part = body[i*perChunk : end]
		}
		var buf bytes.Buffer
		buf.Grow(len(sec) + 8 + len(part))
		buf.Write(sec)
		seq := SequenceHeader{SequenceNumber: c.nextSequence(), RequestID: requestID}
		if _, err := codec.Encode(&buf, seq); err != nil {
			return nil, err
		}
		buf.Write(part)

		chunkType := frame.ChunkIntermediate
		if i == count-1 {
			chunkType = frame.ChunkFinal
		}
		chunks = append(chunks, Chunk{
			Header: Header{
				MessageType:     messageType,
				ChunkType:       chunkType,
				MessageSize:     uint32(HeaderLen + buf.Len()),
				SecureChannelID: channelID,
			},
			Body: buf.Bytes(),
		})
	}
	return chunks, nil
}

// Reassemble verifies the chunks of one message and decodes it. When the
// body names an unsupported service, the returned Message still carries the
// headers so the caller can answer with a fault.
func (c *Chunker) Reassemble(chunks []Chunk) (Message, error) {
	if len(chunks) == 0 {
		return Message{}, ErrNoChunks
	}
	if c.receive.MaxChunkCount > 0 && uint32(len(chunks)) > c.receive.MaxChunkCount {
		return Message{}, fmt.Errorf("%w: %d > %d", ErrTooManyChunks, len(chunks), c.receive.MaxChunkCount)
	}

	first := chunks[0].Header
	msg := Message{MessageType: first.MessageType, SecureChannelID: first.SecureChannelID}
	var body bytes.Buffer
	for i, ch := range chunks {
		h := ch.Header
		last := i == len(chunks)-1
		switch {
		case h.MessageType != first.MessageType:
			return msg, fmt.Errorf("%w: %s then %s", ErrTypeMismatch, first.MessageType, h.MessageType)
		case h.SecureChannelID != first.SecureChannelID:
			return msg, fmt.Errorf("%w: %d then %d", ErrChannelIDMismatch, first.SecureChannelID, h.SecureChannelID)
		case h.ChunkType == frame.ChunkAbort:
			return msg, ErrAborted
		case h.ChunkType == frame.ChunkFinal && !last, h.ChunkType == frame.ChunkIntermediate && last:
			return msg, fmt.Errorf("%w: chunk %d of %d is %c", ErrChunkOrder, i+1, len(chunks), h.ChunkType)
		}
		if err := ch.sizeMismatch(); err != nil {
			return msg, err
		}

		br := bytes.NewReader(ch.Body)
		r := codec.NewReader(br, c.receive.Decoding)
		sec := decodeSecurityHeader(r, h.MessageType)
		var seq SequenceHeader
		seq.DecodeFrom(r)
		if err := r.Err(); err != nil {
			return msg, fmt.Errorf("chunk %d headers: %w", i+1, err)
		}
		if i == 0 {
			msg.SecurityHeader = sec
			msg.SequenceHeader = seq
		} else {
			if seq.RequestID != msg.SequenceHeader.RequestID {
				return msg, fmt.Errorf("%w: %d then %d", ErrRequestIDMismatch, msg.SequenceHeader.RequestID, seq.RequestID)
			}
			if sym, ok := sec.(SymmetricSecurityHeader); ok && sym.TokenID != msg.TokenID() {
				return msg, fmt.Errorf("%w: %d then %d", ErrTokenIDMismatch, msg.TokenID(), sym.TokenID)
			}
		}
		if err := c.checkSequence(seq.SequenceNumber); err != nil {
			return msg, err
		}

		body.Write(ch.Body[len(ch.Body)-br.Len():])
		if c.receive.MaxMessageSize > 0 && uint32(body.Len()) > c.receive.MaxMessageSize {
			return msg, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, body.Len(), c.receive.MaxMessageSize)
		}
	}

	if asym, ok := msg.SecurityHeader.(AsymmetricSecurityHeader); ok {
		if err := asym.CheckPolicy(); err != nil {
			return msg, err
		}
	}

	br := bytes.NewReader(body.Bytes())
	decoded, err := service.DecodeMessage(br, c.receive.Decoding)
	if err != nil {
		var unsupported *service.UnsupportedError
		if errors.As(err, &unsupported) {
			return msg, err
		}
		return msg, fmt.Errorf("chunk: decode %s body: %w", msg.MessageType, err)
	}
	if br.Len() != 0 {
		return msg, fmt.Errorf("%w: %d bytes after %s", ErrTrailingBytes, br.Len(), service.Name(decoded))
	}
	msg.Body = decoded
	return msg, nil
}

func decodeSecurityHeader(r *codec.Reader, t frame.MessageType) SecurityHeader {
	if t == frame.MessageOpen {
		var h AsymmetricSecurityHeader
		h.DecodeFrom(r)
		return h
	}
	var h SymmetricSecurityHeader
	h.DecodeFrom(r)
	return h
}

// checkSequence enforces consecutive sequence numbers, allowing the wrap.
func (c *Chunker) checkSequence(n uint32) error {
	if c.recvSeq != 0 {
		switch {
		case c.recvSeq >= sequenceWrapThreshold:
			if n != c.recvSeq+1 && n >= 1024 {
				return fmt.Errorf("%w: %d after %d", ErrSequenceNumber, n, c.recvSeq)
			}
		case n != c.recvSeq+1:
			return fmt.Errorf("%w: %d after %d", ErrSequenceNumber, n, c.recvSeq)
		}
	}
	c.recvSeq = n
	return nil
}

// Skip consumes the sequence number of a chunk whose message is dropped,
// such as the chunks of an aborted message.
func (c *Chunker) Skip(ch Chunk) error {
	r := codec.NewReader(bytes.NewReader(ch.Body), c.receive.Decoding)
	decodeSecurityHeader(r, ch.Header.MessageType)
	var seq SequenceHeader
	seq.DecodeFrom(r)
	if err := r.Err(); err != nil {
		return err
	}
	return c.checkSequence(seq.SequenceNumber)
}
