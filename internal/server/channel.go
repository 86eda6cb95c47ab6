package server

import (
	"bytes"
	"errors"
	"time"

	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/danmuck/opcuactl/internal/protocol/session"
)

// handleHello validates HEL, negotiates limits and answers ACK. Caller
// holds s.mu.
func (s *Session) handleHello(f frame.Frame, out *bytes.Buffer) *finish {
	hello, err := frame.DecodeHello(f)
	if err != nil {
		return fail(err)
	}
	if err := hello.Validate(s.cfg.Session.ProtocolVersion); err != nil {
		return fail(err)
	}

	s.st.clientProtocolVersion = hello.ProtocolVersion
	s.chunker = chunk.NewChunker(s.cfg.Session.ReceiveLimits())
	s.chunker.Negotiate(
		s.cfg.Session.SendLimits(hello.ReceiveBufferSize, hello.MaxMessageSize, hello.MaxChunkCount),
		s.cfg.Session.ReceiveLimits(),
	)

	ack, err := frame.NewAcknowledgeFrame(s.cfg.Session.Acknowledge())
	if err != nil {
		return fail(err)
	}
	raw := ack.Bytes()
	out.Write(raw)
	observability.RecordFrame("out", string(frame.MessageAcknowledge), len(raw))
	s.st.state = StateProcessMessages

	s.log.Debug().
		Uint32("protocol_version", hello.ProtocolVersion).
		Uint32("client_receive_buffer", hello.ReceiveBufferSize).
		Str("endpoint_url", hello.EndpointURL).
		Msg("server.Session.handleHello acknowledged")
	return nil
}

// handleChunk buffers chunks until a final one completes a message. Caller
// holds s.mu.
func (s *Session) handleChunk(raw []byte, out *bytes.Buffer) *finish {
	ch, err := chunk.Parse(raw)
	if err != nil {
		return fail(err)
	}
	if result := s.checkChannelID(ch); result != nil {
		return result
	}

	if ch.IsAbort() {
		for _, dropped := range append(s.partial, ch) {
			if err := s.chunker.Skip(dropped); err != nil {
				return fail(err)
			}
		}
		s.log.Debug().Int("chunks", len(s.partial)+1).Msg("server.Session.handleChunk message aborted by client")
		s.partial = nil
		return nil
	}

	s.partial = append(s.partial, ch)
	if limit := s.chunker.ReceiveLimits().MaxChunkCount; limit > 0 && uint32(len(s.partial)) > limit {
		return fail(chunk.ErrTooManyChunks)
	}
	if !ch.IsFinal() {
		return nil
	}

	chunks := s.partial
	s.partial = nil
	msg, err := s.chunker.Reassemble(chunks)
	switch ch.Header.MessageType {
	case frame.MessageOpen:
		return s.openSecureChannel(msg, err, out)
	case frame.MessageClose:
		return s.closeSecureChannel(msg, err)
	default:
		return s.serviceRequest(msg, err, out)
	}
}

func (s *Session) checkChannelID(ch chunk.Chunk) *finish {
	id := ch.Header.SecureChannelID
	if ch.Header.MessageType == frame.MessageOpen {
		if id != 0 && id != s.st.channelID {
			return failf(codec.BadSecureChannelIDInvalid, "OPN on channel %d, open channel is %d", id, s.st.channelID)
		}
		return nil
	}
	if s.st.channelID == 0 {
		return failf(codec.BadSecureChannelIDInvalid, "%s before a secure channel was opened", ch.Header.MessageType)
	}
	if id != s.st.channelID {
		return failf(codec.BadSecureChannelIDInvalid, "%s on channel %d, open channel is %d", ch.Header.MessageType, id, s.st.channelID)
	}
	return nil
}

func (s *Session) checkToken(tokenID uint32) *finish {
	if tokenID == s.st.tokenID || (s.st.prevTokenID != 0 && tokenID == s.st.prevTokenID) {
		return nil
	}
	return failf(codec.BadSecureChannelTokenUnknown, "token %d, current token is %d", tokenID, s.st.tokenID)
}

// openSecureChannel issues a channel or renews its token. Caller holds s.mu.
func (s *Session) openSecureChannel(msg chunk.Message, err error, out *bytes.Buffer) *finish {
	if err != nil {
		return fail(err)
	}
	req, ok := msg.Body.(*service.OpenSecureChannelRequest)
	if !ok {
		return failf(codec.BadCommunicationError, "OPN carries %s", service.Name(msg.Body))
	}
	if req.ClientProtocolVersion != s.st.clientProtocolVersion {
		return failf(codec.BadProtocolVersionUnsupported, "OPN protocol version %d, HEL announced %d",
			req.ClientProtocolVersion, s.st.clientProtocolVersion)
	}
	if err := session.ValidateOpenRequest(req); err != nil {
		return fail(err)
	}

	switch req.RequestType {
	case service.SecurityTokenIssue:
		if s.st.channelID != 0 {
			return failf(codec.BadRequestTypeInvalid, "Issue on open channel %d", s.st.channelID)
		}
		s.st.channelID = s.channelIDs()
		s.st.tokenID = 1
	case service.SecurityTokenRenew:
		if s.st.channelID == 0 || msg.SecureChannelID != s.st.channelID {
			return failf(codec.BadSecureChannelIDInvalid, "Renew of channel %d", msg.SecureChannelID)
		}
		s.st.prevTokenID = s.st.tokenID
		s.st.tokenID++
	}
	s.st.tokenCreatedAt = time.Now().UTC()
	s.st.revisedLifetime = s.cfg.Session.ClampLifetime(req.RequestedLifetime)

	resp := &service.OpenSecureChannelResponse{
		Header:                service.NewResponseHeader(&req.Header, codec.Good),
		ServerProtocolVersion: s.cfg.Session.ProtocolVersion,
		SecurityToken: service.ChannelSecurityToken{
			ChannelID:       s.st.channelID,
			TokenID:         s.st.tokenID,
			CreatedAt:       s.st.tokenCreatedAt,
			RevisedLifetime: s.st.revisedLifetime,
		},
	}
	s.log.Info().
		Str("request_type", req.RequestType.String()).
		Uint32("channel_id", s.st.channelID).
		Uint32("token_id", s.st.tokenID).
		Uint32("revised_lifetime_ms", s.st.revisedLifetime).
		Msg("server.Session.openSecureChannel")
	return s.send(out, frame.MessageOpen, chunk.NoneSecurityHeader(), msg.SequenceHeader.RequestID, resp)
}

// closeSecureChannel ends the session without an ERR frame.
func (s *Session) closeSecureChannel(msg chunk.Message, err error) *finish {
	if err != nil {
		var unsupported *service.UnsupportedError
		if !errors.As(err, &unsupported) {
			return fail(err)
		}
	}
	if result := s.checkToken(msg.TokenID()); result != nil {
		return result
	}
	s.log.Debug().Uint32("channel_id", s.st.channelID).Msg("server.Session.closeSecureChannel")
	return &finish{status: codec.Good, reason: "secure channel closed by client"}
}

// send chunks msg into out. Caller holds s.mu.
func (s *Session) send(out *bytes.Buffer, t frame.MessageType, security chunk.SecurityHeader, requestID uint32, msg service.Message) *finish {
	chunks, err := s.chunker.Encode(t, s.st.channelID, security, requestID, msg)
	if err != nil {
		return fail(err)
	}
	for _, c := range chunks {
		raw := c.Bytes()
		out.Write(raw)
		observability.RecordFrame("out", string(t), len(raw))
	}
	return nil
}
