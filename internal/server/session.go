package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/opcuactl/internal/addressspace"
	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// finish describes how a session ends. sendError is false when the peer is
// already gone or closed the channel itself.
type finish struct {
	status    codec.StatusCode
	reason    string
	sendError bool
}

func fail(err error) *finish {
	return &finish{status: codec.StatusOf(err), reason: err.Error(), sendError: true}
}

func failf(code codec.StatusCode, format string, args ...any) *finish {
	return &finish{status: code, reason: fmt.Sprintf(format, args...), sendError: true}
}

// Session serves one connection. Run owns the connection; the other methods
// may be called from any goroutine.
type Session struct {
	id         string
	cfg        Config
	space      addressspace.AddressSpace
	channelIDs func() uint32
	log        zerolog.Logger

	mu      sync.Mutex
	st      sessionState
	remote  string
	chunker *chunk.Chunker
	partial []chunk.Chunk
}

// NewSession builds a session in state New. channelIDs must return a
// server-unique, non-zero secure channel id per call.
func NewSession(cfg Config, space addressspace.AddressSpace, channelIDs func() uint32) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		cfg:        cfg.WithDefaults(),
		space:      space,
		channelIDs: channelIDs,
		log:        log.With().Str("session", id).Logger(),
		st:         sessionState{state: StateNew, status: codec.Good},
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.state
}

// Status is the final status once the session is Finished.
func (s *Session) Status() codec.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.status
}

// Abort asks the session to finish with BadShutdown on its next iteration.
func (s *Session) Abort() {
	s.mu.Lock()
	s.st.aborted = true
	s.mu.Unlock()
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:              s.id,
		Remote:          s.remote,
		State:           s.st.state,
		Status:          s.st.status.String(),
		ChannelID:       s.st.channelID,
		TokenID:         s.st.tokenID,
		RevisedLifetime: s.st.revisedLifetime,
		StartedAt:       s.st.startedAt,
		LastActivity:    s.st.lastActivity,
		Requests:        s.st.requests,
		Aborted:         s.st.aborted,
	}
}

// Run drives the connection until it finishes and returns the final status.
// Reads use a short deadline so hello timeouts, aborts and ctx cancellation
// are observed between reads. conn is closed on return.
func (s *Session) Run(ctx context.Context, conn net.Conn) codec.StatusCode {
	started := time.Now()
	s.mu.Lock()
	s.remote = conn.RemoteAddr().String()
	s.st.state = StateWaitingHello
	s.st.startedAt = started
	s.st.lastActivity = started
	s.mu.Unlock()
	s.log = s.log.With().Str("remote", s.remote).Logger()
	observability.RecordSessionStarted()
	s.log.Info().Msg("server.Session.Run started")

	buf := make([]byte, s.cfg.Session.ReceiveBufferSize)
	var pending []byte
	var out bytes.Buffer
	var result *finish

	for result == nil {
		if result = s.checkStop(ctx, started); result != nil {
			break
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Session.PollInterval))
		n, err := conn.Read(buf)
		if n > 0 {
			if len(pending) == 0 && n < frame.HeaderLen {
				result = failf(codec.BadCommunicationError, "read %d bytes, less than a message header", n)
				break
			}
			pending = append(pending, buf[:n]...)
			pending, result = s.processFrames(pending, &out)
			if werr := s.flush(conn, &out); werr != nil && result == nil {
				s.log.Warn().Err(werr).Msg("server.Session.Run write failed")
				result = &finish{status: codec.BadCommunicationError, reason: werr.Error()}
			}
		}
		if err != nil && result == nil {
			result = readFailure(err)
		}
	}

	s.finish(conn, result)
	return result.status
}

// readFailure maps a read error to a finish, or nil for a poll timeout.
func readFailure(err error) *finish {
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return &finish{status: codec.BadConnectionClosed, reason: "connection closed by peer"}
	}
	return &finish{status: codec.BadCommunicationError, reason: err.Error()}
}

func (s *Session) checkStop(ctx context.Context, started time.Time) *finish {
	if ctx.Err() != nil {
		return failf(codec.BadShutdown, "server shutting down")
	}
	s.mu.Lock()
	aborted := s.st.aborted
	state := s.st.state
	s.mu.Unlock()
	if aborted {
		return failf(codec.BadShutdown, "session aborted")
	}
	if state == StateWaitingHello && time.Since(started) > s.cfg.Session.HelloTimeout {
		return failf(codec.BadTimeout, "no HEL within %s", s.cfg.Session.HelloTimeout)
	}
	return nil
}

// processFrames handles every complete frame in pending and returns the
// bytes of an incomplete trailing frame.
func (s *Session) processFrames(pending []byte, out *bytes.Buffer) ([]byte, *finish) {
	for len(pending) >= frame.HeaderLen {
		h, err := frame.DecodeHeader(pending[:frame.HeaderLen])
		if err != nil {
			return nil, fail(err)
		}
		if h.MessageSize > s.cfg.Session.ReceiveBufferSize {
			return nil, failf(codec.BadTCPMessageTooLarge, "%s of %d bytes exceeds receive buffer %d",
				h.MessageType, h.MessageSize, s.cfg.Session.ReceiveBufferSize)
		}
		if len(pending) < int(h.MessageSize) {
			break
		}
		raw := bytes.Clone(pending[:h.MessageSize])
		pending = pending[h.MessageSize:]
		if result := s.handleFrame(h, raw, out); result != nil {
			return nil, result
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending, nil
}

func (s *Session) handleFrame(h frame.Header, raw []byte, out *bytes.Buffer) *finish {
	observability.RecordFrame("in", string(h.MessageType), len(raw))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lastActivity = time.Now()

	switch s.st.state {
	case StateWaitingHello:
		if h.MessageType != frame.MessageHello {
			return failf(codec.BadCommunicationError, "expected HEL, got %s", h.MessageType)
		}
		return s.handleHello(frame.Frame{Header: h, Payload: raw[frame.HeaderLen:]}, out)
	case StateProcessMessages:
		switch h.MessageType {
		case frame.MessageOpen, frame.MessageChunk, frame.MessageClose:
			return s.handleChunk(raw, out)
		case frame.MessageHello:
			return failf(codec.BadCommunicationError, "HEL after handshake")
		default:
			return failf(codec.BadTCPMessageTypeInvalid, "unexpected %s from client", h.MessageType)
		}
	default:
		return failf(codec.BadInternalError, "frame in state %s", s.st.state)
	}
}

// flush writes buffered output with a write deadline.
func (s *Session) flush(conn net.Conn, out *bytes.Buffer) error {
	if out.Len() == 0 {
		return nil
	}
	defer out.Reset()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
	_, err := conn.Write(out.Bytes())
	return err
}

func (s *Session) finish(conn net.Conn, result *finish) {
	s.mu.Lock()
	s.st.state = StateFinished
	s.st.status = result.status
	s.partial = nil
	s.mu.Unlock()

	if !result.status.IsGood() && result.sendError {
		f, err := frame.NewErrorFrame(frame.Error{Code: result.status, Reason: result.reason})
		if err == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
			err = frame.WriteFrame(conn, f)
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("server.Session.finish could not send ERR")
		}
	}
	_ = conn.Close()
	observability.RecordSessionFinished(result.status.String())

	event := s.log.Info()
	if !result.status.IsGood() {
		event = s.log.Warn()
	}
	event.
		Str("status", result.status.String()).
		Str("reason", result.reason).
		Msg("server.Session.Run finished")
}
