package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/danmuck/opcuactl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrEndpointRequired   = errors.New("client: endpoint url required")
	ErrHandshakeRejected  = errors.New("client: server rejected connection")
	ErrSessionClosed      = errors.New("client: session closed")
	ErrUnexpectedResponse = errors.New("client: unexpected response")
)

type Config struct {
	EndpointURL        string
	MaxConnectAttempts int
	Session            session.Config
}

func DefaultConfig() Config {
	return Config{
		EndpointURL:        "opc.tcp://localhost:" + frame.DefaultEndpointPort + "/",
		MaxConnectAttempts: 3,
		Session:            session.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.EndpointURL) == "" {
		return ErrEndpointRequired
	}
	if err := frame.ValidateEndpointURL(c.EndpointURL); err != nil {
		return err
	}
	return c.Session.Validate()
}

type Client struct {
	cfg  Config
	addr string
	rng  *rand.Rand
}

func New(cfg Config) (*Client, error) {
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := frame.EndpointAddress(cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		addr: addr,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (c *Client) Config() Config { return c.cfg }

// Connect dials the endpoint, exchanges HEL/ACK and opens a secure channel.
// Dial and transport failures are retried with backoff; an ERR frame from
// the server is not.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	ctx, span := observability.StartConnect(ctx, c.cfg.EndpointURL)
	s, err := c.connect(ctx)
	status := codec.Good
	if err != nil {
		status = codec.StatusOf(err)
	}
	observability.EndSpan(span, status.String(), err)
	return s, err
}

func (c *Client) connect(ctx context.Context) (*Session, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.addr).Msg("client.Client.Connect dial failed")
			if !c.shouldRetry(attempt) || ctx.Err() != nil {
				return nil, err
			}
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		s, err := c.handshake(ctx, conn)
		if err == nil {
			log.Info().
				Str("endpoint_url", c.cfg.EndpointURL).
				Uint32("channel_id", s.token.ChannelID).
				Uint32("revised_lifetime_ms", s.token.RevisedLifetime).
				Msg("client.Client.Connect secure channel open")
			return s, nil
		}
		_ = conn.Close()
		log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.addr).Msg("client.Client.Connect handshake failed")
		if errors.Is(err, ErrHandshakeRejected) || !c.shouldRetry(attempt) || ctx.Err() != nil {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	return dialer.DialContext(ctx, "tcp", c.addr)
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	return session.Sleep(ctx, session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng))
}

// handshake runs HEL/ACK and OPN Issue within HandshakeTimeout.
func (c *Client) handshake(ctx context.Context, conn net.Conn) (*Session, error) {
	deadline := time.Now().Add(c.cfg.Session.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	hello, err := frame.NewHelloFrame(c.cfg.Session.Hello(c.cfg.EndpointURL))
	if err != nil {
		return nil, err
	}
	if err := frame.WriteFrame(conn, hello); err != nil {
		return nil, err
	}
	reply, err := frame.ReadFrame(conn, frame.Limits{MaxFrameBytes: c.cfg.Session.ReceiveBufferSize})
	if err != nil {
		return nil, err
	}
	if reply.Header.MessageType == frame.MessageError {
		return nil, rejected(reply)
	}
	ack, err := frame.DecodeAcknowledge(reply)
	if err != nil {
		return nil, err
	}
	if ack.ProtocolVersion < c.cfg.Session.ProtocolVersion {
		return nil, codec.Errorf(codec.BadProtocolVersionUnsupported, "server protocol version %d < %d",
			ack.ProtocolVersion, c.cfg.Session.ProtocolVersion)
	}

	chunker := chunk.NewChunker(c.cfg.Session.ReceiveLimits())
	chunker.Negotiate(
		c.cfg.Session.SendLimits(ack.ReceiveBufferSize, ack.MaxMessageSize, ack.MaxChunkCount),
		c.cfg.Session.ReceiveLimits(),
	)

	s := newSession(c.cfg, conn, chunker)
	req := &service.OpenSecureChannelRequest{
		Header:                s.nextHeader(),
		ClientProtocolVersion: c.cfg.Session.ProtocolVersion,
		RequestType:           service.SecurityTokenIssue,
		SecurityMode:          service.SecurityModeNone,
		RequestedLifetime:     uint32(c.cfg.Session.RequestedLifetime.Milliseconds()),
	}
	s.requestID++
	chunks, err := chunker.Encode(frame.MessageOpen, 0, chunk.NoneSecurityHeader(), s.requestID, req)
	if err != nil {
		return nil, err
	}
	if err := chunk.WriteChunks(conn, chunks); err != nil {
		return nil, err
	}
	msg, err := s.readMessage()
	if err != nil {
		var peer *chunk.PeerError
		if errors.As(err, &peer) {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeRejected, err)
		}
		return nil, err
	}
	resp, ok := msg.Body.(*service.OpenSecureChannelResponse)
	if !ok {
		return nil, fmt.Errorf("%w: %s to OpenSecureChannel", ErrUnexpectedResponse, service.Name(msg.Body))
	}
	if result := resp.Header.ServiceResult; !result.IsGood() {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeRejected, codec.Errorf(result, "OpenSecureChannel"))
	}
	if resp.SecurityToken.ChannelID == 0 || resp.SecurityToken.ChannelID != msg.SecureChannelID {
		return nil, codec.Errorf(codec.BadSecureChannelIDInvalid, "server issued channel %d on chunk channel %d",
			resp.SecurityToken.ChannelID, msg.SecureChannelID)
	}

	_ = conn.SetDeadline(time.Time{})
	s.token = resp.SecurityToken
	s.start()
	return s, nil
}

// rejected converts an ERR frame into an error wrapping its status.
func rejected(f frame.Frame) error {
	e, err := frame.DecodeError(f)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrHandshakeRejected, &chunk.PeerError{Frame: e})
}
