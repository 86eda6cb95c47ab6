package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config holds the limits and timeouts of a secure channel session.
type Config struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	SecurityPolicy    string

	HelloTimeout     time.Duration
	PollInterval     time.Duration
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration

	MinTokenLifetime  time.Duration
	MaxTokenLifetime  time.Duration
	RequestedLifetime time.Duration

	Decoding codec.DecodingLimits
	Backoff  BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ProtocolVersion:   0,
		ReceiveBufferSize: 32768,
		SendBufferSize:    32768,
		MaxMessageSize:    16384,
		MaxChunkCount:     1,
		SecurityPolicy:    chunk.SecurityPolicyNoneURI,
		HelloTimeout:      5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		WriteTimeout:      15 * time.Second,
		RequestTimeout:    10 * time.Second,
		MinTokenLifetime:  10 * time.Second,
		MaxTokenLifetime:  time.Hour,
		RequestedLifetime: 10 * time.Minute,
		Decoding:          codec.DefaultDecodingLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig. ProtocolVersion 0 is a
// real value and is kept.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	setUint32 := func(v *uint32, def uint32) {
		if *v == 0 {
			*v = def
		}
	}
	setDuration := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setUint32(&c.ReceiveBufferSize, d.ReceiveBufferSize)
	setUint32(&c.SendBufferSize, d.SendBufferSize)
	setUint32(&c.MaxMessageSize, d.MaxMessageSize)
	setUint32(&c.MaxChunkCount, d.MaxChunkCount)
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = d.SecurityPolicy
	}
	setDuration(&c.HelloTimeout, d.HelloTimeout)
	setDuration(&c.PollInterval, d.PollInterval)
	setDuration(&c.ConnectTimeout, d.ConnectTimeout)
	setDuration(&c.HandshakeTimeout, d.HandshakeTimeout)
	setDuration(&c.WriteTimeout, d.WriteTimeout)
	setDuration(&c.RequestTimeout, d.RequestTimeout)
	setDuration(&c.MinTokenLifetime, d.MinTokenLifetime)
	setDuration(&c.MaxTokenLifetime, d.MaxTokenLifetime)
	setDuration(&c.RequestedLifetime, d.RequestedLifetime)
	c.Decoding = c.Decoding.WithDefaults()
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}

// Validate rejects limits a peer could never negotiate.
func (c Config) Validate() error {
	for name, size := range map[string]uint32{"receive_buffer_size": c.ReceiveBufferSize, "send_buffer_size": c.SendBufferSize} {
		if size < frame.MinBufferSize || size > frame.MaxBufferSize {
			return fmt.Errorf("%w: %s %d outside [%d, %d]", ErrInvalidConfig, name, size, frame.MinBufferSize, frame.MaxBufferSize)
		}
	}
	if c.MinTokenLifetime > c.MaxTokenLifetime {
		return fmt.Errorf("%w: min token lifetime %s exceeds max %s", ErrInvalidConfig, c.MinTokenLifetime, c.MaxTokenLifetime)
	}
	if c.PollInterval > c.HelloTimeout {
		return fmt.Errorf("%w: poll interval %s exceeds hello timeout %s", ErrInvalidConfig, c.PollInterval, c.HelloTimeout)
	}
	if _, err := NormalizeSecurityPolicy(c.SecurityPolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ReceiveLimits bounds chunks read by this end.
func (c Config) ReceiveLimits() chunk.Limits {
	return chunk.Limits{
		MaxChunkSize:   c.ReceiveBufferSize,
		MaxChunkCount:  c.MaxChunkCount,
		MaxMessageSize: c.MaxMessageSize,
		Decoding:       c.Decoding,
	}
}

// SendLimits bounds chunks written to a peer that announced its receive
// buffer and message limits. Zero peer values mean no limit from the peer.
func (c Config) SendLimits(peerReceiveBuffer, peerMaxMessage, peerMaxChunks uint32) chunk.Limits {
	limits := chunk.Limits{
		MaxChunkSize:   minNonZero(c.SendBufferSize, peerReceiveBuffer),
		MaxChunkCount:  peerMaxChunks,
		MaxMessageSize: peerMaxMessage,
		Decoding:       c.Decoding,
	}
	return limits
}

func minNonZero(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	return min(a, b)
}

// Acknowledge is the ACK a server answers a valid HELLO with.
func (c Config) Acknowledge() frame.Acknowledge {
	return frame.Acknowledge{
		ProtocolVersion:   c.ProtocolVersion,
		ReceiveBufferSize: c.ReceiveBufferSize,
		SendBufferSize:    c.SendBufferSize,
		MaxMessageSize:    c.MaxMessageSize,
		MaxChunkCount:     c.MaxChunkCount,
	}
}

// Hello is the HELLO a client opens a connection with.
func (c Config) Hello(endpointURL string) frame.Hello {
	return frame.Hello{
		ProtocolVersion:   c.ProtocolVersion,
		ReceiveBufferSize: c.ReceiveBufferSize,
		SendBufferSize:    c.SendBufferSize,
		MaxMessageSize:    c.MaxMessageSize,
		MaxChunkCount:     c.MaxChunkCount,
		EndpointURL:       endpointURL,
	}
}

// ClampLifetime revises a requested token lifetime in milliseconds.
func (c Config) ClampLifetime(requestedMillis uint32) uint32 {
	requested := time.Duration(requestedMillis) * time.Millisecond
	revised := max(c.MinTokenLifetime, min(requested, c.MaxTokenLifetime))
	return uint32(revised / time.Millisecond)
}
