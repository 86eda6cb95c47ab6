package client

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/opcuactl/internal/addressspace"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/danmuck/opcuactl/internal/protocol/session"
	"github.com/danmuck/opcuactl/internal/server"
	"github.com/danmuck/opcuactl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	temperature = codec.NewStringNodeID(2, "temperature")
	serial      = codec.NewStringNodeID(2, "serial")
)

func startServer(t *testing.T) string {
	t.Helper()
	space := addressspace.NewMemory()
	require.NoError(t, space.AddVariable(addressspace.Variable{
		NodeID:      temperature,
		Value:       codec.MustVariant(float64(21.5)),
		AccessLevel: addressspace.AccessLevelReadWrite,
	}))
	require.NoError(t, space.AddVariable(addressspace.Variable{NodeID: serial, Value: codec.MustVariant("SN-1")}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := server.DefaultConfig()
	cfg.EndpointURL = "opc.tcp://" + ln.Addr().String() + "/opcuactl"
	cfg.AbortNodeID = ""
	cfg.Session.PollInterval = 10 * time.Millisecond

	srv := server.New(cfg, space)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cfg.EndpointURL
}

func testClientConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.EndpointURL = endpoint
	cfg.Session.RequestTimeout = 2 * time.Second
	cfg.Session.Backoff.InitialDelay = 10 * time.Millisecond
	cfg.Session.Backoff.MaxDelay = 50 * time.Millisecond
	return cfg
}

func connect(t *testing.T, cfg Config) *Session {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	s, err := c.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEndToEnd(t *testing.T) {
	testlog.Start(t)
	s := connect(t, testClientConfig(startServer(t)))
	ctx := context.Background()

	token := s.SecurityToken()
	require.NotZero(t, token.ChannelID)
	require.Equal(t, uint32(1), token.TokenID)

	dv, err := s.ReadValue(ctx, temperature)
	require.NoError(t, err)
	require.Equal(t, float64(21.5), dv.Value.Value)
	require.False(t, dv.SourceTimestamp.IsZero())

	require.NoError(t, s.WriteValue(ctx, temperature, codec.MustVariant(float64(30))))
	dv, err = s.ReadValue(ctx, temperature)
	require.NoError(t, err)
	require.Equal(t, float64(30), dv.Value.Value)

	err = s.WriteValue(ctx, serial, codec.MustVariant("x"))
	require.Equal(t, codec.BadNotWritable, codec.StatusOf(err))

	dv, err = s.ReadValue(ctx, codec.NewStringNodeID(2, "missing"))
	require.NoError(t, err)
	require.Equal(t, codec.BadNodeIDUnknown, dv.Status)

	_, err = s.Read(ctx, nil, service.TimestampsNeither)
	require.Equal(t, codec.BadNothingToDo, codec.StatusOf(err))

	endpoints, err := s.GetEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	require.Equal(t, chunk.SecurityPolicyNoneURI, endpoints[0].SecurityPolicyURI)
	require.Equal(t, server.TransportProfileBinary, endpoints[0].TransportProfileURI)

	first, err := s.PublishAsync()
	require.NoError(t, err)
	second, err := s.PublishAsync()
	require.NoError(t, err)

	var drained []service.Response
	deadline := time.After(2 * time.Second)
	for len(drained) < 2 {
		changed := s.Changed()
		drained = append(drained, s.AsyncResponses()...)
		if len(drained) >= 2 {
			break
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("drained %d async responses", len(drained))
		}
	}
	require.Len(t, drained, 2)
	require.Equal(t, first, drained[0].ResponseHeader().RequestHandle)
	require.Equal(t, second, drained[1].ResponseHeader().RequestHandle)
	for _, resp := range drained {
		fault, ok := resp.(*service.ServiceFault)
		require.True(t, ok)
		require.Equal(t, codec.BadNoSubscription, fault.Header.ServiceResult)
	}

	stats := s.Stats()
	require.Zero(t, stats.Inflight)
	require.Zero(t, stats.Pending)
	require.Zero(t, stats.Orphans)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.ReadValue(ctx, temperature)
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.PublishAsync()
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestConcurrentCalls(t *testing.T) {
	testlog.Start(t)
	s := connect(t, testClientConfig(startServer(t)))

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			dv, err := s.ReadValue(context.Background(), temperature)
			if err == nil && dv.Value.Value != float64(21.5) {
				err = codec.Errorf(codec.BadUnexpectedError, "read %v", dv.Value.Value)
			}
			errs <- err
		}()
	}
	for i := 0; i < callers; i++ {
		require.NoError(t, <-errs)
	}
}

func TestCallsAreTraced(t *testing.T) {
	testlog.Start(t)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	s := connect(t, testClientConfig(startServer(t)))
	_, err := s.ReadValue(context.Background(), temperature)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	require.True(t, names["opcua.connect"], "spans: %v", names)
	require.True(t, names["opcua.Read"], "spans: %v", names)
}

// fakeServer accepts connections on a loopback listener and hands each to
// handle.
func fakeServer(t *testing.T, handle func(net.Conn)) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	return "opc.tcp://" + ln.Addr().String() + "/fake", &accepted
}

// acceptChannel answers HEL and OPN like a server would and returns the
// chunker for further traffic.
func acceptChannel(conn net.Conn) (*chunk.Chunker, error) {
	if _, err := frame.ReadFrame(conn, frame.DefaultLimits()); err != nil {
		return nil, err
	}
	ack, err := frame.NewAcknowledgeFrame(session.DefaultConfig().Acknowledge())
	if err != nil {
		return nil, err
	}
	if err := frame.WriteFrame(conn, ack); err != nil {
		return nil, err
	}
	chunker := chunk.NewChunker(chunk.DefaultLimits())
	opn, err := chunk.DecodeChunk(conn, 65536)
	if err != nil {
		return nil, err
	}
	msg, err := chunker.Reassemble([]chunk.Chunk{opn})
	if err != nil {
		return nil, err
	}
	req := msg.Body.(*service.OpenSecureChannelRequest)
	resp := &service.OpenSecureChannelResponse{
		Header: service.NewResponseHeader(&req.Header, codec.Good),
		SecurityToken: service.ChannelSecurityToken{
			ChannelID:       7,
			TokenID:         1,
			CreatedAt:       time.Now(),
			RevisedLifetime: req.RequestedLifetime,
		},
	}
	chunks, err := chunker.Encode(frame.MessageOpen, 7, chunk.NoneSecurityHeader(), msg.SequenceHeader.RequestID, resp)
	if err != nil {
		return nil, err
	}
	return chunker, chunk.WriteChunks(conn, chunks)
}

func TestConnectRejectedIsNotRetried(t *testing.T) {
	testlog.Start(t)
	endpoint, accepted := fakeServer(t, func(conn net.Conn) {
		if _, err := frame.ReadFrame(conn, frame.DefaultLimits()); err != nil {
			return
		}
		f, err := frame.NewErrorFrame(frame.Error{Code: codec.BadTCPEndpointURLInvalid, Reason: "no such endpoint"})
		if err == nil {
			_ = frame.WriteFrame(conn, f)
		}
	})

	c, err := New(testClientConfig(endpoint))
	require.NoError(t, err)
	_, err = c.Connect(context.Background())
	require.ErrorIs(t, err, ErrHandshakeRejected)
	require.Equal(t, codec.BadTCPEndpointURLInvalid, codec.StatusOf(err))
	require.Equal(t, int32(1), accepted.Load())
}

func TestOpenRejectedIsNotRetried(t *testing.T) {
	testlog.Start(t)
	endpoint, accepted := fakeServer(t, func(conn net.Conn) {
		if _, err := frame.ReadFrame(conn, frame.DefaultLimits()); err != nil {
			return
		}
		ack, err := frame.NewAcknowledgeFrame(session.DefaultConfig().Acknowledge())
		if err != nil || frame.WriteFrame(conn, ack) != nil {
			return
		}
		if _, err := chunk.DecodeChunk(conn, 65536); err != nil {
			return
		}
		f, err := frame.NewErrorFrame(frame.Error{Code: codec.BadSecurityPolicyRejected, Reason: "policy"})
		if err == nil {
			_ = frame.WriteFrame(conn, f)
		}
	})

	c, err := New(testClientConfig(endpoint))
	require.NoError(t, err)
	_, err = c.Connect(context.Background())
	require.ErrorIs(t, err, ErrHandshakeRejected)
	var peer *chunk.PeerError
	require.ErrorAs(t, err, &peer)
	require.Equal(t, "policy", peer.Frame.Reason)
	require.Equal(t, codec.BadSecurityPolicyRejected, codec.StatusOf(err))
	require.Equal(t, int32(1), accepted.Load())
}

func TestConnectGivesUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testClientConfig("opc.tcp://" + addr + "/")
	cfg.MaxConnectAttempts = 2
	c, err := New(cfg)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Connect(context.Background())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectCanceled(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c, err := New(testClientConfig("opc.tcp://127.0.0.1:1/"))
	require.NoError(t, err)
	_, err = c.Connect(ctx)
	require.Error(t, err)
}

func TestCallTimesOut(t *testing.T) {
	testlog.Start(t)
	endpoint, _ := fakeServer(t, func(conn net.Conn) {
		if _, err := acceptChannel(conn); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, conn)
	})
	cfg := testClientConfig(endpoint)
	cfg.Session.RequestTimeout = 100 * time.Millisecond
	s := connect(t, cfg)

	_, err := s.ReadValue(context.Background(), temperature)
	require.Equal(t, codec.BadTimeout, codec.StatusOf(err))
	stats := s.Stats()
	require.Equal(t, uint64(1), stats.Expired)
	require.Zero(t, stats.Inflight)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ReadValue(ctx, temperature)
	require.ErrorIs(t, err, context.Canceled)
}

func TestServerErrorEndsSession(t *testing.T) {
	testlog.Start(t)
	endpoint, _ := fakeServer(t, func(conn net.Conn) {
		if _, err := acceptChannel(conn); err != nil {
			return
		}
		f, err := frame.NewErrorFrame(frame.Error{Code: codec.BadShutdown, Reason: "going away"})
		if err == nil {
			_ = frame.WriteFrame(conn, f)
		}
		_, _ = io.Copy(io.Discard, conn)
	})
	s := connect(t, testClientConfig(endpoint))

	require.Eventually(t, func() bool { return s.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, codec.BadShutdown, codec.StatusOf(s.Err()))
	_, err := s.ReadValue(context.Background(), temperature)
	require.Equal(t, codec.BadShutdown, codec.StatusOf(err))
	require.NoError(t, s.Close())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.EndpointURL = ""
	require.ErrorIs(t, cfg.Validate(), ErrEndpointRequired)

	cfg.EndpointURL = "http://localhost:4840"
	require.Equal(t, codec.BadTCPEndpointURLInvalid, codec.StatusOf(cfg.Validate()))

	_, err := New(cfg)
	require.Error(t, err)
}
