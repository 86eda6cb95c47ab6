package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/opcuactl/internal/addressspace"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/danmuck/opcuactl/internal/testutil/testlog"
)

const testEndpointURL = "opc.tcp://localhost:4840/test"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EndpointURL = testEndpointURL
	cfg.Session.HelloTimeout = 100 * time.Millisecond
	cfg.Session.PollInterval = 10 * time.Millisecond
	cfg.Session.WriteTimeout = 2 * time.Second
	return cfg
}

func testSpace(t *testing.T) *addressspace.Memory {
	t.Helper()
	space := addressspace.NewMemory()
	vars := []addressspace.Variable{
		{NodeID: codec.NewStringNodeID(2, "temperature"), Value: codec.MustVariant(float64(21.5)), AccessLevel: addressspace.AccessLevelReadWrite},
		{NodeID: codec.NewStringNodeID(2, "serial"), Value: codec.MustVariant("SN-1")},
	}
	for _, v := range vars {
		if err := space.AddVariable(v); err != nil {
			t.Fatalf("AddVariable: %v", err)
		}
	}
	return space
}

// testPeer drives the client end of a net.Pipe.
type testPeer struct {
	t         *testing.T
	conn      net.Conn
	chunker   *chunk.Chunker
	channelID uint32
	tokenID   uint32
	requestID uint32
	handle    uint32
}

func startSession(t *testing.T, cfg Config, space addressspace.AddressSpace) (*Session, *testPeer, <-chan codec.StatusCode) {
	t.Helper()
	testlog.Start(t)
	serverConn, clientConn := net.Pipe()
	var ids atomic.Uint32
	sess := NewSession(cfg, space, func() uint32 { return ids.Add(1) })
	done := make(chan codec.StatusCode, 1)
	go func() {
		done <- sess.Run(context.Background(), serverConn)
	}()
	t.Cleanup(func() { _ = clientConn.Close() })
	return sess, &testPeer{t: t, conn: clientConn, chunker: chunk.NewChunker(chunk.DefaultLimits())}, done
}

func waitStatus(t *testing.T, done <-chan codec.StatusCode) codec.StatusCode {
	t.Helper()
	select {
	case status := <-done:
		return status
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return codec.Good
	}
}

func (p *testPeer) write(b []byte) {
	p.t.Helper()
	_ = p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := p.conn.Write(b); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *testPeer) readFrame() frame.Frame {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := frame.ReadFrame(p.conn, frame.Limits{MaxFrameBytes: 1 << 20})
	if err != nil {
		p.t.Fatalf("read frame: %v", err)
	}
	return f
}

func (p *testPeer) expectError(want codec.StatusCode) frame.Error {
	p.t.Helper()
	f := p.readFrame()
	if f.Header.MessageType != frame.MessageError {
		p.t.Fatalf("expected ERR, got %s", f.Header.MessageType)
	}
	e, err := frame.DecodeError(f)
	if err != nil {
		p.t.Fatalf("decode ERR: %v", err)
	}
	if e.Code != want {
		p.t.Fatalf("ERR status %s (%q), want %s", e.Code, e.Reason, want)
	}
	return e
}

func (p *testPeer) hello(h frame.Hello) frame.Acknowledge {
	p.t.Helper()
	f, err := frame.NewHelloFrame(h)
	if err != nil {
		p.t.Fatalf("hello frame: %v", err)
	}
	p.write(f.Bytes())
	reply := p.readFrame()
	ack, err := frame.DecodeAcknowledge(reply)
	if err != nil {
		p.t.Fatalf("expected ACK: %v", err)
	}
	return ack
}

func defaultHello() frame.Hello {
	return frame.Hello{
		ReceiveBufferSize: 65535,
		SendBufferSize:    65535,
		EndpointURL:       testEndpointURL,
	}
}

func (p *testPeer) send(t frame.MessageType, security chunk.SecurityHeader, msg service.Message) {
	p.t.Helper()
	p.requestID++
	chunks, err := p.chunker.Encode(t, p.channelID, security, p.requestID, msg)
	if err != nil {
		p.t.Fatalf("encode %s: %v", service.Name(msg), err)
	}
	for _, c := range chunks {
		p.write(c.Bytes())
	}
}

func (p *testPeer) receive() chunk.Message {
	p.t.Helper()
	var chunks []chunk.Chunk
	for {
		f := p.readFrame()
		if f.Header.MessageType == frame.MessageError {
			e, _ := frame.DecodeError(f)
			p.t.Fatalf("server sent ERR %s: %s", e.Code, e.Reason)
		}
		c, err := chunk.FromFrame(f)
		if err != nil {
			p.t.Fatalf("chunk: %v", err)
		}
		chunks = append(chunks, c)
		if c.IsFinal() {
			break
		}
	}
	msg, err := p.chunker.Reassemble(chunks)
	if err != nil {
		p.t.Fatalf("reassemble: %v", err)
	}
	return msg
}

func (p *testPeer) nextHeader() service.RequestHeader {
	p.handle++
	return service.RequestHeader{Timestamp: time.Now(), RequestHandle: p.handle, TimeoutHint: 1000}
}

func (p *testPeer) open(requestType service.SecurityTokenRequestType) *service.OpenSecureChannelResponse {
	p.t.Helper()
	p.send(frame.MessageOpen, chunk.NoneSecurityHeader(), &service.OpenSecureChannelRequest{
		Header:            p.nextHeader(),
		RequestType:       requestType,
		SecurityMode:      service.SecurityModeNone,
		RequestedLifetime: 60000,
	})
	resp, ok := p.receive().Body.(*service.OpenSecureChannelResponse)
	if !ok {
		p.t.Fatal("expected OpenSecureChannelResponse")
	}
	p.channelID = resp.SecurityToken.ChannelID
	p.tokenID = resp.SecurityToken.TokenID
	return resp
}

func (p *testPeer) call(req service.Request) service.Response {
	p.t.Helper()
	*req.RequestHeader() = p.nextHeader()
	p.send(frame.MessageChunk, chunk.SymmetricSecurityHeader{TokenID: p.tokenID}, req)
	resp, ok := p.receive().Body.(service.Response)
	if !ok {
		p.t.Fatal("expected a response")
	}
	if got := resp.ResponseHeader().RequestHandle; got != p.handle {
		p.t.Fatalf("response handle %d, want %d", got, p.handle)
	}
	return resp
}

func TestHelloTimeoutFinishesSession(t *testing.T) {
	sess, peer, done := startSession(t, testConfig(), testSpace(t))

	start := time.Now()
	peer.expectError(codec.BadTimeout)
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("timed out after %s, before the hello timeout", elapsed)
	}
	if status := waitStatus(t, done); status != codec.BadTimeout {
		t.Fatalf("status %s", status)
	}
	if sess.State() != StateFinished {
		t.Fatalf("state %s", sess.State())
	}
}

func TestHelloWithinTimeoutIsAcknowledged(t *testing.T) {
	cfg := testConfig()
	sess, peer, done := startSession(t, cfg, testSpace(t))

	time.Sleep(50 * time.Millisecond)
	ack := peer.hello(defaultHello())
	if ack.ReceiveBufferSize != cfg.Session.ReceiveBufferSize || ack.SendBufferSize != cfg.Session.SendBufferSize ||
		ack.MaxMessageSize != cfg.Session.MaxMessageSize || ack.MaxChunkCount != cfg.Session.MaxChunkCount {
		t.Fatalf("ack does not carry configured limits: %+v", ack)
	}
	time.Sleep(100 * time.Millisecond)
	if sess.State() != StateProcessMessages {
		t.Fatalf("state %s after HEL", sess.State())
	}

	_ = peer.conn.Close()
	if status := waitStatus(t, done); status != codec.BadConnectionClosed {
		t.Fatalf("status %s", status)
	}
}

func TestHelloSplitAcrossReads(t *testing.T) {
	_, peer, _ := startSession(t, testConfig(), testSpace(t))

	f, err := frame.NewHelloFrame(defaultHello())
	if err != nil {
		t.Fatalf("hello frame: %v", err)
	}
	raw := f.Bytes()
	peer.write(raw[:10])
	time.Sleep(20 * time.Millisecond)
	peer.write(raw[10:])
	if _, err := frame.DecodeAcknowledge(peer.readFrame()); err != nil {
		t.Fatalf("expected ACK: %v", err)
	}
}

func TestSessionRejects(t *testing.T) {
	tooLarge := frame.EncodeHeader(frame.Header{MessageType: frame.MessageHello, ChunkType: frame.ChunkFinal, MessageSize: 1 << 20})
	badURL := defaultHello()
	badURL.EndpointURL = "http://localhost:4840"
	smallBuffer := defaultHello()
	smallBuffer.ReceiveBufferSize = 1024
	newer := defaultHello()
	newer.ProtocolVersion = 1

	helloBytes := func(h frame.Hello) []byte {
		f, err := frame.NewHelloFrame(h)
		if err != nil {
			t.Fatalf("hello frame: %v", err)
		}
		return f.Bytes()
	}
	openFirst, err := chunk.NewChunker(chunk.DefaultLimits()).Encode(frame.MessageOpen, 0, chunk.NoneSecurityHeader(), 1,
		&service.OpenSecureChannelRequest{SecurityMode: service.SecurityModeNone})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := []struct {
		name  string
		input []byte
		want  codec.StatusCode
	}{
		{"short garbage", []byte{1, 2, 3}, codec.BadCommunicationError},
		{"unknown type", []byte("XYZF\x10\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"), codec.BadTCPMessageTypeInvalid},
		{"too large", tooLarge, codec.BadTCPMessageTooLarge},
		{"open before hello", openFirst[0].Bytes(), codec.BadCommunicationError},
		{"endpoint url", helloBytes(badURL), codec.BadTCPEndpointURLInvalid},
		{"buffer size", helloBytes(smallBuffer), codec.BadCommunicationError},
		{"protocol version", helloBytes(newer), codec.BadProtocolVersionUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, peer, done := startSession(t, testConfig(), testSpace(t))
			peer.write(tc.input)
			peer.expectError(tc.want)
			if status := waitStatus(t, done); status != tc.want {
				t.Fatalf("status %s, want %s", status, tc.want)
			}
		})
	}
}

func TestSecureChannelServices(t *testing.T) {
	sess, peer, done := startSession(t, testConfig(), testSpace(t))
	peer.hello(defaultHello())

	opened := peer.open(service.SecurityTokenIssue)
	if opened.SecurityToken.ChannelID == 0 || opened.SecurityToken.TokenID != 1 {
		t.Fatalf("unexpected token %+v", opened.SecurityToken)
	}
	if opened.SecurityToken.RevisedLifetime != 60000 {
		t.Fatalf("revised lifetime %d", opened.SecurityToken.RevisedLifetime)
	}

	temp := codec.NewStringNodeID(2, "temperature")
	read := peer.call(&service.ReadRequest{
		TimestampsToReturn: service.TimestampsBoth,
		NodesToRead: []service.ReadValueID{
			{NodeID: temp, AttributeID: service.AttributeValue},
			{NodeID: codec.NewStringNodeID(2, "missing"), AttributeID: service.AttributeValue},
		},
	}).(*service.ReadResponse)
	if len(read.Results) != 2 || read.Results[0].Value.Value != float64(21.5) {
		t.Fatalf("unexpected read results %+v", read.Results)
	}
	if read.Results[0].SourceTimestamp.IsZero() || read.Results[0].ServerTimestamp.IsZero() {
		t.Fatalf("timestamps missing: %+v", read.Results[0])
	}
	if read.Results[1].Status != codec.BadNodeIDUnknown {
		t.Fatalf("missing node status %s", read.Results[1].Status)
	}

	written := peer.call(&service.WriteRequest{
		NodesToWrite: []service.WriteValue{
			{NodeID: temp, AttributeID: service.AttributeValue, Value: codec.DataValue{Value: codec.MustVariant(float64(30))}},
			{NodeID: codec.NewStringNodeID(2, "serial"), AttributeID: service.AttributeValue, Value: codec.DataValue{Value: codec.MustVariant("x")}},
		},
	}).(*service.WriteResponse)
	if len(written.Results) != 2 || written.Results[0] != codec.Good || written.Results[1] != codec.BadNotWritable {
		t.Fatalf("unexpected write results %v", written.Results)
	}

	endpoints := peer.call(&service.GetEndpointsRequest{EndpointURL: testEndpointURL}).(*service.GetEndpointsResponse)
	if len(endpoints.Endpoints) != 1 || endpoints.Endpoints[0].SecurityPolicyURI != chunk.SecurityPolicyNoneURI {
		t.Fatalf("unexpected endpoints %+v", endpoints.Endpoints)
	}

	publish := peer.call(&service.PublishRequest{})
	if publish.ResponseHeader().ServiceResult != codec.BadNoSubscription {
		t.Fatalf("publish result %s", publish.ResponseHeader().ServiceResult)
	}

	empty := peer.call(&service.ReadRequest{})
	if empty.ResponseHeader().ServiceResult != codec.BadNothingToDo {
		t.Fatalf("empty read result %s", empty.ResponseHeader().ServiceResult)
	}

	renewed := peer.open(service.SecurityTokenRenew)
	if renewed.SecurityToken.ChannelID != opened.SecurityToken.ChannelID || renewed.SecurityToken.TokenID != 2 {
		t.Fatalf("unexpected renewed token %+v", renewed.SecurityToken)
	}
	if info := sess.Info(); info.TokenID != 2 || info.Requests != 5 {
		t.Fatalf("unexpected info %+v", info)
	}

	peer.send(frame.MessageClose, chunk.SymmetricSecurityHeader{TokenID: peer.tokenID}, &service.CloseSecureChannelRequest{Header: peer.nextHeader()})
	if status := waitStatus(t, done); status != codec.Good {
		t.Fatalf("close status %s", status)
	}
}

func TestUnsupportedServiceGetsFault(t *testing.T) {
	_, peer, _ := startSession(t, testConfig(), testSpace(t))
	peer.hello(defaultHello())
	peer.open(service.SecurityTokenIssue)

	// Hand-built MSG naming an encoding id outside the registry.
	body, err := codec.EncodeToBytes(chunk.SymmetricSecurityHeader{TokenID: peer.tokenID})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	peer.requestID++
	seq, _ := codec.EncodeToBytes(chunk.SequenceHeader{SequenceNumber: 2, RequestID: peer.requestID})
	body = append(body, seq...)
	typeID, _ := codec.EncodeToBytes(codec.NewNumericNodeID(0, 461))
	body = append(body, typeID...)
	header, _ := codec.EncodeToBytes(service.RequestHeader{RequestHandle: 99})
	body = append(body, header...)

	c := chunk.Chunk{
		Header: chunk.Header{MessageType: frame.MessageChunk, ChunkType: frame.ChunkFinal, SecureChannelID: peer.channelID},
		Body:   body,
	}
	peer.write(c.Bytes())

	fault, ok := peer.receive().Body.(*service.ServiceFault)
	if !ok {
		t.Fatal("expected ServiceFault")
	}
	if fault.Header.ServiceResult != codec.BadServiceUnsupported || fault.Header.RequestHandle != 99 {
		t.Fatalf("unexpected fault %+v", fault.Header)
	}
}

func TestChannelChecks(t *testing.T) {
	t.Run("wrong channel id", func(t *testing.T) {
		_, peer, done := startSession(t, testConfig(), testSpace(t))
		peer.hello(defaultHello())
		peer.open(service.SecurityTokenIssue)
		peer.channelID++
		peer.send(frame.MessageChunk, chunk.SymmetricSecurityHeader{TokenID: peer.tokenID}, &service.ReadRequest{Header: peer.nextHeader()})
		peer.expectError(codec.BadSecureChannelIDInvalid)
		waitStatus(t, done)
	})
	t.Run("unknown token", func(t *testing.T) {
		_, peer, done := startSession(t, testConfig(), testSpace(t))
		peer.hello(defaultHello())
		peer.open(service.SecurityTokenIssue)
		peer.send(frame.MessageChunk, chunk.SymmetricSecurityHeader{TokenID: 42}, &service.ReadRequest{Header: peer.nextHeader()})
		peer.expectError(codec.BadSecureChannelTokenUnknown)
		waitStatus(t, done)
	})
	t.Run("message before open", func(t *testing.T) {
		_, peer, done := startSession(t, testConfig(), testSpace(t))
		peer.hello(defaultHello())
		peer.send(frame.MessageChunk, chunk.SymmetricSecurityHeader{}, &service.ReadRequest{Header: peer.nextHeader()})
		peer.expectError(codec.BadSecureChannelIDInvalid)
		waitStatus(t, done)
	})
	t.Run("protocol version mismatch", func(t *testing.T) {
		_, peer, done := startSession(t, testConfig(), testSpace(t))
		peer.hello(defaultHello())
		peer.send(frame.MessageOpen, chunk.NoneSecurityHeader(), &service.OpenSecureChannelRequest{
			Header:                peer.nextHeader(),
			ClientProtocolVersion: 3,
			SecurityMode:          service.SecurityModeNone,
		})
		peer.expectError(codec.BadProtocolVersionUnsupported)
		waitStatus(t, done)
	})
	t.Run("sign mode", func(t *testing.T) {
		_, peer, done := startSession(t, testConfig(), testSpace(t))
		peer.hello(defaultHello())
		peer.send(frame.MessageOpen, chunk.NoneSecurityHeader(), &service.OpenSecureChannelRequest{
			Header:       peer.nextHeader(),
			SecurityMode: service.SecurityModeSign,
		})
		peer.expectError(codec.BadSecurityModeRejected)
		waitStatus(t, done)
	})
}

func TestAbortFinishesWithShutdown(t *testing.T) {
	sess, peer, done := startSession(t, testConfig(), testSpace(t))
	peer.hello(defaultHello())

	sess.Abort()
	peer.expectError(codec.BadShutdown)
	if status := waitStatus(t, done); status != codec.BadShutdown {
		t.Fatalf("status %s", status)
	}
	if !sess.Info().Aborted {
		t.Fatal("info does not report the abort")
	}
}

func TestReadFailureClassification(t *testing.T) {
	if readFailure(errors.New("boom")).status != codec.BadCommunicationError {
		t.Fatal("generic error")
	}
	if f := readFailure(net.ErrClosed); f.status != codec.BadConnectionClosed || f.sendError {
		t.Fatalf("closed: %+v", f)
	}
}
