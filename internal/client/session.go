package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
	"github.com/danmuck/opcuactl/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is an open secure channel. Methods are safe for concurrent use.
type Session struct {
	cfg     Config
	conn    net.Conn
	chunker *chunk.Chunker
	outbox  *session.Outbox
	queue   *session.MessageQueue
	token   service.ChannelSecurityToken
	log     zerolog.Logger

	handles   atomic.Uint32
	requestID uint32 // send loop only, after the handshake

	errMu sync.Mutex
	err   error

	sendDone  chan struct{}
	recvDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSession(cfg Config, conn net.Conn, chunker *chunk.Chunker) *Session {
	outbox := session.NewOutbox()
	return &Session{
		cfg:      cfg,
		conn:     conn,
		chunker:  chunker,
		outbox:   outbox,
		queue:    session.NewMessageQueue(outbox),
		log:      log.With().Str("endpoint_url", cfg.EndpointURL).Logger(),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

func (s *Session) start() {
	go s.sendLoop()
	go s.receiveLoop()
}

// SecurityToken is the token issued when the channel was opened.
func (s *Session) SecurityToken() service.ChannelSecurityToken { return s.token }

// Config returns the client config the session was opened with.
func (s *Session) Config() Config { return s.cfg }

func (s *Session) Stats() session.QueueStats { return s.queue.Stats() }

// Err returns the error that ended the session, or nil while it is live.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail records the first terminal error and wakes every waiting caller.
func (s *Session) fail(err error) {
	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.errMu.Unlock()
	if first && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn().Err(err).Str("status", codec.StatusOf(err).String()).Msg("client.Session connection lost")
	}
	s.queue.Clear()
}

func (s *Session) nextHandle() uint32 {
	for {
		if h := s.handles.Add(1); h != 0 {
			return h
		}
	}
}

func (s *Session) nextHeader() service.RequestHeader {
	return service.RequestHeader{
		Timestamp:     time.Now().UTC(),
		RequestHandle: s.nextHandle(),
		TimeoutHint:   uint32(s.cfg.Session.RequestTimeout.Milliseconds()),
	}
}

// sendLoop drains the outbox until the quit sentinel or a write failure.
func (s *Session) sendLoop() {
	defer close(s.sendDone)
	for {
		out, err := s.outbox.Pop(context.Background())
		if err != nil || out.IsQuit() {
			return
		}
		req := out.Request
		messageType := frame.MessageChunk
		if _, ok := req.(*service.CloseSecureChannelRequest); ok {
			messageType = frame.MessageClose
		}

		s.requestID++
		security := chunk.SymmetricSecurityHeader{TokenID: s.token.TokenID}
		chunks, err := s.chunker.Encode(messageType, s.token.ChannelID, security, s.requestID, req)
		if err != nil {
			status := codec.StatusOf(err)
			if status == codec.BadTCPMessageTooLarge {
				status = codec.BadRequestTooLarge
			}
			s.log.Warn().Err(err).Str("service", service.Name(req)).Msg("client.Session.sendLoop encode failed")
			s.queue.StoreResponse(service.NewServiceFault(req.RequestHeader(), status))
			continue
		}

		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
		if err := chunk.WriteChunks(s.conn, chunks); err != nil {
			s.fail(codec.Errorf(codec.BadCommunicationError, "write %s: %v", service.Name(req), err))
			return
		}
		for _, c := range chunks {
			observability.RecordFrame("out", string(messageType), int(c.Header.MessageSize))
		}
	}
}

// receiveLoop files every response in the queue until the connection ends.
func (s *Session) receiveLoop() {
	defer close(s.recvDone)
	for {
		msg, err := s.readMessage()
		if errors.Is(err, io.EOF) {
			err = codec.Errorf(codec.BadConnectionClosed, "server closed the connection")
		}
		if err != nil {
			s.fail(err)
			return
		}
		resp, ok := msg.Body.(service.Response)
		if !ok {
			s.log.Warn().Str("message", service.Name(msg.Body)).Msg("client.Session.receiveLoop ignoring non-response")
			continue
		}
		s.queue.StoreResponse(resp)
	}
}

// readMessage reads chunks up to a final one and reassembles them. Aborted
// messages are skipped. An ERR frame from the server is a *chunk.PeerError.
func (s *Session) readMessage() (chunk.Message, error) {
	var partial []chunk.Chunk
	for {
		ch, err := chunk.DecodeChunk(s.conn, s.cfg.Session.ReceiveBufferSize)
		if err != nil {
			return chunk.Message{}, err
		}
		observability.RecordFrame("in", string(ch.Header.MessageType), int(ch.Header.MessageSize))
		if ch.IsAbort() {
			for _, dropped := range append(partial, ch) {
				if err := s.chunker.Skip(dropped); err != nil {
					return chunk.Message{}, err
				}
			}
			partial = nil
			continue
		}
		partial = append(partial, ch)
		if ch.IsFinal() {
			return s.chunker.Reassemble(partial)
		}
	}
}

// Call sends req and waits for its response until RequestTimeout or the ctx
// deadline, whichever is sooner. The request header is filled in here.
func (s *Session) Call(ctx context.Context, req service.Request) (service.Response, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}
	header := req.RequestHeader()
	*header = s.nextHeader()
	name := service.Name(req)

	ctx, span := observability.StartCall(ctx, name, header.RequestHandle, s.cfg.EndpointURL)
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Session.RequestTimeout)
	defer cancel()

	resp, err := s.await(ctx, req, header.RequestHandle)
	status := codec.StatusOf(err)
	if err == nil {
		status = resp.ResponseHeader().ServiceResult
	}
	observability.RecordClientCall(name, status.String(), time.Since(start))
	observability.EndSpan(span, status.String(), err)
	return resp, err
}

func (s *Session) await(ctx context.Context, req service.Request, handle uint32) (service.Response, error) {
	if err := s.queue.AddRequest(req, session.DeliverySync); err != nil {
		return nil, err
	}
	for {
		changed := s.queue.Changed()
		if resp, ok := s.queue.TakeResponse(handle); ok {
			return resp, nil
		}
		if err := s.Err(); err != nil {
			s.queue.RequestHasTimedOut(handle)
			return nil, err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			s.queue.RequestHasTimedOut(handle)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, codec.Errorf(codec.BadTimeout, "%s handle %d: no response", service.Name(req), handle)
			}
			return nil, ctx.Err()
		}
	}
}

// expect unwraps a typed response. A ServiceFault or a bad ServiceResult
// becomes an error carrying its status.
func expect[T service.Response](resp service.Response, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if fault, ok := resp.(*service.ServiceFault); ok {
		return zero, codec.Errorf(fault.Header.ServiceResult, "service fault")
	}
	out, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnexpectedResponse, service.Name(resp))
	}
	if result := out.ResponseHeader().ServiceResult; !result.IsGood() {
		return out, codec.Errorf(result, "%s", service.Name(resp))
	}
	return out, nil
}

func (s *Session) Read(ctx context.Context, nodes []service.ReadValueID, timestamps service.TimestampsToReturn) ([]codec.DataValue, error) {
	resp, err := expect[*service.ReadResponse](s.Call(ctx, &service.ReadRequest{
		TimestampsToReturn: timestamps,
		NodesToRead:        nodes,
	}))
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ReadValue reads the Value attribute of one node.
func (s *Session) ReadValue(ctx context.Context, nodeID codec.NodeID) (codec.DataValue, error) {
	results, err := s.Read(ctx, []service.ReadValueID{{NodeID: nodeID, AttributeID: service.AttributeValue}}, service.TimestampsBoth)
	if err != nil {
		return codec.DataValue{}, err
	}
	if len(results) != 1 {
		return codec.DataValue{}, fmt.Errorf("%w: %d results for one node", ErrUnexpectedResponse, len(results))
	}
	return results[0], nil
}

func (s *Session) Write(ctx context.Context, values []service.WriteValue) ([]codec.StatusCode, error) {
	resp, err := expect[*service.WriteResponse](s.Call(ctx, &service.WriteRequest{NodesToWrite: values}))
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// WriteValue writes the Value attribute of one node and returns its status
// as an error.
func (s *Session) WriteValue(ctx context.Context, nodeID codec.NodeID, value codec.Variant) error {
	results, err := s.Write(ctx, []service.WriteValue{{
		NodeID:      nodeID,
		AttributeID: service.AttributeValue,
		Value:       codec.DataValue{Value: value},
	}})
	if err != nil {
		return err
	}
	if len(results) != 1 {
		return fmt.Errorf("%w: %d results for one node", ErrUnexpectedResponse, len(results))
	}
	if !results[0].IsGood() {
		return codec.Errorf(results[0], "write %s", nodeID)
	}
	return nil
}

func (s *Session) GetEndpoints(ctx context.Context) ([]service.EndpointDescription, error) {
	resp, err := expect[*service.GetEndpointsResponse](s.Call(ctx, &service.GetEndpointsRequest{
		EndpointURL: s.cfg.EndpointURL,
	}))
	if err != nil {
		return nil, err
	}
	return resp.Endpoints, nil
}

// PublishAsync queues a Publish request without waiting. Its response is
// collected by AsyncResponses.
func (s *Session) PublishAsync(acks ...service.SubscriptionAcknowledgement) (uint32, error) {
	if err := s.Err(); err != nil {
		return 0, err
	}
	req := &service.PublishRequest{Header: s.nextHeader(), SubscriptionAcknowledgements: acks}
	if err := s.queue.AddRequest(req, session.DeliveryAsync); err != nil {
		return 0, err
	}
	return req.Header.RequestHandle, nil
}

// AsyncResponses drains the responses to async requests in issue order.
func (s *Session) AsyncResponses() []service.Response {
	return s.queue.AsyncResponses()
}

// Changed exposes the queue change signal for callers polling AsyncResponses.
func (s *Session) Changed() <-chan struct{} {
	return s.queue.Changed()
}

// Close sends CLO, stops both loops and releases the connection. Further
// calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Session) close() error {
	live := s.Err() == nil
	s.fail(ErrSessionClosed)
	if live {
		req := &service.CloseSecureChannelRequest{Header: s.nextHeader()}
		if err := s.outbox.Push(session.Outbound{Request: req}); err != nil {
			s.log.Debug().Err(err).Msg("client.Session.Close could not queue CLO")
		}
	}
	s.queue.Quit()
	select {
	case <-s.sendDone:
	case <-time.After(s.cfg.Session.WriteTimeout):
		s.log.Warn().Msg("client.Session.Close send loop did not stop")
	}
	s.outbox.Close()

	err := s.conn.Close()
	<-s.recvDone
	s.queue.Clear()
	s.log.Info().Uint32("channel_id", s.token.ChannelID).Msg("client.Session.Close")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
