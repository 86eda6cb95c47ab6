package server

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/opcuactl/internal/observability"
	"github.com/danmuck/opcuactl/internal/protocol/chunk"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/protocol/frame"
	"github.com/danmuck/opcuactl/internal/protocol/service"
)

// TransportProfileBinary is the UA-TCP binary transport profile.
const TransportProfileBinary = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"

// serviceRequest answers one MSG request. Unsupported services get a fault.
// Caller holds s.mu.
func (s *Session) serviceRequest(msg chunk.Message, err error, out *bytes.Buffer) *finish {
	var unsupported *service.UnsupportedError
	if err != nil && !errors.As(err, &unsupported) {
		return fail(err)
	}
	if result := s.checkToken(msg.TokenID()); result != nil {
		return result
	}

	start := time.Now()
	var (
		name   string
		header *service.RequestHeader
		resp   service.Response
	)
	if unsupported != nil {
		name = fmt.Sprintf("Unsupported(%s)", unsupported.TypeID)
		header = unsupported.Header
		resp = service.NewServiceFault(header, codec.BadServiceUnsupported)
	} else {
		req, ok := msg.Body.(service.Request)
		if !ok {
			return failf(codec.BadCommunicationError, "MSG carries %s", service.Name(msg.Body))
		}
		name = service.Name(req)
		header = req.RequestHeader()
		resp = s.dispatch(req)
	}
	s.st.requests++

	security := chunk.SymmetricSecurityHeader{TokenID: s.st.tokenID}
	result := s.send(out, frame.MessageChunk, security, msg.SequenceHeader.RequestID, resp)
	if result != nil && result.status == codec.BadTCPMessageTooLarge {
		s.log.Warn().Str("service", name).Str("reason", result.reason).Msg("server.Session.serviceRequest response too large")
		resp = service.NewServiceFault(header, codec.BadResponseTooLarge)
		result = s.send(out, frame.MessageChunk, security, msg.SequenceHeader.RequestID, resp)
	}

	status := resp.ResponseHeader().ServiceResult
	observability.RecordServiceRequest(name, status.String(), time.Since(start))
	s.log.Debug().
		Str("service", name).
		Uint32("handle", resp.ResponseHeader().RequestHandle).
		Str("status", status.String()).
		Msg("server.Session.serviceRequest")
	return result
}

func (s *Session) dispatch(req service.Request) service.Response {
	switch req := req.(type) {
	case *service.ReadRequest:
		return s.read(req)
	case *service.WriteRequest:
		return s.write(req)
	case *service.GetEndpointsRequest:
		return s.getEndpoints(req)
	case *service.PublishRequest:
		return service.NewServiceFault(&req.Header, codec.BadNoSubscription)
	default:
		return service.NewServiceFault(req.RequestHeader(), codec.BadServiceUnsupported)
	}
}

func (s *Session) checkOperations(header *service.RequestHeader, n int) service.Response {
	if n == 0 {
		return service.NewServiceFault(header, codec.BadNothingToDo)
	}
	if n > s.cfg.MaxOperationsPerRequest {
		return service.NewServiceFault(header, codec.BadTooManyOperations)
	}
	return nil
}

func (s *Session) read(req *service.ReadRequest) service.Response {
	if req.MaxAge < 0 {
		return service.NewServiceFault(&req.Header, codec.BadMaxAgeInvalid)
	}
	if req.TimestampsToReturn == service.TimestampsInvalid {
		return service.NewServiceFault(&req.Header, codec.BadTimestampsToReturnInvalid)
	}
	if fault := s.checkOperations(&req.Header, len(req.NodesToRead)); fault != nil {
		return fault
	}

	now := time.Now().UTC()
	results := make([]codec.DataValue, len(req.NodesToRead))
	for i, node := range req.NodesToRead {
		value, err := s.space.GetAttribute(node.NodeID, node.AttributeID)
		if err != nil {
			results[i] = codec.DataValue{Status: codec.StatusOf(err)}
			continue
		}
		dv := codec.DataValue{Value: value}
		if node.AttributeID == service.AttributeValue && req.TimestampsToReturn.IncludesSource() {
			dv.SourceTimestamp = now
		}
		if req.TimestampsToReturn.IncludesServer() {
			dv.ServerTimestamp = now
		}
		results[i] = dv
	}
	return &service.ReadResponse{
		Header:  service.NewResponseHeader(&req.Header, codec.Good),
		Results: results,
	}
}

func (s *Session) write(req *service.WriteRequest) service.Response {
	if fault := s.checkOperations(&req.Header, len(req.NodesToWrite)); fault != nil {
		return fault
	}
	results := make([]codec.StatusCode, len(req.NodesToWrite))
	for i, node := range req.NodesToWrite {
		if node.IndexRange != "" {
			results[i] = codec.BadWriteNotSupported
			continue
		}
		results[i] = codec.StatusOf(s.space.SetAttribute(node.NodeID, node.AttributeID, node.Value.Value))
	}
	return &service.WriteResponse{
		Header:  service.NewResponseHeader(&req.Header, codec.Good),
		Results: results,
	}
}

// Endpoint is the single endpoint this server offers: policy None with an
// anonymous token.
func (c Config) Endpoint() service.EndpointDescription {
	return service.EndpointDescription{
		EndpointURL: c.EndpointURL,
		Server: service.ApplicationDescription{
			ApplicationURI:  c.ApplicationURI,
			ProductURI:      c.ProductURI,
			ApplicationName: codec.LocalizedText{Text: c.ApplicationName},
			ApplicationType: service.ApplicationServer,
			DiscoveryURLs:   []string{c.EndpointURL},
		},
		SecurityMode:      service.SecurityModeNone,
		SecurityPolicyURI: chunk.SecurityPolicyNoneURI,
		UserIdentityTokens: []service.UserTokenPolicy{
			{PolicyID: "anonymous", TokenType: service.UserTokenAnonymous},
		},
		TransportProfileURI: TransportProfileBinary,
	}
}

func (s *Session) getEndpoints(req *service.GetEndpointsRequest) service.Response {
	return &service.GetEndpointsResponse{
		Header:    service.NewResponseHeader(&req.Header, codec.Good),
		Endpoints: []service.EndpointDescription{s.cfg.Endpoint()},
	}
}
