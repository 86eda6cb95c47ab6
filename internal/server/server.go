package server

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/opcuactl/internal/addressspace"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/rs/zerolog/log"
)

// Server accepts UA-TCP connections and runs one Session per connection.
type Server struct {
	cfg   Config
	space addressspace.AddressSpace

	channelSeq atomic.Uint32
	startedAt  time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	stop     context.CancelFunc

	wg sync.WaitGroup
}

func New(cfg Config, space addressspace.AddressSpace) *Server {
	return &Server{
		cfg:       cfg.WithDefaults(),
		space:     space,
		startedAt: time.Now(),
		sessions:  make(map[string]*Session),
	}
}

func (s *Server) Config() Config { return s.cfg }

// Run listens on ListenAddr, serves the admin API when configured, and
// blocks until ctx is done or the abort switch fires.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("endpoint_url", s.cfg.EndpointURL).
		Msg("server.Server.Run listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	adminErr := make(chan error, 1)
	if s.cfg.AdminListenAddr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, s.cfg.AdminListenAddr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			cancel()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// Serve accepts connections on ln until ctx is done or Shutdown is called,
// then waits for every session to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	if s.cfg.AbortNodeID != "" {
		go s.watchAbortSwitch(ctx, cancel)
	}

	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// Shutdown stops Serve. Running sessions finish with BadShutdown.
func (s *Server) Shutdown() {
	s.mu.RLock()
	stop := s.stop
	s.mu.RUnlock()
	if stop != nil {
		stop()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	sess := NewSession(s.cfg, s.space, s.nextChannelID)
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	active := len(s.sessions)
	s.mu.Unlock()
	log.Info().
		Str("session", sess.ID()).
		Str("remote", conn.RemoteAddr().String()).
		Int("active_sessions", active).
		Msg("server.Server.handleConn client connected")

	sess.Run(ctx, conn)

	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
}

func (s *Server) nextChannelID() uint32 {
	for {
		if id := s.channelSeq.Add(1); id != 0 {
			return id
		}
	}
}

// Sessions lists running sessions ordered by start time.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (s *Server) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Abort aborts one session. It reports false for unknown ids.
func (s *Server) Abort(id string) bool {
	sess, ok := s.Session(id)
	if !ok {
		return false
	}
	sess.Abort()
	return true
}

// watchAbortSwitch polls the abort variable and stops the server once it
// reads true.
func (s *Server) watchAbortSwitch(ctx context.Context, stop context.CancelFunc) {
	nodeID, err := codec.ParseNodeID(s.cfg.AbortNodeID)
	if err != nil {
		log.Warn().Err(err).Str("node", s.cfg.AbortNodeID).Msg("server.Server.watchAbortSwitch invalid node id")
		return
	}
	ticker := time.NewTicker(s.cfg.AbortPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		value, err := s.space.GetAttribute(nodeID, addressspace.AttributeValue)
		if err != nil {
			log.Debug().Err(err).Str("node", s.cfg.AbortNodeID).Msg("server.Server.watchAbortSwitch read failed")
			continue
		}
		abort, ok := value.Value.(bool)
		if !ok || value.Array {
			log.Warn().Str("node", s.cfg.AbortNodeID).Str("type", value.Type.String()).Msg("server.Server.watchAbortSwitch value is not a Boolean")
			continue
		}
		if abort {
			log.Warn().Str("node", s.cfg.AbortNodeID).Msg("server.Server.watchAbortSwitch abort requested")
			stop()
			return
		}
	}
}

// AddControlSwitches adds the writable Boolean abort variable named by
// cfg.AbortNodeID, initially false.
func AddControlSwitches(space *addressspace.Memory, cfg Config) error {
	if cfg.AbortNodeID == "" {
		return nil
	}
	nodeID, err := codec.ParseNodeID(cfg.AbortNodeID)
	if err != nil {
		return err
	}
	return space.AddVariable(addressspace.Variable{
		NodeID:      nodeID,
		BrowseName:  codec.QualifiedName{NamespaceIndex: nodeID.Namespace, Name: "Abort"},
		DisplayName: codec.LocalizedText{Text: "Abort"},
		Description: codec.LocalizedText{Text: "Write true to shut the server down"},
		Value:       codec.MustVariant(false),
		AccessLevel: addressspace.AccessLevelReadWrite,
	})
}
