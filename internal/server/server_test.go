package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/opcuactl/internal/addressspace"
	"github.com/danmuck/opcuactl/internal/protocol/codec"
	"github.com/danmuck/opcuactl/internal/testutil/testlog"
)

func startServer(t *testing.T, cfg Config, space *addressspace.Memory) (*Server, string, <-chan error) {
	t.Helper()
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(cfg, space)
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(context.Background(), ln)
	}()
	t.Cleanup(srv.Shutdown)
	return srv, ln.Addr().String(), done
}

func waitServe(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func dialPeer(t *testing.T, addr string) *testPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testPeer{t: t, conn: conn}
}

func waitSessions(t *testing.T, srv *Server, n int) []SessionInfo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions := srv.Sessions()
		if len(sessions) == n {
			return sessions
		}
		if time.Now().After(deadline) {
			t.Fatalf("have %d sessions, want %d", len(sessions), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAbortSwitchStopsServer(t *testing.T) {
	cfg := testConfig()
	cfg.AbortPollInterval = 20 * time.Millisecond
	space := testSpace(t)
	if err := AddControlSwitches(space, cfg); err != nil {
		t.Fatalf("AddControlSwitches: %v", err)
	}
	_, addr, done := startServer(t, cfg, space)

	peer := dialPeer(t, addr)
	peer.hello(defaultHello())

	abortNode, err := codec.ParseNodeID(cfg.AbortNodeID)
	if err != nil {
		t.Fatalf("ParseNodeID: %v", err)
	}
	if err := space.SetAttribute(abortNode, addressspace.AttributeValue, codec.MustVariant(true)); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}

	peer.expectError(codec.BadShutdown)
	waitServe(t, done)
}

func TestAddControlSwitchesDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AbortNodeID = ""
	space := addressspace.NewMemory()
	if err := AddControlSwitches(space, cfg); err != nil {
		t.Fatalf("AddControlSwitches: %v", err)
	}
	if n := len(space.Variables()); n != 0 {
		t.Fatalf("added %d variables with the switch disabled", n)
	}
}

func TestAdminSessions(t *testing.T) {
	srv, addr, done := startServer(t, testConfig(), testSpace(t))
	handler := srv.AdminHandler()

	peer := dialPeer(t, addr)
	peer.hello(defaultHello())
	sessions := waitSessions(t, srv, 1)
	id := sessions[0].ID

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions: %d", rec.Code)
	}
	var list struct {
		Sessions []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != id || list.Sessions[0].State != "ProcessMessages" {
		t.Fatalf("unexpected sessions %+v", list.Sessions)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	var info map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if info["state"] != "ProcessMessages" {
		t.Fatalf("state %v", info["state"])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/missing/abort", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("abort unknown session: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/abort", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("abort session: %d", rec.Code)
	}
	peer.expectError(codec.BadShutdown)
	waitSessions(t, srv, 0)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz: %d", rec.Code)
	}

	srv.Shutdown()
	waitServe(t, done)
}

func TestAdminAbortRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.AdminToken = "s3cret"
	srv, addr, done := startServer(t, cfg, testSpace(t))
	handler := srv.AdminHandler()

	peer := dialPeer(t, addr)
	peer.hello(defaultHello())
	id := waitSessions(t, srv, 1)[0].ID

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/abort", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("abort without token: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /sessions without token: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/abort", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("abort with token: %d", rec.Code)
	}
	peer.expectError(codec.BadShutdown)

	srv.Shutdown()
	waitServe(t, done)
}

func TestShutdownEndsSessions(t *testing.T) {
	srv, addr, done := startServer(t, testConfig(), testSpace(t))
	peer := dialPeer(t, addr)
	peer.hello(defaultHello())
	waitSessions(t, srv, 1)

	srv.Shutdown()
	peer.expectError(codec.BadShutdown)
	waitServe(t, done)
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}

	badURL := testConfig()
	badURL.EndpointURL = "tcp://localhost"
	badNode := testConfig()
	badNode.AbortNodeID = "ns=2;q=abort"
	badSession := testConfig()
	badSession.Session.ReceiveBufferSize = 10

	for name, cfg := range map[string]Config{"endpoint": badURL, "abort node": badNode, "session": badSession} {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := badURL.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestEndpointAdvertisesBinaryTransport(t *testing.T) {
	ep := testConfig().Endpoint()
	if ep.EndpointURL != testEndpointURL || ep.TransportProfileURI != TransportProfileBinary {
		t.Fatalf("unexpected endpoint %+v", ep)
	}
	if len(ep.UserIdentityTokens) != 1 {
		t.Fatalf("expected one anonymous token, got %d", len(ep.UserIdentityTokens))
	}
}
