package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/events"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/interrupt"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/soyeahso/wayfarer/internal/runs"
	"github.com/soyeahso/wayfarer/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

// fakeChat records submissions and answers with a canned receipt or error.
type fakeChat struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeChat) SubmitMessage(ctx context.Context, sessionID, text string) (interrupt.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID+": "+text)
	if f.err != nil {
		return interrupt.Receipt{}, f.err
	}
	return interrupt.Receipt{SessionID: sessionID, RunID: "run-1"}, nil
}

func (f *fakeChat) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *session.Store
	hub   *events.Hub
	hooks *hooks.Manager
	chat  Submitter
}

type envOption func(*config.Config)

func withAuth(mode, secret string) envOption {
	return func(c *config.Config) {
		c.Gateway.Auth.Mode = mode
		switch mode {
		case AuthModeToken:
			c.Gateway.Auth.Token = secret
		case AuthModePassword:
			c.Gateway.Auth.Password = secret
		}
	}
}

func withRateLimit(perSecond float64, burst int) envOption {
	return func(c *config.Config) {
		c.Gateway.RateLimit = config.RateLimitConfig{MessagesPerSecond: perSecond, Burst: burst}
	}
}

func newTestEnv(t *testing.T, chat Submitter, opts ...envOption) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: AuthModeToken, Token: testToken}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := logging.New(nil, "silent")
	hub := events.NewHub(16, log)
	store := session.NewStore(hub, log)
	hm := hooks.NewManager(log)
	if chat == nil {
		chat = &fakeChat{}
	}

	srv := New(cfg, chat, store, hub, log, WithHooks(hm))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, store: store, hub: hub, hooks: hm, chat: chat}
}

func (e *testEnv) dial(t *testing.T, auth *ConnectAuth) (*websocket.Conn, Frame) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, FrameTypeEvent, challenge.Type)
	assert.Equal(t, "connect.challenge", challenge.Event)

	connectReq, err := NewRequest("auth-req", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux", Mode: "app"},
		Auth:        auth,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connectReq))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}

// connect returns a WebSocket connection that has completed the handshake.
func (e *testEnv) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, hello := e.dial(t, &ConnectAuth{Token: testToken})
	require.NotNil(t, hello.OK)
	require.True(t, *hello.OK, "handshake should succeed")
	return conn
}

// call sends one RPC and returns its response, skipping pushed events.
func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

func ok(t *testing.T, f Frame) {
	t.Helper()
	require.NotNil(t, f.OK)
	require.True(t, *f.OK, "unexpected error: %+v", f.Error)
}

func failed(t *testing.T, f Frame, code string) {
	t.Helper()
	require.NotNil(t, f.OK)
	require.False(t, *f.OK)
	require.NotNil(t, f.Error)
	assert.Equal(t, code, f.Error.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status; no version, clients, or uptime
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, err := http.Get(e.ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	e := newTestEnv(t, nil)
	_, helloResp := e.dial(t, &ConnectAuth{Token: testToken})

	assert.Equal(t, FrameTypeResponse, helloResp.Type)
	assert.Equal(t, "auth-req", helloResp.ID)
	ok(t, helloResp)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(helloResp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Contains(t, hello.Features.Methods, "chat.send")
	assert.Contains(t, hello.Features.Methods, "session.subscribe")
	assert.Contains(t, hello.Features.Events, EventChat)
	assert.Greater(t, hello.Policy.MaxPayload, 0)
}

func TestWebSocketHandshakeWrongToken(t *testing.T) {
	e := newTestEnv(t, nil)
	_, resp := e.dial(t, &ConnectAuth{Token: "wrong-token"})
	failed(t, resp, CodeUnauthorized)
}

func TestWebSocketHandshakeOpenMode(t *testing.T) {
	e := newTestEnv(t, nil, withAuth(AuthModeNone, ""))
	_, resp := e.dial(t, nil)
	ok(t, resp)
}

func TestWebSocketRateLimitedAfterFailures(t *testing.T) {
	e := newTestEnv(t, nil)
	for range authRateMaxFails {
		e.srv.authLimiter.recordFailure("127.0.0.1:1")
	}

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocketRPCHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.connect(t)
	require.NoError(t, e.store.Ensure(context.Background(), "s1"))

	resp := call(t, conn, "req-2", "health", nil)
	ok(t, resp)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
	assert.Equal(t, 1, health.Sessions)
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.connect(t)

	failed(t, call(t, conn, "req-6", "nonexistent.method", nil), CodeMethodNotFound)
}

func TestChatSendRPC(t *testing.T) {
	chat := &fakeChat{}
	e := newTestEnv(t, chat)
	conn := e.connect(t)

	resp := call(t, conn, "chat-1", "chat.send", chatSendParams{SessionID: "s1", Message: "flights to Paris"})
	ok(t, resp)

	var receipt interrupt.Receipt
	require.NoError(t, json.Unmarshal(resp.Payload, &receipt))
	assert.Equal(t, "s1", receipt.SessionID)
	assert.Equal(t, "run-1", receipt.RunID)
	assert.Equal(t, []string{"s1: flights to Paris"}, chat.submitted())
}

func TestChatSendRPCErrors(t *testing.T) {
	tests := []struct {
		name   string
		params chatSendParams
		err    error
		code   string
	}{
		{"bad session id", chatSendParams{SessionID: "no spaces", Message: "hi"}, nil, CodeInvalidParams},
		{"empty message", chatSendParams{SessionID: "s1"}, interrupt.ErrEmptyMessage, CodeInvalidParams},
		{"busy", chatSendParams{SessionID: "s1", Message: "hi"}, interrupt.ErrUnavailable, CodeUnavailable},
		{"shut down", chatSendParams{SessionID: "s1", Message: "hi"}, interrupt.ErrClosed, CodeUnavailable},
		{"registry conflict", chatSendParams{SessionID: "s1", Message: "hi"}, &runs.ConflictError{SessionID: "s1", ActiveID: "r0"}, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, &fakeChat{err: tt.err})
			conn := e.connect(t)
			resp := call(t, conn, "c", "chat.send", tt.params)
			failed(t, resp, tt.code)
			if tt.code == CodeInternal {
				assert.Equal(t, "internal error", resp.Error.Message)
			}
		})
	}
}

func TestChatSendRPCRateLimited(t *testing.T) {
	e := newTestEnv(t, nil, withRateLimit(0.001, 1))
	conn := e.connect(t)

	ok(t, call(t, conn, "c1", "chat.send", chatSendParams{SessionID: "s1", Message: "one"}))
	resp := call(t, conn, "c2", "chat.send", chatSendParams{SessionID: "s1", Message: "two"})
	failed(t, resp, CodeRateLimited)
	assert.True(t, resp.Error.Retryable)
	assert.Positive(t, resp.Error.RetryAfter)

	// Other sessions have their own budget.
	ok(t, call(t, conn, "c3", "chat.send", chatSendParams{SessionID: "s2", Message: "three"}))
}

func TestSessionSubscribeForwardsEvents(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.connect(t)

	resp := call(t, conn, "sub", "session.subscribe", sessionParams{SessionID: "s1"})
	ok(t, resp)
	var sub map[string]any
	require.NoError(t, json.Unmarshal(resp.Payload, &sub))
	assert.Equal(t, true, sub["subscribed"])
	assert.Equal(t, false, sub["alreadySubscribed"])

	require.NoError(t, e.store.Update(context.Background(), "s1", func(tx *session.Tx) error {
		tx.PublishFor("r1", domain.EventStatus, domain.StatusData{Status: domain.StatusProcessing})
		return nil
	}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameTypeEvent, f.Type)
	assert.Equal(t, EventChat, f.Event)
	assert.Equal(t, int64(1), f.Seq)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, "status", ev["type"])
	assert.Equal(t, "r1", ev["runId"])

	again := call(t, conn, "sub2", "session.subscribe", sessionParams{SessionID: "s1"})
	ok(t, again)
	require.NoError(t, json.Unmarshal(again.Payload, &sub))
	assert.Equal(t, true, sub["alreadySubscribed"])
	assert.Equal(t, float64(1), sub["lastSeq"])

	ok(t, call(t, conn, "unsub", "session.unsubscribe", sessionParams{SessionID: "s1"}))
	assert.Eventually(t, func() bool { return e.hub.Subscribers("s1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscriptionsEndWithConnection(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.connect(t)
	ok(t, call(t, conn, "sub", "session.subscribe", sessionParams{SessionID: "s1"}))
	require.Equal(t, 1, e.hub.Subscribers("s1"))

	conn.Close()
	assert.Eventually(t, func() bool { return e.hub.Subscribers("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionStateRPC(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.connect(t)

	failed(t, call(t, conn, "st0", "session.state", sessionParams{SessionID: "missing"}), CodeNotFound)
	failed(t, call(t, conn, "st1", "session.state", sessionParams{}), CodeInvalidParams)

	require.NoError(t, e.store.Update(context.Background(), "s1", func(tx *session.Tx) error {
		tx.AppendTurn(domain.Turn{Sender: domain.SenderUser, Text: "hello"})
		return nil
	}))
	resp := call(t, conn, "st2", "session.state", sessionParams{SessionID: "s1"})
	ok(t, resp)

	var st domain.SessionState
	require.NoError(t, json.Unmarshal(resp.Payload, &st))
	assert.Equal(t, "s1", st.ID)
	require.Len(t, st.History, 1)
	assert.Equal(t, "hello", st.History[0].Text)
}

func TestPreferencesRPC(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := e.connect(t)
	ctx := context.Background()

	_, err := e.store.UpdatePreference(ctx, "s1", domain.PrefMaxStops, "0")
	require.NoError(t, err)

	resp := call(t, conn, "p1", "preferences.get", sessionParams{SessionID: "s1"})
	ok(t, resp)
	var prefs PreferencesResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &prefs))
	require.Len(t, prefs.Preferences, 1)
	assert.Equal(t, "Prefers direct flights", prefs.Summary)

	ok(t, call(t, conn, "p2", "preferences.clear", sessionParams{SessionID: "s1"}))
	// Clearing twice is fine.
	ok(t, call(t, conn, "p3", "preferences.clear", sessionParams{SessionID: "s1"}))

	got, err := e.store.GetPreferences("s1")
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0 // let OS pick a port

	log := logging.New(nil, "silent")
	hub := events.NewHub(0, log)
	hm := hooks.NewManager(log)

	var mu sync.Mutex
	var seen []string
	for _, ev := range []string{hooks.EventGatewayStart, hooks.EventGatewayStop} {
		hm.On(ev, "test", func(ctx context.Context, p hooks.Payload) error {
			mu.Lock()
			seen = append(seen, p.Event)
			mu.Unlock()
			return nil
		})
	}

	srv := New(cfg, &fakeChat{}, session.NewStore(hub, log), hub, log, WithHooks(hm))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2 && seen[1] == hooks.EventGatewayStop
	}, 2*time.Second, 10*time.Millisecond)
}
