package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// rpcTimeout bounds how long an RPC may wait for a busy session.
const rpcTimeout = 10 * time.Second

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.Handle("POST /chat", s.requireAuth(s.handleCreateSession))
	mux.Handle("POST /chat/{id}/message", s.requireAuth(s.handleSubmit))
	mux.Handle("GET /chat/{id}/state", s.requireAuth(s.handleState))
	mux.Handle("GET /chat/{id}/history", s.requireAuth(s.handleHistory))
	mux.Handle("GET /chat/{id}/preferences", s.requireAuth(s.handleGetPreferences))
	mux.Handle("POST /chat/{id}/preferences", s.requireAuth(s.handleUpdatePreference))
	mux.Handle("DELETE /chat/{id}/preferences", s.requireAuth(s.handleClearPreferences))
	mux.Handle("POST /chat/{id}/book", s.requireAuth(s.handleBook))
	mux.Handle("GET /chat/{id}/stream", s.requireAuth(s.handleStream))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// requireAuth checks the bearer credential on HTTP requests. Failures count
// against the caller's auth rate limit like failed WebSocket handshakes.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Mode == AuthModeNone {
			next(w, r)
			return
		}
		if !s.authLimiter.allow(r.RemoteAddr) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "too many failed auth attempts",
				"code":  CodeRateLimited,
			})
			return
		}
		res := AuthorizeBearer(s.auth, r.Header.Get("Authorization"))
		if !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="wayfarer"`)
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": res.Reason,
				"code":  CodeUnauthorized,
			})
			return
		}
		next(w, r)
	})
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("session.subscribe", s.rpcSessionSubscribe)
	s.Handle("session.unsubscribe", s.rpcSessionUnsubscribe)
	s.Handle("session.state", s.rpcSessionState)
	s.Handle("preferences.get", s.rpcPreferencesGet)
	s.Handle("preferences.clear", s.rpcPreferencesClear)
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail reports err using the gateway's error mapping.
func (rc *RequestContext) Fail(err error) {
	_, shape := rc.Server.classify(err)
	rc.Client.RespondError(rc.Frame.ID, shape)
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

// sessionParam decodes {sessionId} and validates it, responding on failure.
func (rc *RequestContext) sessionParam() (string, bool) {
	var p sessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return "", false
	}
	if !validSessionID(p.SessionID) {
		rc.RespondError(CodeInvalidParams, errInvalidSessionID.Error())
		return "", false
	}
	return p.SessionID, true
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		Sessions: s.sessions.Count(),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	})
}

type chatSendParams struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if !validSessionID(p.SessionID) {
		rc.RespondError(CodeInvalidParams, errInvalidSessionID.Error())
		return
	}
	if ok, wait := s.submits.allow(p.SessionID); !ok {
		rc.Client.RespondError(rc.Frame.ID, ErrorShape{
			Code:       CodeRateLimited,
			Message:    "too many messages",
			Retryable:  true,
			RetryAfter: int(wait.Milliseconds()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	receipt, err := s.chat.SubmitMessage(ctx, p.SessionID, p.Message)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(receipt)
}

// rpcSessionSubscribe starts pushing a session's events to this connection.
// The response carries the last sequence number so the client can tell
// which events its state snapshot already reflects.
func (s *Server) rpcSessionSubscribe(rc *RequestContext) {
	id, ok := rc.sessionParam()
	if !ok {
		return
	}
	created := rc.Client.Subscribe(s.hub, id)
	rc.Respond(map[string]any{
		"sessionId":         id,
		"subscribed":        true,
		"alreadySubscribed": !created,
		"lastSeq":           s.hub.LastSeq(id),
	})
}

func (s *Server) rpcSessionUnsubscribe(rc *RequestContext) {
	id, ok := rc.sessionParam()
	if !ok {
		return
	}
	rc.Respond(map[string]any{
		"sessionId":    id,
		"unsubscribed": rc.Client.Unsubscribe(id),
	})
}

func (s *Server) rpcSessionState(rc *RequestContext) {
	id, ok := rc.sessionParam()
	if !ok {
		return
	}
	st, err := s.sessions.Snapshot(id)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(st)
}

func (s *Server) rpcPreferencesGet(rc *RequestContext) {
	id, ok := rc.sessionParam()
	if !ok {
		return
	}
	resp, err := s.preferences(id)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(resp)
}

func (s *Server) rpcPreferencesClear(rc *RequestContext) {
	id, ok := rc.sessionParam()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	if err := s.sessions.ClearPreferences(ctx, id); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessionId": id, "cleared": true})
}
