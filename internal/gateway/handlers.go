package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/hooks"
	"github.com/soyeahso/wayfarer/internal/session"
)

const (
	maxBodyBytes   = 64 * 1024
	sseHeartbeat   = 15 * time.Second
	sseRetryMillis = 2000
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	Sessions int    `json:"sessions,omitempty"`
	UptimeMs int64  `json:"uptimeMs,omitempty"`
}

// MessageRequest is the body of POST /chat/{id}/message.
type MessageRequest struct {
	Message string `json:"message"`
}

// PreferenceRequest is the body of POST /chat/{id}/preferences.
type PreferenceRequest struct {
	Category string `json:"category"`
	Value    string `json:"value"`
}

// PreferencesResponse is returned by the preference endpoints.
type PreferencesResponse struct {
	SessionID   string                  `json:"sessionId"`
	Preferences []domain.PreferenceItem `json:"preferences"`
	Summary     string                  `json:"summary,omitempty"`
}

// HistoryResponse is returned by GET /chat/{id}/history.
type HistoryResponse struct {
	SessionID string           `json:"sessionId"`
	History   []domain.Turn    `json:"history"`
	Summaries []domain.Summary `json:"summaries"`
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, shape := s.classify(err)
	writeJSON(w, status, map[string]any{
		"error": shape.Message,
		"code":  shape.Code,
	})
}

func decodeBody(r *http.Request, w http.ResponseWriter, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

// sessionID extracts and validates the {id} path segment.
func sessionID(r *http.Request) (string, error) {
	id := r.PathValue("id")
	if !validSessionID(id) {
		return "", errInvalidSessionID
	}
	return id, nil
}

// handleCreateSession allocates a fresh session id.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if err := s.sessions.Ensure(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

// handleSubmit accepts a user message. The run proceeds in the background;
// its progress arrives on the session's event stream.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req MessageRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if ok, wait := s.submits.allow(id); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": "too many messages",
			"code":  CodeRateLimited,
		})
		return
	}

	receipt, err := s.chat.SubmitMessage(r.Context(), id, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.sessions.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.sessions.Snapshot(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		SessionID: id,
		History:   st.History,
		Summaries: st.Summaries,
	})
}

func (s *Server) preferences(id string) (PreferencesResponse, error) {
	prefs, err := s.sessions.GetPreferences(id)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return PreferencesResponse{}, err
	}
	resp := PreferencesResponse{SessionID: id, Preferences: prefs.Items}
	if resp.Preferences == nil {
		resp.Preferences = []domain.PreferenceItem{}
	}
	if !prefs.Empty() {
		resp.Summary = prefs.Summary()
	}
	return resp, nil
}

// handleGetPreferences reports learned preferences. An unknown session
// simply has none.
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.preferences(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdatePreference(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req PreferenceRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Category == "" || req.Value == "" {
		s.writeError(w, fmt.Errorf("%w: category and value are required", errBadBody))
		return
	}
	if !domain.IsPreferenceCategory(req.Category) {
		s.writeError(w, fmt.Errorf("%w: unknown category %q", errBadBody, req.Category))
		return
	}
	if _, err := s.sessions.UpdatePreference(r.Context(), id, req.Category, req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	resp, err := s.preferences(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearPreferences(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.sessions.ClearPreferences(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "cleared": true})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req domain.BookingRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.sessions.RecordBooking(r.Context(), id, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.hooks != nil {
		s.hooks.EmitAsync(r.Context(), hooks.EventBookingRecorded, map[string]any{
			"sessionId": id,
			"reference": b.Reference,
			"kind":      string(b.Kind),
			"itemId":    b.ItemID,
		})
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleStream streams a session's events as server-sent events until the
// client goes away. Events published before the stream opened are not
// replayed; clients fetch /state first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server's write timeout would otherwise end the stream.
	rc.SetWriteDeadline(time.Time{})

	sub := s.hub.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
	if err := rc.Flush(); err != nil {
		s.log.Debug().Err(err).Msg("sse flush unsupported")
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		case ev, ok := <-sub.Events():
			if !ok {
				fmt.Fprintf(w, "event: %s\ndata: {\"sessionId\":%q}\n\n", EventDropped, id)
				rc.Flush()
				return
			}
			if err := writeSSE(w, ev); err != nil {
				s.log.Warn().Err(err).Str("sessionId", id).Msg("sse encode failed")
				continue
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w io.Writer, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
	return err
}
