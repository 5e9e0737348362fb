package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/soyeahso/wayfarer/internal/interrupt"
	"github.com/soyeahso/wayfarer/internal/runs"
	"github.com/soyeahso/wayfarer/internal/session"
)

var (
	errInvalidSessionID = errors.New("invalid session id")
	errBadBody          = errors.New("invalid request body")
)

// classify maps a domain error to an HTTP status and wire error. Errors
// that point at a server defect are logged and reported generically.
func (s *Server) classify(err error) (int, ErrorShape) {
	var conflict *runs.ConflictError
	switch {
	case errors.Is(err, interrupt.ErrEmptyMessage),
		errors.Is(err, interrupt.ErrNoSession),
		errors.Is(err, session.ErrNothingToBook),
		errors.Is(err, errInvalidSessionID),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest, ErrorShape{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, ErrorShape{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, interrupt.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorShape{Code: CodeUnavailable, Message: interrupt.ErrUnavailable.Error(), Retryable: true}
	case errors.Is(err, interrupt.ErrClosed):
		return http.StatusServiceUnavailable, ErrorShape{Code: CodeUnavailable, Message: err.Error()}
	case errors.As(err, &conflict):
		s.log.Error().Err(err).Str("sessionId", conflict.SessionID).Msg("run registry conflict reached the gateway")
		return http.StatusInternalServerError, ErrorShape{Code: CodeInternal, Message: "internal error"}
	default:
		s.log.Error().Err(err).Msg("request failed")
		return http.StatusInternalServerError, ErrorShape{Code: CodeInternal, Message: "internal error"}
	}
}

// validSessionID accepts 1-128 characters of letters, digits, '-', '_' and '.'.
func validSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
