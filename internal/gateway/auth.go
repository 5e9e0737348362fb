package gateway

import (
	"crypto/subtle"
	"os"
	"strings"

	"github.com/soyeahso/wayfarer/internal/config"
)

// Auth modes.
const (
	AuthModeNone     = "none"
	AuthModeToken    = "token"
	AuthModePassword = "password"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "none" | "token" | "password"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the resolved auth configuration for the gateway.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves authentication credentials from config and environment.
// Precedence: config value → env variable → empty.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode}

	auth.Token = cfg.Token
	if auth.Token == "" {
		auth.Token = os.Getenv("WAYFARER_GATEWAY_TOKEN")
	}

	auth.Password = cfg.Password
	if auth.Password == "" {
		auth.Password = os.Getenv("WAYFARER_GATEWAY_PASSWORD")
	}

	if auth.Mode == "" {
		switch {
		case auth.Password != "":
			auth.Mode = AuthModePassword
		case auth.Token != "":
			auth.Mode = AuthModeToken
		default:
			auth.Mode = AuthModeNone
		}
	}

	return auth
}

// Authorize checks the provided ConnectAuth against the resolved server auth.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if serverAuth.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}

	switch serverAuth.Mode {
	case AuthModeToken:
		if serverAuth.Token == "" {
			return AuthResult{OK: false, Reason: "server token not configured"}
		}
		if clientAuth.Token == "" {
			return AuthResult{OK: false, Reason: "token required"}
		}
		if !safeEqual(clientAuth.Token, serverAuth.Token) {
			return AuthResult{OK: false, Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModeToken}

	case AuthModePassword:
		if serverAuth.Password == "" {
			return AuthResult{OK: false, Reason: "server password not configured"}
		}
		if clientAuth.Password == "" {
			return AuthResult{OK: false, Reason: "password required"}
		}
		if !safeEqual(clientAuth.Password, serverAuth.Password) {
			return AuthResult{OK: false, Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthModePassword}

	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// AuthorizeBearer checks an HTTP Authorization header. The bearer value is
// the token or the password, depending on the server's mode.
func AuthorizeBearer(serverAuth ResolvedAuth, header string) AuthResult {
	if serverAuth.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	secret, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(secret) == "" {
		return Authorize(serverAuth, nil)
	}
	secret = strings.TrimSpace(secret)
	if serverAuth.Mode == AuthModePassword {
		return Authorize(serverAuth, &ConnectAuth{Password: secret})
	}
	return Authorize(serverAuth, &ConnectAuth{Token: secret})
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
