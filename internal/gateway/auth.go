package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/flemzord/toolgate/internal/security"
)

// tokenQueryParam carries the bearer token on websocket upgrades, since
// browser websocket clients cannot set an Authorization header.
const tokenQueryParam = "access_token"

// authenticator checks API credentials. Every attempt is rate limited per
// remote host and recorded in the audit log.
type authenticator struct {
	cfg     AuthConfig
	audit   *security.AuditLogger
	limiter *security.RateLimiter
}

// authMiddleware guards the API routes with the configured bearer token or
// basic credentials.
func authMiddleware(cfg AuthConfig, audit *security.AuditLogger, limiter *security.RateLimiter) func(http.Handler) http.Handler {
	a := &authenticator{cfg: cfg, audit: audit, limiter: limiter}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.limiter.Allow(security.KindAuth, remoteHost(r)); err != nil {
				a.record(security.EventRateLimit, r, err.Error())
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			method, reason := a.check(r)
			if method == "" {
				a.record(security.EventAuthFailure, r, reason)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			a.record(security.EventAuthSuccess, r, method)
			next.ServeHTTP(w, r)
		})
	}
}

// check returns the credential kind that authenticated r, or "" and the
// reason it was refused.
func (a *authenticator) check(r *http.Request) (method, reason string) {
	if token, ok := bearerToken(r); ok {
		if a.cfg.BearerToken != "" && constantTimeEqual(token, a.cfg.BearerToken) {
			return "bearer", ""
		}
		return "", "invalid bearer token"
	}
	if user, pass, ok := r.BasicAuth(); ok {
		if a.cfg.BasicUser != "" && a.cfg.BasicPass != "" &&
			constantTimeEqual(user, a.cfg.BasicUser) && constantTimeEqual(pass, a.cfg.BasicPass) {
			return "basic", ""
		}
		return "", "invalid basic credentials"
	}
	if r.Header.Get("Authorization") == "" {
		return "", "missing credentials"
	}
	return "", "unsupported authorization scheme"
}

// bearerToken extracts a bearer token from the Authorization header or,
// for websocket upgrades only, from the access_token query parameter.
func bearerToken(r *http.Request) (string, bool) {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after, true
	}
	if isWebsocketUpgrade(r) {
		if t := r.URL.Query().Get(tokenQueryParam); t != "" {
			return t, true
		}
	}
	return "", false
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (a *authenticator) record(eventType security.EventType, r *http.Request, detail string) {
	a.audit.Log(security.AuditEvent{
		Type:   eventType,
		Detail: detail,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
}

// remoteHost strips the port so one client shares a bucket across
// connections.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
