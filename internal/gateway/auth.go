package gateway

import (
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/shopagent/internal/config"
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

// ResolveAuth resolves credentials from config, falling back to
// SHOPAGENT_GATEWAY_TOKEN and SHOPAGENT_GATEWAY_PASSWORD.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Token == "" {
		auth.Token = os.Getenv("SHOPAGENT_GATEWAY_TOKEN")
	}
	if auth.Password == "" {
		auth.Password = os.Getenv("SHOPAGENT_GATEWAY_PASSWORD")
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = AuthModePassword
		} else {
			auth.Mode = AuthModeToken
		}
	}
	return auth
}

// Authorize checks WebSocket connect credentials against the server auth.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if serverAuth.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}

	switch serverAuth.Mode {
	case AuthModeToken:
		return checkSecret(AuthModeToken, serverAuth.Token, clientAuth.Token)
	case AuthModePassword:
		return checkSecret(AuthModePassword, serverAuth.Password, clientAuth.Password)
	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

// AuthorizeBearer checks an HTTP Authorization header. The bearer value is
// the token or the password depending on the mode.
func AuthorizeBearer(serverAuth ResolvedAuth, header string) AuthResult {
	if serverAuth.Mode == AuthModeNone {
		return AuthResult{OK: true, Method: AuthModeNone}
	}
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return AuthResult{OK: false, Reason: "bearer credentials required"}
	}
	value = strings.TrimSpace(value)
	switch serverAuth.Mode {
	case AuthModeToken:
		return checkSecret(AuthModeToken, serverAuth.Token, value)
	case AuthModePassword:
		return checkSecret(AuthModePassword, serverAuth.Password, value)
	default:
		return AuthResult{OK: false, Reason: "unknown auth mode: " + serverAuth.Mode}
	}
}

func checkSecret(mode, expected, got string) AuthResult {
	if expected == "" {
		return AuthResult{OK: false, Reason: "server " + mode + " not configured"}
	}
	if got == "" {
		return AuthResult{OK: false, Reason: mode + " required"}
	}
	if !safeEqual(got, expected) {
		return AuthResult{OK: false, Reason: mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: mode}
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authRateLimiter tracks failed auth attempts per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time), now: time.Now}
}

// run prunes stale entries every minute until done is closed.
func (l *authRateLimiter) run(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-authRateWindow)
	for ip, times := range l.failures {
		if kept := recent(times, cutoff); len(kept) == 0 {
			delete(l.failures, ip)
		} else {
			l.failures[ip] = kept
		}
	}
}

func recent(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := recent(l.failures[host], l.now().Add(-authRateWindow))
	if len(kept) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = kept
	return len(kept) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldest time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldest)) {
				oldestIP, oldest = ip, times[0]
			}
		}
		delete(l.failures, oldestIP)
	}
	l.failures[host] = append(l.failures[host], l.now())
}

// checkWebSocketOrigin allows requests without an Origin header and those
// whose Origin is listed (or "*").
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isOriginAllowed(origin, allowed)
	}
}
