package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// HeaderSessionID is the client-supplied session token header.
const HeaderSessionID = "x-session-id"

// Identity ties a request to a device fingerprint and session token.
// It is a best-effort identity for reconnect tracking, not a credential.
type Identity struct {
	DeviceID  string
	SessionID string
	// Generated is true when no token was supplied and a fresh one was minted.
	Generated bool
}

// Resolve derives the request identity. The fingerprint is deterministic
// over user agent and client address; the token comes from the
// x-session-id header when present, otherwise a fresh one is generated.
func Resolve(r *http.Request) Identity {
	token := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	generated := false
	if token == "" {
		token = NewToken()
		generated = true
	}

	return Identity{
		DeviceID:  Fingerprint(r.UserAgent(), clientIP(r)),
		SessionID: token,
		Generated: generated,
	}
}

// Fingerprint hashes client metadata into a stable device identifier.
// Same inputs always produce the same fingerprint.
func Fingerprint(userAgent, addr string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + addr))
	return hex.EncodeToString(sum[:16])
}

// NewToken mints a session token from the current time plus a random
// suffix. Unique across concurrent requests with overwhelming
// probability; not cryptographically meaningful.
func NewToken() string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("sess_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}

// clientIP prefers the RealIP-populated RemoteAddr, stripping the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
