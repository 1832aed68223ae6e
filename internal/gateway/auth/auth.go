// Package auth implements the bearer-token gate in front of the gateway
// (§6 Authentication): an HTTP middleware for the control-protocol upgrade
// endpoint plus the WebSocket-subprotocol variant gorilla/websocket needs
// the key read from before the handshake completes.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// closeWriteWait bounds how long RejectUnauthorized waits to flush the
// close frame, mirroring the WebSocket hub's own writeWait.
const closeWriteWait = 10 * time.Second

// subprotocolPrefix is the WebSocket subprotocol clients send the key in,
// since browsers can't set arbitrary headers on the upgrade request.
const subprotocolPrefix = "dominds-auth."

// unauthorizedCloseCode is the WS close code signaling unauthorized (§6).
const unauthorizedCloseCode = 4401

// Gate enforces the bearer-token gate. A Gate with an empty key disables
// auth entirely (§6 "empty-string env disables auth").
type Gate struct {
	key string
}

// New constructs a Gate for key. Pass "" to disable auth.
func New(key string) *Gate {
	return &Gate{key: key}
}

// Enabled reports whether this Gate actually checks anything.
func (g *Gate) Enabled() bool {
	return g.key != ""
}

// GenerateKey returns a fresh RFC-7230 tchar-safe random key, used when
// production mode starts with no configured key (§6 "Production mode
// generates a key if unset").
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidKeyFormat reports whether key consists only of tchar characters, the
// RFC 7230 token character set HTTP header/subprotocol values are safe to
// carry without escaping.
func ValidKeyFormat(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !isTchar(r) {
			return false
		}
	}
	return true
}

func isTchar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		return true
	default:
		return false
	}
}

// CheckHTTP reports whether r carries the correct Authorization: Bearer
// header. Always true when the Gate is disabled.
func (g *Gate) CheckHTTP(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return g.equal(got)
}

// CheckSubprotocol reports whether one of the WebSocket upgrade request's
// offered subprotocols carries the correct key, returning the matched
// subprotocol so the caller can echo it back per RFC 6455. Always true
// (with an empty matched value) when the Gate is disabled.
func (g *Gate) CheckSubprotocol(r *http.Request) (matched string, ok bool) {
	if !g.Enabled() {
		return "", true
	}
	for _, proto := range websocket.Subprotocols(r) {
		key, found := strings.CutPrefix(proto, subprotocolPrefix)
		if !found {
			continue
		}
		if g.equal(key) {
			return proto, true
		}
	}
	return "", false
}

func (g *Gate) equal(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.key)) == 1
}

// RejectUnauthorized closes conn with the §6 unauthorized close code. Used
// once a WebSocket upgrade has already completed but CheckSubprotocol
// failed (the upgrade itself can't carry a 401 status).
func RejectUnauthorized(conn *websocket.Conn, reason string) error {
	msg := websocket.FormatCloseMessage(unauthorizedCloseCode, reason)
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}

// Middleware wraps an http.Handler, rejecting requests that fail
// CheckHTTP with 401 before next ever runs. Used for plain HTTP endpoints
// on the gateway (not the WebSocket upgrade path, which uses
// CheckSubprotocol directly inside the upgrader).
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.CheckHTTP(r) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
