package oauth

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// TokenPayload is the envelope the broker threads through one authenticated
// session. The broker holds on to it for as long as the session is alive; it
// is the only notion of a client session the authorizer gets.
//
// The token core (raw value, principal, lifetime, claims) is immutable. The
// payload slot is for per-session auxiliary data attached later, for example
// a pointer to the last-seen grants of the session's principal.
type TokenPayload interface {
	// Value returns the raw (opaque) token string.
	Value() string

	// PrincipalName returns the principal name the token was validated to.
	PrincipalName() string

	// LifetimeMs returns the absolute expiry instant in epoch milliseconds.
	LifetimeMs() int64

	// Claims returns the parsed JSON claims of the token, or nil if the
	// host did not attach them.
	Claims() map[string]any

	// Payload returns the value stored via SetPayload, or nil.
	Payload() any

	// SetPayload attaches per-session data to the token.
	SetPayload(payload any)

	// SessionID identifies this token instance for logging and session
	// registry bookkeeping. Two tokens with equal Value still have
	// distinct session ids.
	SessionID() string
}

type token struct {
	raw        string
	principal  string
	lifetimeMs int64
	claims     map[string]any
	sessionID  string

	payload atomic.Value
}

// payloadBox wraps the stored value so a nil payload can be published
// through atomic.Value.
type payloadBox struct {
	value any
}

// NewToken builds a TokenPayload for a validated bearer token. The claims
// map is retained as-is and must not be mutated by the caller afterwards.
func NewToken(raw, principalName string, lifetimeMs int64, claims map[string]any) TokenPayload {
	return &token{
		raw:        raw,
		principal:  principalName,
		lifetimeMs: lifetimeMs,
		claims:     claims,
		sessionID:  xid.New().String(),
	}
}

func (t *token) Value() string          { return t.raw }
func (t *token) PrincipalName() string  { return t.principal }
func (t *token) LifetimeMs() int64      { return t.lifetimeMs }
func (t *token) Claims() map[string]any { return t.claims }
func (t *token) SessionID() string      { return t.sessionID }

func (t *token) Payload() any {
	boxed, ok := t.payload.Load().(payloadBox)
	if !ok {
		return nil
	}
	return boxed.value
}

func (t *token) SetPayload(payload any) {
	t.payload.Store(payloadBox{value: payload})
}
