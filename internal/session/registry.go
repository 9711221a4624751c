package session

import (
	"sync"

	"github.com/grantly-io/grantly/internal/oauth"
)

// Registry enumerates the live authenticated sessions of the broker.
// The grants cache consults it to decide which principals are still active
// and to purge sessions whose tokens turned out to be invalid.
type Registry interface {
	// List returns a snapshot of the tokens of all live sessions,
	// one element per session.
	List() []oauth.TokenPayload

	// RemoveAllWithMatchingAccessToken evicts every session whose raw
	// token string equals raw.
	RemoveAllWithMatchingAccessToken(raw string)
}

// InMemoryRegistry is the default Registry used by hosts that keep session
// state in process. Sessions are keyed by the token's session id.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]oauth.TokenPayload
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		sessions: make(map[string]oauth.TokenPayload),
	}
}

// Add registers a session. Re-adding the same token is a no-op.
func (r *InMemoryRegistry) Add(token oauth.TokenPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[token.SessionID()] = token
}

// Remove deregisters a single session.
func (r *InMemoryRegistry) Remove(token oauth.TokenPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, token.SessionID())
}

func (r *InMemoryRegistry) List() []oauth.TokenPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]oauth.TokenPayload, 0, len(r.sessions))
	for _, token := range r.sessions {
		list = append(list, token)
	}
	return list
}

func (r *InMemoryRegistry) RemoveAllWithMatchingAccessToken(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, token := range r.sessions {
		if token.Value() == raw {
			delete(r.sessions, id)
		}
	}
}
