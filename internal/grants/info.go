package grants

import (
	"sync"

	"github.com/grantly-io/grantly/internal/oauth"
)

// Info is the per-principal cache entry: the most recent access token seen
// for the principal, the last successfully fetched grants document, and the
// bookkeeping the refresher and garbage collector decide on.
//
// Readers observe either the previous or the new value of each field, never
// a torn composite; all fields are published under the entry's lock.
type Info struct {
	mu sync.RWMutex

	accessToken string
	grants      any
	expiresAt   int64
	lastUsed    int64
}

func newInfo(accessToken string, expiresAt, nowMillis int64) *Info {
	return &Info{
		accessToken: accessToken,
		expiresAt:   expiresAt,
		lastUsed:    nowMillis,
	}
}

// UpdateTokenIfNewer touches the entry and replaces the stored token with
// the incoming one if it expires later. The stored expiry never decreases;
// ties keep the current token.
func (i *Info) UpdateTokenIfNewer(token oauth.TokenPayload, nowMillis int64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.lastUsed = nowMillis
	if token.LifetimeMs() > i.expiresAt {
		i.accessToken = token.Value()
		i.expiresAt = token.LifetimeMs()
	}
}

// AccessToken returns the most recent raw access token for the principal.
func (i *Info) AccessToken() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.accessToken
}

// Grants returns the last fetched grants document, or nil before the first
// successful fetch.
func (i *Info) Grants() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.grants
}

func (i *Info) setGrants(grants any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.grants = grants
}

// LastUsed returns the instant of the most recent consult in epoch millis.
func (i *Info) LastUsed() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastUsed
}

// ExpiresAt returns the stored absolute expiry instant in epoch millis.
func (i *Info) ExpiresAt() int64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.expiresAt
}

func (i *Info) expiredAt(timestamp int64) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.expiresAt < timestamp
}
