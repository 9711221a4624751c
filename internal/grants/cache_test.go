package grants

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/grantly-io/grantly/internal/config"
	"github.com/grantly-io/grantly/internal/logging"
	"github.com/grantly-io/grantly/internal/oauth"
	"github.com/grantly-io/grantly/internal/session"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	ms atomic.Int64
}

func newFakeClock(start int64) *fakeClock {
	c := &fakeClock{}
	c.ms.Store(start)
	return c
}

func (c *fakeClock) NowMillis() int64 {
	return c.ms.Load()
}

func (c *fakeClock) advance(d time.Duration) {
	c.ms.Add(d.Milliseconds())
}

func testConfig() config.Authorizer {
	return config.Authorizer{
		GrantsRefreshPeriodSeconds: 0, // ticks are driven manually in tests
		GrantsRefreshPoolSize:      2,
		GrantsMaxIdleTimeSeconds:   300,
		HTTPRetries:                0,
		GCPeriodSeconds:            60,
	}
}

func testLogger() logging.InternalLogger {
	return logging.NewZLogger(zerolog.Nop())
}

func newTestCache(t *testing.T, cfg config.Authorizer, fetch FetchFunc, registry session.Registry, clock oauth.Clock) *Cache {
	t.Helper()
	c, err := New(cfg, Deps{
		Fetch:    fetch,
		Sessions: registry,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

const hourMillis = int64(60 * 60 * 1000)

// startMillis is an arbitrary wall-clock instant well past the gc debounce
// window.
const startMillis = int64(1_700_000_000_000)

func newSessionToken(registry *session.InMemoryRegistry, raw, principal string, lifetimeMs int64) oauth.TokenPayload {
	token := oauth.NewToken(raw, principal, lifetimeMs, nil)
	registry.Add(token)
	return token
}

func TestNewValidatesConfigAndDeps(t *testing.T) {
	registry := session.NewInMemoryRegistry()
	fetch := func(string) (any, error) { return EmptyGrants(), nil }

	bad := testConfig()
	bad.GCPeriodSeconds = 0
	if _, err := New(bad, Deps{Fetch: fetch, Sessions: registry}); err == nil {
		t.Error("New() with gc period 0 expected error, got nil")
	}

	if _, err := New(testConfig(), Deps{Sessions: registry}); err == nil {
		t.Error("New() without fetcher expected error, got nil")
	}
	if _, err := New(testConfig(), Deps{Fetch: fetch}); err == nil {
		t.Error("New() without session registry expected error, got nil")
	}
}

func TestInfoForKeepsNewestToken(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	c := newTestCache(t, testConfig(), func(string) (any, error) { return EmptyGrants(), nil }, registry, clock)

	first := oauth.NewToken("T1", "alice", startMillis+2*hourMillis, nil)
	info := c.InfoFor(first)
	if info.AccessToken() != "T1" {
		t.Fatalf("AccessToken() = %q, want T1", info.AccessToken())
	}

	// an older token must not roll the entry back
	older := oauth.NewToken("T0", "alice", startMillis+hourMillis, nil)
	if got := c.InfoFor(older); got != info {
		t.Fatal("InfoFor() returned a different entry for the same principal")
	}
	if info.AccessToken() != "T1" {
		t.Errorf("AccessToken() after older token = %q, want T1", info.AccessToken())
	}
	if info.ExpiresAt() != startMillis+2*hourMillis {
		t.Errorf("ExpiresAt() decreased to %d", info.ExpiresAt())
	}

	// a newer token replaces token and expiry
	newer := oauth.NewToken("T2", "alice", startMillis+3*hourMillis, nil)
	c.InfoFor(newer)
	if info.AccessToken() != "T2" {
		t.Errorf("AccessToken() after newer token = %q, want T2", info.AccessToken())
	}
	if info.ExpiresAt() != startMillis+3*hourMillis {
		t.Errorf("ExpiresAt() = %d, want %d", info.ExpiresAt(), startMillis+3*hourMillis)
	}
}

// expiresAt never decreases, no matter in which order tokens arrive.
func TestExpiresAtMonotonic(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	c := newTestCache(t, testConfig(), func(string) (any, error) { return EmptyGrants(), nil }, registry, clock)

	lifetimes := []int64{5, 9, 3, 9, 12, 1, 7, 12, 20, 2}
	var last int64
	for i, lifetime := range lifetimes {
		token := oauth.NewToken(fmt.Sprintf("T%d", i), "alice", startMillis+lifetime*1000, nil)
		info := c.InfoFor(token)
		if info.ExpiresAt() < last {
			t.Fatalf("ExpiresAt() decreased from %d to %d at step %d", last, info.ExpiresAt(), i)
		}
		last = info.ExpiresAt()
	}
}

func TestFetchOrWaitSingleFlight(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()

	var calls atomic.Int32
	grants := map[string]any{"scopes": []any{"read"}}
	fetch := func(rawToken string) (any, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return grants, nil
	}

	c := newTestCache(t, testConfig(), fetch, registry, clock)
	token := oauth.NewToken("T1", "alice", startMillis+hourMillis, nil)
	info := c.InfoFor(token)

	const concurrency = 10
	results := make([]any, concurrency)
	errs := make([]error, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.FetchOrWait("alice", info)
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
	for i := 0; i < concurrency; i++ {
		if errs[i] != nil {
			t.Fatalf("FetchOrWait() %d unexpected error: %v", i, errs[i])
		}
		if diff := cmp.Diff(grants, results[i]); diff != "" {
			t.Fatalf("FetchOrWait() %d result mismatch (-want +got):\n%s", i, diff)
		}
	}
	if diff := cmp.Diff(grants, info.Grants()); diff != "" {
		t.Fatalf("info.Grants() mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchOrWaitPropagatesFailure(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	cause := errors.New("connection refused")

	release := make(chan struct{})
	fetch := func(string) (any, error) {
		<-release
		return nil, cause
	}

	c := newTestCache(t, testConfig(), fetch, registry, clock)
	token := oauth.NewToken("T1", "alice", startMillis+hourMillis, nil)
	info := c.InfoFor(token)

	winnerErr := make(chan error, 1)
	go func() {
		_, err := c.FetchOrWait("alice", info)
		winnerErr <- err
	}()

	// let the winner take the flight, then join as a waiter
	time.Sleep(20 * time.Millisecond)
	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.FetchOrWait("alice", info)
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-winnerErr; !errors.Is(err, cause) {
		t.Fatalf("winner error = %v, want %v in chain", err, cause)
	}

	err := <-waiterErr
	if !errors.Is(err, cause) {
		t.Fatalf("waiter error = %v, want %v in chain", err, cause)
	}
	var svcErr *oauth.ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("waiter error = %v, want a *oauth.ServiceError", err)
	}

	if info.Grants() != nil {
		t.Error("failed fetch must not populate grants")
	}
}

func TestFetchOrWaitDenyAllOn403(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	fetch := func(string) (any, error) {
		return nil, oauth.NewHTTPError(403, errors.New("no permissions"))
	}

	c := newTestCache(t, testConfig(), fetch, registry, clock)
	token := oauth.NewToken("T1", "alice", startMillis+hourMillis, nil)
	info := c.InfoFor(token)

	grants, err := c.FetchOrWait("alice", info)
	if err != nil {
		t.Fatalf("FetchOrWait() unexpected error: %v", err)
	}
	if diff := cmp.Diff(EmptyGrants(), grants); diff != "" {
		t.Fatalf("403 should yield the deny-all empty grants (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(EmptyGrants(), info.Grants()); diff != "" {
		t.Fatalf("info.Grants() after 403 (-want +got):\n%s", diff)
	}
}

func TestFetchOrWaitNullGrantsBecomeDenyAll(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	fetch := func(string) (any, error) { return nil, nil }

	c := newTestCache(t, testConfig(), fetch, registry, clock)
	token := oauth.NewToken("T1", "alice", startMillis+hourMillis, nil)
	info := c.InfoFor(token)

	grants, err := c.FetchOrWait("alice", info)
	if err != nil {
		t.Fatalf("FetchOrWait() unexpected error: %v", err)
	}
	if diff := cmp.Diff(EmptyGrants(), grants); diff != "" {
		t.Fatalf("null grants should normalize to deny-all (-want +got):\n%s", diff)
	}
}

func TestFetchRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		responses []error
		wantCalls int32
		wantErr   bool
	}{
		{
			name:      "connection errors retried within budget",
			retries:   2,
			responses: []error{errors.New("conn reset"), errors.New("conn reset"), nil},
			wantCalls: 3,
		},
		{
			name:      "500 retried",
			retries:   1,
			responses: []error{oauth.NewHTTPError(500, errors.New("boom")), nil},
			wantCalls: 2,
		},
		{
			name:      "budget exhausted",
			retries:   1,
			responses: []error{errors.New("down"), errors.New("down")},
			wantCalls: 2,
			wantErr:   true,
		},
		{
			name:      "401 not retried",
			retries:   3,
			responses: []error{oauth.NewHTTPError(401, errors.New("invalid token"))},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			// a 403 is terminal for the retry loop; FetchOrWait turns it
			// into deny-all
			name:      "403 not retried",
			retries:   3,
			responses: []error{oauth.NewHTTPError(403, errors.New("no permissions"))},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(startMillis)
			registry := session.NewInMemoryRegistry()

			var calls atomic.Int32
			fetch := func(string) (any, error) {
				n := calls.Add(1)
				if err := tt.responses[n-1]; err != nil {
					return nil, err
				}
				return EmptyGrants(), nil
			}

			cfg := testConfig()
			cfg.HTTPRetries = tt.retries
			c := newTestCache(t, cfg, fetch, registry, clock)

			token := oauth.NewToken("T1", "alice", startMillis+hourMillis, nil)
			info := c.InfoFor(token)

			_, err := c.FetchOrWait("alice", info)
			if tt.wantErr && err == nil {
				t.Error("FetchOrWait() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("FetchOrWait() unexpected error: %v", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestRefreshUpdatesChangedGrants(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()

	var generation atomic.Int32
	fetch := func(string) (any, error) {
		return map[string]any{"gen": generation.Load()}, nil
	}

	c := newTestCache(t, testConfig(), fetch, registry, clock)
	token := newSessionToken(registry, "T1", "alice", startMillis+hourMillis)
	info := c.InfoFor(token)
	if _, err := c.FetchOrWait("alice", info); err != nil {
		t.Fatalf("FetchOrWait() unexpected error: %v", err)
	}

	generation.Store(1)
	if err := c.refreshRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("refreshRun() unexpected error: %v", err)
	}

	want := map[string]any{"gen": int32(1)}
	if diff := cmp.Diff(want, info.Grants()); diff != "" {
		t.Fatalf("grants after refresh (-want +got):\n%s", diff)
	}
}

func TestRefresh401PurgesSessions(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()

	fetch := func(rawToken string) (any, error) {
		if rawToken == "T1" {
			return nil, oauth.NewHTTPError(401, errors.New("invalid token"))
		}
		return EmptyGrants(), nil
	}

	c := newTestCache(t, testConfig(), fetch, registry, clock)

	bobToken := newSessionToken(registry, "T1", "bob", startMillis+hourMillis)
	c.InfoFor(bobToken)
	aliceToken := newSessionToken(registry, "T2", "alice", startMillis+hourMillis)
	c.InfoFor(aliceToken)

	if err := c.refreshRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("refreshRun() unexpected error: %v", err)
	}

	var principals []string
	for _, token := range registry.List() {
		principals = append(principals, token.PrincipalName())
	}
	if len(principals) != 1 || principals[0] != "alice" {
		t.Fatalf("live sessions after refresh = %v, want [alice]", principals)
	}
}

// The refresh loop never reports an error, whatever the jobs do, so the
// scheduler keeps it alive.
func TestRefreshContainsJobErrors(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()

	fetch := func(string) (any, error) {
		return nil, errors.New("upstream on fire")
	}

	c := newTestCache(t, testConfig(), fetch, registry, clock)
	token := newSessionToken(registry, "T1", "alice", startMillis+hourMillis)
	c.InfoFor(token)

	if err := c.refreshRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("refreshRun() must contain job errors, got: %v", err)
	}
}

func TestRefreshSkipsAndEvictsIdleEntries(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()

	var calls atomic.Int32
	fetch := func(string) (any, error) {
		calls.Add(1)
		return EmptyGrants(), nil
	}

	cfg := testConfig()
	cfg.GrantsMaxIdleTimeSeconds = 300
	c := newTestCache(t, cfg, fetch, registry, clock)

	token := newSessionToken(registry, "T1", "alice", startMillis+hourMillis)
	c.InfoFor(token)

	// twice the max idle time passes without any consult
	clock.advance(2 * 300 * time.Second)

	if err := c.refreshRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("refreshRun() unexpected error: %v", err)
	}

	if calls.Load() != 0 {
		t.Errorf("idle entry was fetched %d times, want 0", calls.Load())
	}
	if c.has("alice") {
		t.Error("idle entry still cached after refresh run")
	}
}

func TestGCRetainsLivePrincipals(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	fetch := func(string) (any, error) { return EmptyGrants(), nil }

	c := newTestCache(t, testConfig(), fetch, registry, clock)

	aliceToken := newSessionToken(registry, "TA", "alice", startMillis+hourMillis)
	carolToken := newSessionToken(registry, "TC", "carol", startMillis+hourMillis)
	bobToken := oauth.NewToken("TB", "bob", startMillis+hourMillis, nil) // no live session
	c.InfoFor(aliceToken)
	c.InfoFor(bobToken)
	c.InfoFor(carolToken)

	if err := c.gcRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("gcRun() unexpected error: %v", err)
	}

	for _, principal := range []string{"alice", "carol"} {
		if !c.has(principal) {
			t.Errorf("gc dropped live principal %q", principal)
		}
	}
	if c.has("bob") {
		t.Error("gc retained principal without a live session")
	}
}

func TestGCDebouncesQueuedRuns(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	fetch := func(string) (any, error) { return EmptyGrants(), nil }

	c := newTestCache(t, testConfig(), fetch, registry, clock)

	// bob has no live session and would be collected by a real run
	bobToken := oauth.NewToken("TB", "bob", startMillis+hourMillis, nil)
	c.InfoFor(bobToken)

	if err := c.gcRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("gcRun() unexpected error: %v", err)
	}
	if c.has("bob") {
		t.Fatal("first gc run did not collect")
	}

	c.InfoFor(bobToken)

	// a queued run one second later must be skipped
	clock.advance(time.Second)
	if err := c.gcRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("gcRun() unexpected error: %v", err)
	}
	if !c.has("bob") {
		t.Fatal("debounced gc run still collected")
	}

	// after a full period it runs again
	clock.advance(time.Duration(testConfig().GCPeriodSeconds) * time.Second)
	if err := c.gcRun(context.Background(), testLogger()); err != nil {
		t.Fatalf("gcRun() unexpected error: %v", err)
	}
	if c.has("bob") {
		t.Fatal("gc run after a full period did not collect")
	}
}

func TestRemoveIfIdleOrExpired(t *testing.T) {
	clock := newFakeClock(startMillis)
	registry := session.NewInMemoryRegistry()
	fetch := func(string) (any, error) { return EmptyGrants(), nil }

	cfg := testConfig()
	c := newTestCache(t, cfg, fetch, registry, clock)

	// fresh entry stays
	token := oauth.NewToken("T1", "alice", startMillis+hourMillis, nil)
	c.InfoFor(token)
	c.removeIfIdleOrExpired("alice")
	if !c.has("alice") {
		t.Fatal("fresh entry was evicted")
	}

	// expired entry goes even when recently used
	expiring := oauth.NewToken("T2", "bob", startMillis+1000, nil)
	c.InfoFor(expiring)
	clock.advance(2 * time.Second)
	c.InfoFor(token) // keep alice fresh
	c.removeIfIdleOrExpired("bob")
	if c.has("bob") {
		t.Fatal("expired entry survived eviction")
	}
}

// has reports whether a principal is cached. Test helper.
func (c *Cache) has(principal string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[principal]
	return ok
}
