// Package grants caches the authorization grants of active principals.
//
// Authorization checks are served from memory; a single-flight barrier
// makes sure at most one upstream fetch per principal is ever in flight, a
// background refresher keeps grants current while sessions stay active, and
// a garbage collector drops entries whose principals have no live session
// anymore.
package grants

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/grantly-io/grantly/internal/config"
	"github.com/grantly-io/grantly/internal/logging"
	"github.com/grantly-io/grantly/internal/oauth"
	"github.com/grantly-io/grantly/internal/session"
	"github.com/grantly-io/grantly/internal/singleflight"
	"github.com/grantly-io/grantly/internal/tasks"
)

const (
	refreshTaskName = "grants-refresh"
	gcTaskName      = "grants-gc"
)

// FetchFunc asks the grants provider for the grants of a raw access token.
// It must be safe for concurrent use. Failures with an upstream status are
// reported as *oauth.HTTPError.
type FetchFunc func(rawToken string) (any, error)

// Deps are the external collaborators of the cache.
type Deps struct {
	Fetch    FetchFunc
	Sessions session.Registry

	// Clock defaults to the system clock.
	Clock oauth.Clock

	// Metrics defaults to unregistered metrics.
	Metrics *Metrics
}

// Cache maps principal names to their grants. See the package comment.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Info

	flights *singleflight.Group

	fetch    FetchFunc
	sessions session.Registry
	clock    oauth.Clock
	metrics  *Metrics

	httpRetries   int
	maxIdleMillis int64
	gcPeriod      time.Duration
	poolSize      int

	tasks *tasks.Manager

	gcMu          sync.Mutex
	lastGCRunTime int64
}

// EmptyGrants returns the canonical deny-all grants document used when the
// provider answers 403 or returns nothing.
func EmptyGrants() any {
	return map[string]any{}
}

// New builds the cache and starts its background workers: the refresher
// (unless the refresh period is zero) and the garbage collector. Close must
// be called to stop them.
func New(cfg config.Authorizer, deps Deps) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetch == nil {
		return nil, errors.New("grants: Deps.Fetch is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("grants: Deps.Sessions is required")
	}
	if deps.Clock == nil {
		deps.Clock = oauth.SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}

	c := &Cache{
		entries:       make(map[string]*Info),
		flights:       singleflight.NewGroup(),
		fetch:         deps.Fetch,
		sessions:      deps.Sessions,
		clock:         deps.Clock,
		metrics:       deps.Metrics,
		httpRetries:   cfg.HTTPRetries,
		maxIdleMillis: int64(cfg.GrantsMaxIdleTimeSeconds) * 1000,
		gcPeriod:      time.Duration(cfg.GCPeriodSeconds) * time.Second,
		poolSize:      cfg.GrantsRefreshPoolSize,
		tasks:         tasks.NewManager(),
	}

	if cfg.GrantsRefreshPeriodSeconds > 0 {
		c.tasks.Register(refreshTaskName, time.Duration(cfg.GrantsRefreshPeriodSeconds)*time.Second, c.refreshRun)
	}
	c.tasks.Register(gcTaskName, c.gcPeriod, c.gcRun)

	return c, nil
}

// Close stops the background workers, best-effort. In-flight fetches finish
// on their own; waiters observe their outcome.
func (c *Cache) Close() {
	c.tasks.Close()
}

// Tasks exposes the background task manager for status inspection.
func (c *Cache) Tasks() *tasks.Manager {
	return c.tasks
}

// InfoFor looks up or creates the cache entry for the token's principal.
// The entry's access token and expiry follow the newest token observed, and
// its last-used instant advances on every call. This is the hot path of an
// authorization check; it never blocks on I/O.
func (c *Cache) InfoFor(token oauth.TokenPayload) *Info {
	now := c.clock.NowMillis()

	c.mu.Lock()
	info, ok := c.entries[token.PrincipalName()]
	if !ok {
		info = newInfo(token.Value(), token.LifetimeMs(), now)
		c.entries[token.PrincipalName()] = info
		c.metrics.CacheSize.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()

	// always keep the latest access token in the cache
	info.UpdateTokenIfNewer(token, now)
	return info
}

// FetchOrWait makes sure info.Grants() is populated: the first caller per
// principal performs the upstream fetch, everyone else waits for that fetch
// and shares its outcome. A failed fetch propagates to all waiters.
func (c *Cache) FetchOrWait(principal string, info *Info) (any, error) {
	acquired, promise := c.flights.Acquire(principal)

	if acquired {
		defer c.flights.Release(principal)

		grants, err := c.fetchAndSave(principal, info)
		if err != nil {
			promise.Fail(err)
			return nil, err
		}
		promise.Complete(grants)
		return grants, nil
	}

	log.Debug().Str("principal", principal).Msg("waiting on another session to fetch grants")
	grants, err := promise.Get()
	if err != nil {
		return nil, oauth.WrapService("waiting for grants result", err)
	}
	return grants, nil
}

// fetchAndSave performs the single-flight winner's fetch and stores the
// result on the entry. A 403 means no policy matched the token: the deny-all
// empty grants document is stored. Other failures propagate.
func (c *Cache) fetchAndSave(principal string, info *Info) (any, error) {
	log.Debug().Str("principal", principal).Msg("fetching grants from the grants provider")

	grants, err := c.fetchWithRetry(info.AccessToken())
	if err != nil {
		if oauth.HTTPStatus(err) == 403 {
			c.metrics.Fetches.WithLabelValues(FetchResultDenied).Inc()
			grants = EmptyGrants()
		} else {
			c.classifyFetchError(err)
			return nil, err
		}
	} else {
		c.metrics.Fetches.WithLabelValues(FetchResultOK).Inc()
		if grants == nil {
			log.Debug().Str("principal", principal).Msg("received null grants, treating as deny-all")
			grants = EmptyGrants()
		}
	}

	info.setGrants(grants)
	return grants, nil
}

func (c *Cache) classifyFetchError(err error) {
	if oauth.HTTPStatus(err) == 401 {
		c.metrics.Fetches.WithLabelValues(FetchResultInvalid).Inc()
	} else {
		c.metrics.Fetches.WithLabelValues(FetchResultError).Inc()
	}
}

// fetchWithRetry calls the grants provider, immediately retrying connection
// failures and unexpected statuses up to the configured budget. 401 (invalid
// token) and 403 (no permissions) are terminal and never retried.
func (c *Cache) fetchWithRetry(rawToken string) (any, error) {
	attempt := 0
	for {
		attempt++
		if attempt > 1 {
			log.Debug().Int("attempt", attempt).Msg("retrying grants request")
		}

		grants, err := c.fetch(rawToken)
		if err == nil {
			return grants, nil
		}

		if status := oauth.HTTPStatus(err); status == 401 || status == 403 {
			return nil, err
		}

		log.Info().Err(err).Int("attempt", attempt).Msg("failed to fetch grants")
		if attempt > c.httpRetries {
			return nil, fmt.Errorf("fetching grants failed after %d attempts: %w", attempt, err)
		}
	}
}

// refreshRun is one tick of the background refresher. It snapshots the
// cache, fans the fetches out over a bounded worker pool, applies idle
// eviction, and purges the sessions of tokens the provider rejected as
// invalid. Individual job failures are contained; the run itself never
// reports an error so the schedule keeps going.
func (c *Cache) refreshRun(ctx context.Context, logger logging.InternalLogger) error {
	logger.Debug("refreshing authorization grants")

	c.mu.Lock()
	snapshot := make(map[string]*Info, len(c.entries))
	for principal, info := range c.entries {
		snapshot[principal] = info
	}
	c.mu.Unlock()

	now := c.clock.NowMillis()

	type refreshJob struct {
		principal string
		info      *Info
		err       error
	}

	jobs := make([]*refreshJob, 0, len(snapshot))
	var group errgroup.Group
	group.SetLimit(c.poolSize)

	for principal, info := range snapshot {
		if info.LastUsed() < now-c.maxIdleMillis {
			logger.Debug("skipping refresh for idle principal %q", principal)
			c.removeIfIdleOrExpired(principal)
			continue
		}

		job := &refreshJob{principal: principal, info: info}
		jobs = append(jobs, job)
		group.Go(func() error {
			job.err = c.refreshOne(job.principal, job.info)
			// errors are collected per job, never returned, so one
			// failure does not cancel the sibling fetches
			return nil
		})
	}

	_ = group.Wait()

	for _, job := range jobs {
		if job.err == nil {
			continue
		}
		logger.Warn("[IGNORED] failed to refresh grants for principal %q: %v", job.principal, job.err)
		if oauth.HTTPStatus(job.err) == 401 {
			// the token is invalid: every session still authenticated
			// with it has to go
			c.sessions.RemoveAllWithMatchingAccessToken(job.info.AccessToken())
		}
	}

	c.metrics.RefreshRuns.Inc()
	logger.Debug("done refreshing grants")
	return nil
}

// refreshOne fetches fresh grants for one entry and swaps them in if they
// changed. The fetch goes through the same single-flight barrier as
// FetchOrWait, so a principal never has more than one fetch in flight even
// while a refresh run overlaps with session authentication.
func (c *Cache) refreshOne(principal string, info *Info) error {
	acquired, promise := c.flights.Acquire(principal)
	if !acquired {
		// another session is fetching this principal right now; that
		// result is as fresh as ours would be
		_, err := promise.Get()
		return err
	}
	defer c.flights.Release(principal)

	err := c.refreshGrants(principal, info)
	if err != nil {
		promise.Fail(err)
		return err
	}
	promise.Complete(info.Grants())
	return nil
}

func (c *Cache) refreshGrants(principal string, info *Info) error {
	newGrants, err := c.fetchWithRetry(info.AccessToken())
	if err != nil {
		if oauth.HTTPStatus(err) == 403 {
			// no policy matches the token: no grants, nothing permitted
			c.metrics.Fetches.WithLabelValues(FetchResultDenied).Inc()
			newGrants = EmptyGrants()
		} else {
			c.classifyFetchError(err)
			return err
		}
	} else {
		c.metrics.Fetches.WithLabelValues(FetchResultOK).Inc()
		if newGrants == nil {
			newGrants = EmptyGrants()
		}
	}

	oldGrants := info.Grants()
	if !reflect.DeepEqual(newGrants, oldGrants) {
		log.Debug().Str("principal", principal).Msg("grants have changed, updating cache entry")
		info.setGrants(newGrants)
	}
	return nil
}

// removeIfIdleOrExpired drops the principal's entry if it has gone idle
// beyond the configured threshold or its stored token expiry has passed.
func (c *Cache) removeIfIdleOrExpired(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.entries[principal]
	if !ok {
		return
	}

	now := c.clock.NowMillis()
	isIdle := info.LastUsed() < now-c.maxIdleMillis
	if isIdle || info.expiredAt(now) {
		reason := EvictionReasonExpired
		if isIdle {
			reason = EvictionReasonIdle
		}
		log.Debug().Str("principal", principal).Str("reason", reason).Msg("removed principal from grants cache")
		delete(c.entries, principal)
		c.metrics.Evictions.WithLabelValues(reason).Inc()
		c.metrics.CacheSize.Set(float64(len(c.entries)))
	}
}

// gcRun retains only the principals that still have a live session. Runs
// that fire early because the scheduler queued up are debounced.
func (c *Cache) gcRun(ctx context.Context, logger logging.InternalLogger) error {
	c.gcMu.Lock()
	now := c.clock.NowMillis()
	sinceLast := now - c.lastGCRunTime
	// give or take one second, to tolerate queued scheduler drift
	if sinceLast < c.gcPeriod.Milliseconds()-1000 {
		c.gcMu.Unlock()
		logger.Debug("skipped queued gc run (last run %d ms ago)", sinceLast)
		return nil
	}
	c.lastGCRunTime = now
	c.gcMu.Unlock()

	live := make(map[string]struct{})
	for _, token := range c.sessions.List() {
		live[token.PrincipalName()] = struct{}{}
	}

	c.mu.Lock()
	before := len(c.entries)
	for principal := range c.entries {
		if _, ok := live[principal]; !ok {
			delete(c.entries, principal)
			c.metrics.Evictions.WithLabelValues(EvictionReasonGC).Inc()
		}
	}
	after := len(c.entries)
	c.metrics.CacheSize.Set(float64(after))
	c.mu.Unlock()

	logger.Debug("grants gc: %d live principals, cache size %d -> %d", len(live), before, after)
	return nil
}
