package singleflight

import (
	"context"
	"sync"
)

// Promise is a single-shot result slot shared between the flight winner and
// everyone who joined the same flight. Complete or Fail may be called once;
// later calls are ignored.
type Promise struct {
	done chan struct{}
	once sync.Once

	value any
	err   error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) Complete(value any) {
	p.once.Do(func() {
		p.value = value
		close(p.done)
	})
}

func (p *Promise) Fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Get blocks until the promise is fulfilled.
func (p *Promise) Get() (any, error) {
	<-p.done
	return p.value, p.err
}

// GetContext blocks until the promise is fulfilled or ctx is done.
func (p *Promise) GetContext(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Group is a keyed admission barrier: for each key at most one caller is
// admitted to do the work, and every caller for that key shares the same
// promise for the outcome.
type Group struct {
	mu      sync.Mutex
	flights map[string]*Promise
}

func NewGroup() *Group {
	return &Group{
		flights: make(map[string]*Promise),
	}
}

// Acquire installs a promise for key if none is in flight. It returns
// acquired=true for the installer, who must fulfill the promise and call
// Release; all other callers get acquired=false and the same promise.
func (g *Group) Acquire(key string) (bool, *Promise) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if promise, ok := g.flights[key]; ok {
		return false, promise
	}
	promise := newPromise()
	g.flights[key] = promise
	return true, promise
}

// Release removes the in-flight entry for key, allowing a new flight to
// start. Only the caller that acquired the key may release it.
func (g *Group) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.flights, key)
}
