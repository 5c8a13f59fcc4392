// Package singleflight coalesces concurrent loads for the same key into a
// single execution of the loader function, fanning the result out to every
// waiter. It is not a cache: the in-flight record is removed before the
// leader returns, so the next call after a burst re-executes the loader.
//
// The shape follows IvanBrykalov/shardcache's internal/singleflight.Group —
// a mutex-guarded map of key to a shared "call" with a close-to-publish
// channel — generalized here to the cache's own Result type instead of a
// generic (V, error) pair, since CacheGroup's loader never returns an error
// to its caller, only presence or absence (spec §4.2, §7).
package singleflight

import (
	"sync"

	"github.com/kvmesh/kvmesh/pkg/byteview"
)

// Result is what a loader produces: a ByteView and whether it was found.
// There is deliberately no error channel here — per spec §7, a loader
// failure degrades to "absent", it is never surfaced as an exception to
// SingleFlight's waiters.
type Result struct {
	Value byteview.ByteView
	Found bool
}

type call struct {
	done chan struct{}
	res  Result
}

// Group de-duplicates concurrent Do calls sharing the same key. The zero
// value is ready to use.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// Do executes fn for key if no call for key is already in flight, and
// returns its result to every concurrent caller for that key. At most one
// fn invocation runs per concurrent burst; the in-flight record is cleared
// before the leader returns, so a later, non-overlapping call re-invokes fn.
func (g *Group) Do(key string, fn func() Result) Result {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call)
	}
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		<-c.done
		return c.res
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.res = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	return c.res
}
