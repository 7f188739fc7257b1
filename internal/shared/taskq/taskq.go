// Package taskq provides per-key serial task execution.
//
// A Group runs tasks that share a key strictly in submission order, one
// at a time, while tasks under different keys proceed independently.
// The session layer uses one Group per session with app package names
// as keys, so one app's slow lifecycle work never blocks another app
// and never blocks the whole session behind a global lock.
//
// Ordering is by ticket: each task waits for the completion signal of
// the task submitted immediately before it under the same key. A task
// whose context is cancelled while waiting gives up its turn without
// running, but still passes the completion signal along so later tasks
// keep their order.
package taskq

import (
	"context"
	"sync"
)

// Group serializes tasks per key. The zero value is not usable; use New.
type Group struct {
	mu      sync.Mutex
	tail    map[string]chan struct{}
	pending map[string]int
}

// New creates an empty Group.
func New() *Group {
	return &Group{
		tail:    make(map[string]chan struct{}),
		pending: make(map[string]int),
	}
}

// Do runs fn after every task previously submitted under key has
// finished. It returns fn's error, or the context error if ctx is
// cancelled before fn gets its turn. A panic inside fn propagates to
// the caller after the turn is released.
func (g *Group) Do(ctx context.Context, key string, fn func() error) error {
	g.mu.Lock()
	prev := g.tail[key]
	done := make(chan struct{})
	g.tail[key] = done
	g.pending[key]++
	g.mu.Unlock()

	release := func() {
		close(done)
		g.mu.Lock()
		g.pending[key]--
		if g.pending[key] == 0 {
			delete(g.pending, key)
			delete(g.tail, key)
		}
		g.mu.Unlock()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Hand the turn to the successor only once the
			// predecessor is done, or order would break.
			go func() {
				<-prev
				release()
			}()
			return ctx.Err()
		}
	}

	defer release()
	return fn()
}

// Submit enqueues fn under key and returns immediately with a channel
// that yields fn's result. The ticket is taken before Submit returns,
// so calls made in order run in order even when no caller waits.
// Unlike Do, a submitted task always runs.
func (g *Group) Submit(key string, fn func() error) <-chan error {
	g.mu.Lock()
	prev := g.tail[key]
	done := make(chan struct{})
	g.tail[key] = done
	g.pending[key]++
	g.mu.Unlock()

	res := make(chan error, 1)
	go func() {
		if prev != nil {
			<-prev
		}
		defer func() {
			close(done)
			g.mu.Lock()
			g.pending[key]--
			if g.pending[key] == 0 {
				delete(g.pending, key)
				delete(g.tail, key)
			}
			g.mu.Unlock()
		}()
		res <- fn()
	}()
	return res
}

// Pending returns the number of tasks queued or running under key.
func (g *Group) Pending(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[key]
}
