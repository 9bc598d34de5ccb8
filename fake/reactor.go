// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides a scripted api.Reactor for tests. Nothing is polled;
// tests call Fire to simulate readiness.
package fake

import (
	"github.com/momentics/hioload-listen/api"
)

// Reactor records registrations and dispatches only when told to.
type Reactor struct {
	sources  map[int]*Source
	deferred []func()

	// WatchErr, when set, is returned by the next WatchIO call.
	WatchErr error
	// Watched counts successful WatchIO calls.
	Watched int
}

var _ api.Reactor = (*Reactor)(nil)
var _ api.Deferrer = (*Reactor)(nil)

// NewReactor creates an empty fake reactor.
func NewReactor() *Reactor {
	return &Reactor{sources: make(map[int]*Source)}
}

// Source is a fake registration.
type Source struct {
	r      *Reactor
	fd     int
	events api.IOEvent
	cb     api.IOCallback
	Freed  bool
}

func (s *Source) Reactor() api.Reactor { return s.r }
func (s *Source) Fd() int              { return s.fd }
func (s *Source) Events() api.IOEvent  { return s.events }

func (s *Source) Free() error {
	if s.Freed {
		return nil
	}
	s.Freed = true
	if s.r.sources[s.fd] == s {
		delete(s.r.sources, s.fd)
	}
	return nil
}

// WatchIO records the registration.
func (r *Reactor) WatchIO(fd int, events api.IOEvent, cb api.IOCallback) (api.Source, error) {
	if err := r.WatchErr; err != nil {
		r.WatchErr = nil
		return nil, err
	}
	src := &Source{r: r, fd: fd, events: events, cb: cb}
	r.sources[fd] = src
	r.Watched++
	return src, nil
}

// Defer queues fn until RunDeferred.
func (r *Reactor) Defer(fn func()) {
	r.deferred = append(r.deferred, fn)
}

// RunDeferred runs queued tasks in FIFO order.
func (r *Reactor) RunDeferred() {
	tasks := r.deferred
	r.deferred = nil
	for _, fn := range tasks {
		fn()
	}
}

// Fire invokes the callback registered for fd. It reports false when no
// live source exists.
func (r *Reactor) Fire(fd int, events api.IOEvent) bool {
	src, ok := r.sources[fd]
	if !ok || src.Freed {
		return false
	}
	src.cb(src, fd, events)
	return true
}

// Lookup returns the live source for fd.
func (r *Reactor) Lookup(fd int) (*Source, bool) {
	src, ok := r.sources[fd]
	return src, ok
}

// Live returns the number of live sources.
func (r *Reactor) Live() int {
	return len(r.sources)
}
