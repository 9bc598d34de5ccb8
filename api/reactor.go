// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the event reactor that listening
// endpoints and channels register their descriptors with.

package api

// IOEvent is a bit set of readiness conditions reported for a descriptor.
type IOEvent uint32

const (
	EventRead IOEvent = 1 << iota
	EventWrite
	EventHangup
	EventError
)

// Has reports whether all bits of want are set.
func (e IOEvent) Has(want IOEvent) bool {
	return e&want == want
}

// IOCallback is invoked on the reactor goroutine when fd becomes ready.
// Per-registration context is carried by the closure.
type IOCallback func(src Source, fd int, events IOEvent)

// Reactor multiplexes descriptor readiness and dispatches callbacks.
type Reactor interface {
	// WatchIO must register fd for the given interest set and return the
	// source owning that registration.
	WatchIO(fd int, events IOEvent, cb IOCallback) (Source, error)
}

// Source is a live registration of one descriptor with a Reactor.
type Source interface {
	// Reactor returns the reactor owning this source.
	Reactor() Reactor

	// Fd returns the watched descriptor.
	Fd() int

	// Free releases the registration. It is idempotent; once it returns the
	// callback is never invoked again.
	Free() error
}

// Deferrer is implemented by reactors that can run work on the loop
// goroutine after the current dispatch turn completes.
type Deferrer interface {
	Defer(fn func())
}
