//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"context"
	"time"

	"github.com/momentics/hioload-listen/api"
)

// Reactor is unavailable outside Linux.
type Reactor struct{}

// New returns an error for unsupported platforms.
func New(opts ...Option) (*Reactor, error) {
	return nil, api.WrapSyscall(api.ErrCodeNotSupported, "reactor", api.ErrNotSupported)
}

func (r *Reactor) WatchIO(int, api.IOEvent, api.IOCallback) (api.Source, error) {
	return nil, api.ErrNotSupported
}

func (r *Reactor) Defer(func())                    {}
func (r *Reactor) Poll(time.Duration) (int, error) { return 0, api.ErrNotSupported }
func (r *Reactor) Run(context.Context) error       { return api.ErrNotSupported }
func (r *Reactor) Quit()                           {}
func (r *Reactor) Close() error                    { return nil }
func (r *Reactor) Pending() int                    { return 0 }
