//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-listen/affinity"
	"github.com/momentics/hioload-listen/api"
)

// Reactor is a level-triggered epoll event loop. Level triggering keeps a
// descriptor readable across turns until it is drained, which is what lets
// a listener accept a single connection per event and still see the rest.
type Reactor struct {
	epfd    int
	wakefd  int
	events  []unix.EpollEvent
	sources map[int]*source
	tasks   *queue.Queue // func()
	log     *zap.Logger
	opts    options
	quit    atomic.Bool
	closed  atomic.Bool

	// wakeMu orders Quit's eventfd write against Close releasing it.
	wakeMu sync.Mutex
}

var _ api.Reactor = (*Reactor)(nil)
var _ api.Deferrer = (*Reactor)(nil)

// New creates an epoll instance plus the eventfd used by Quit to wake a
// blocked Poll.
func New(opts ...Option) (*Reactor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}

	return &Reactor{
		epfd:    epfd,
		wakefd:  wakefd,
		events:  make([]unix.EpollEvent, o.maxEvents),
		sources: make(map[int]*source),
		tasks:   queue.New(),
		log:     o.logger,
		opts:    o,
	}, nil
}

// source is one descriptor registration.
type source struct {
	r     *Reactor
	fd    int
	cb    api.IOCallback
	freed bool
}

func (s *source) Reactor() api.Reactor { return s.r }
func (s *source) Fd() int              { return s.fd }

// Free removes the descriptor from the interest set. Events for it that are
// already collected in the current turn are dropped.
func (s *source) Free() error {
	if s.freed {
		return nil
	}
	s.freed = true
	r := s.r
	if r.sources[s.fd] == s {
		delete(r.sources, s.fd)
	}
	if r.closed.Load() {
		return nil
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, s.fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd=%d: %w", s.fd, err)
	}
	return nil
}

// WatchIO registers fd for the requested readiness conditions.
func (r *Reactor) WatchIO(fd int, events api.IOEvent, cb api.IOCallback) (api.Source, error) {
	if r.closed.Load() {
		return nil, api.ErrClosed
	}
	if fd < 0 || cb == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "watch io").WithContext("fd", fd)
	}
	ev := unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	// The kernel drops closed descriptors from the interest set on its own,
	// so a stale entry may still sit under a recycled fd number.
	if stale, ok := r.sources[fd]; ok {
		stale.freed = true
	}
	src := &source{r: r, fd: fd, cb: cb}
	r.sources[fd] = src
	return src, nil
}

// Defer queues fn to run on the loop goroutine at the end of the current
// Poll turn, in FIFO order.
func (r *Reactor) Defer(fn func()) {
	if fn == nil {
		return
	}
	r.tasks.Add(fn)
}

// Poll runs one loop turn: wait up to timeout for readiness (negative blocks
// indefinitely), dispatch callbacks, then run deferred tasks. It returns the
// number of readiness events collected.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	if r.closed.Load() {
		return 0, api.ErrClosed
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	if r.tasks.Length() > 0 {
		ms = 0
	}

	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err != nil {
		if err != unix.EINTR {
			return 0, fmt.Errorf("epoll wait: %w", err)
		}
		n = 0 // interrupted by signal, normal
	}

	collected := 0
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		if fd == r.wakefd {
			r.drainWakeup()
			continue
		}
		collected++
		src, ok := r.sources[fd]
		if !ok || src.freed {
			continue
		}
		r.dispatch(src, fromEpoll(ev.Events))
	}

	r.runDeferred()
	return collected, nil
}

// Run polls until ctx is done or Quit is called. With WithCPU the calling
// goroutine is pinned to that CPU for the duration.
func (r *Reactor) Run(ctx context.Context) error {
	if r.opts.cpu >= 0 {
		unpin, err := affinity.Pin(r.opts.cpu)
		if err != nil {
			r.log.Warn("pin reactor to cpu failed", zap.Int("cpu", r.opts.cpu), zap.Error(err))
		}
		defer unpin()
	}
	stop := context.AfterFunc(ctx, r.Quit)
	defer stop()
	defer r.quit.Store(false)

	for !r.quit.Load() {
		if _, err := r.Poll(r.opts.pollInterval); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Quit asks a running Run to return after the current turn. Safe to call
// from any goroutine.
func (r *Reactor) Quit() {
	r.quit.Store(true)
	r.wakeMu.Lock()
	defer r.wakeMu.Unlock()
	if r.closed.Load() {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(r.wakefd, buf[:])
}

// Close releases the epoll instance. Remaining sources are marked freed;
// their descriptors stay open and belong to their owners.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	for fd, src := range r.sources {
		src.freed = true
		delete(r.sources, fd)
	}
	r.wakeMu.Lock()
	_ = unix.Close(r.wakefd)
	r.wakeMu.Unlock()
	return unix.Close(r.epfd)
}

// Pending returns the number of live sources.
func (r *Reactor) Pending() int {
	return len(r.sources)
}

func (r *Reactor) dispatch(src *source, events api.IOEvent) {
	// Use deferred recover to ensure reactor continuity on panics.
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reactor callback panicked", zap.Int("fd", src.fd), zap.Any("panic", p))
		}
	}()
	src.cb(src, src.fd, events)
}

func (r *Reactor) runDeferred() {
	// Tasks queued by tasks run on the next turn.
	for n := r.tasks.Length(); n > 0; n-- {
		fn := r.tasks.Remove().(func())
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("deferred task panicked", zap.Any("panic", p))
				}
			}()
			fn()
		}()
	}
}

func (r *Reactor) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func toEpoll(events api.IOEvent) uint32 {
	var out uint32
	if events&api.EventRead != 0 {
		out |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(raw uint32) api.IOEvent {
	var out api.IOEvent
	if raw&unix.EPOLLIN != 0 {
		out |= api.EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		out |= api.EventWrite
	}
	if raw&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= api.EventHangup
	}
	if raw&unix.EPOLLERR != 0 {
		out |= api.EventError
	}
	return out
}
