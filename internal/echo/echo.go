//go:build unix

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package echo is a connection handler that writes back whatever a client
// sends, driving each accepted channel from the same reactor as its listener.
package echo

import (
	"errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/server"
)

const defaultBufSize = 4096

type nonblocker interface {
	SetNonblock(bool) error
}

// Handler implements server.Handler.
type Handler struct {
	log     *zap.Logger
	bufSize int
	live    int
	served  int
}

var _ server.Handler = (*Handler)(nil)

// NewHandler creates an echo handler. A nil logger discards diagnostics.
func NewHandler(log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{log: log, bufSize: defaultBufSize}
}

// Live returns the number of open connections.
func (h *Handler) Live() int { return h.live }

// Served returns the number of connections handled so far.
func (h *Handler) Served() int { return h.served }

// OnConnection takes ownership of ch and watches it for input.
func (h *Handler) OnConnection(s *server.SocketServer, ch api.Channel, _ any) {
	if nb, ok := ch.(nonblocker); ok {
		if err := nb.SetNonblock(true); err != nil {
			h.log.Warn("set channel non-blocking failed", zap.Error(err))
			_ = ch.Close()
			return
		}
	}

	c := &conn{h: h, ch: ch, r: ch.Reactor(), buf: make([]byte, h.bufSize)}
	if err := c.watch(api.EventRead); err != nil {
		h.log.Warn("watch channel failed", zap.Int("fd", ch.ReadFd()), zap.Error(err))
		_ = ch.Close()
		return
	}
	h.live++
	h.served++
}

// conn is one echoed connection. While pending holds bytes the peer has not
// taken yet, the channel is watched for writability only and input waits in
// the kernel.
type conn struct {
	h       *Handler
	ch      api.Channel
	r       api.Reactor
	src     api.Source
	buf     []byte
	pending []byte
}

func (c *conn) watch(events api.IOEvent) error {
	src, err := c.r.WatchIO(c.ch.ReadFd(), events, c.onEvent)
	if err != nil {
		return err
	}
	c.src = src
	return nil
}

// rewatch swaps the interest set. The registration is released first since
// the reactor accepts one source per descriptor.
func (c *conn) rewatch(events api.IOEvent) {
	_ = c.src.Free()
	if err := c.watch(events); err != nil {
		c.h.log.Warn("rewatch channel failed", zap.Int("fd", c.ch.ReadFd()), zap.Error(err))
		c.src = nil
		c.finish(nil)
	}
}

func (c *conn) onEvent(api.Source, int, api.IOEvent) {
	if len(c.pending) > 0 {
		c.flush()
		return
	}
	n, err := c.ch.Read(c.buf)
	if errors.Is(err, unix.EAGAIN) {
		return
	}
	if err != nil {
		c.finish(err)
		return
	}
	c.send(c.buf[:n])
}

// send writes p and parks whatever the socket would not take.
func (c *conn) send(p []byte) {
	n, err := c.ch.Write(p)
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		c.finish(err)
		return
	}
	if n < len(p) {
		c.pending = append(c.pending[:0], p[n:]...)
		c.rewatch(api.EventWrite)
	}
}

func (c *conn) flush() {
	n, err := c.ch.Write(c.pending)
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		c.finish(err)
		return
	}
	c.pending = c.pending[n:]
	if len(c.pending) == 0 {
		c.pending = nil
		c.rewatch(api.EventRead)
	}
}

func (c *conn) finish(err error) {
	if err != nil && !errors.Is(err, io.EOF) {
		c.h.log.Debug("echo connection failed", zap.Int("fd", c.ch.ReadFd()), zap.Error(err))
	}
	if c.src != nil {
		_ = c.src.Free()
	}
	// Closing after the turn keeps the fd number from being recycled
	// while events for it may still be queued in this batch.
	ch := c.ch
	if d, ok := c.r.(api.Deferrer); ok {
		d.Defer(func() { _ = ch.Close() })
	} else {
		_ = ch.Close()
	}
	c.h.live--
}
