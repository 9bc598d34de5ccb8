//go:build linux
// +build linux

// File: server/server_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listening endpoint construction, accept dispatch and teardown on Linux.

package server

import (
	"encoding/binary"
	"errors"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/control"
	"github.com/momentics/hioload-listen/transport"
)

// maxUnixPath leaves room for the terminating NUL in sun_path.
var maxUnixPath = len(unix.RawSockaddrUnix{}.Path) - 1

// New builds a listening endpoint for addr and registers it with r for read
// readiness. On failure no endpoint is returned and every descriptor the call
// created has been closed; a caller-supplied FD is left open.
func New(r api.Reactor, addr Address, opts ...Option) (*SocketServer, error) {
	o := buildOptions(opts)
	if r == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "nil reactor")
	}
	switch a := addr.(type) {
	case FD:
		return newFromFD(r, int(a), o)
	case UnixPath:
		return newUnix(r, string(a), o)
	case IPv4:
		return newIPv4(r, a, o)
	default:
		return nil, api.NewError(api.ErrCodeInvalidArgument, "unsupported address").WithContext("addr", addr)
	}
}

// NewFromFD wraps a bound, listening descriptor.
func NewFromFD(r api.Reactor, fd int, opts ...Option) (*SocketServer, error) {
	return New(r, FD(fd), opts...)
}

// NewUnix listens on a Unix-domain stream socket at path. Paths longer than
// the sun_path limit are truncated and the truncated path is what gets bound
// and later unlinked.
func NewUnix(r api.Reactor, path string, opts ...Option) (*SocketServer, error) {
	return New(r, UnixPath(path), opts...)
}

// NewIPv4 listens on a TCP socket at the host-order address and port.
func NewIPv4(r api.Reactor, addr uint32, port uint16, opts ...Option) (*SocketServer, error) {
	return New(r, IPv4{Addr: addr, Port: port}, opts...)
}

func newFromFD(r api.Reactor, fd int, o options) (*SocketServer, error) {
	if fd < 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "invalid descriptor").WithContext("fd", fd)
	}
	// A readiness report can be stale by the time accept runs; the listener
	// must not block the loop when that happens.
	if err := unix.SetNonblock(fd, true); err != nil {
		o.logger.Warn("set listener non-blocking failed", zap.Int("fd", fd), zap.Error(err))
	}

	s := &SocketServer{
		fd:         fd,
		log:        o.logger,
		metrics:    o.metrics,
		newChannel: o.newChannel,
	}
	if s.newChannel == nil {
		s.newChannel = transport.Factory
	}

	src, err := r.WatchIO(fd, api.EventRead, s.onReadable)
	if err != nil {
		o.logger.Error("register listener failed", zap.Int("fd", fd), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeRegister, "watch", err).WithContext("fd", fd)
	}
	s.source = src
	return s, nil
}

func newUnix(r api.Reactor, path string, o options) (*SocketServer, error) {
	if path == "" {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "empty unix socket path")
	}
	bound := path
	if len(bound) > maxUnixPath {
		bound = bound[:maxUnixPath]
		o.logger.Warn("unix socket path truncated",
			zap.String("path", path), zap.String("bound", bound), zap.Int("limit", maxUnixPath))
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		o.logger.Error("socket failed", zap.String("path", bound), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeSocket, "socket", err).WithContext("path", bound)
	}
	g := newFDGuard(fd)
	defer g.close()

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: bound}); err != nil {
		o.logger.Error("bind failed", zap.String("path", bound), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeBind, "bind", err).WithContext("path", bound)
	}
	// From here on the socket file is ours and goes away with the descriptor.
	g.path = bound

	if err := unix.Listen(fd, Backlog); err != nil {
		o.logger.Error("listen failed", zap.String("path", bound), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeListen, "listen", err).WithContext("path", bound)
	}

	s, err := newFromFD(r, fd, o)
	if err != nil {
		return nil, err
	}
	g.release()
	s.path = bound
	return s, nil
}

func newIPv4(r api.Reactor, a IPv4, o options) (*SocketServer, error) {
	if a.Port == 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "port 0 is not supported").WithContext("addr", a.String())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		o.logger.Error("socket failed", zap.Stringer("addr", a), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeSocket, "socket", err).WithContext("addr", a.String())
	}
	g := newFDGuard(fd)
	defer g.close()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		o.logger.Warn("setsockopt SO_REUSEADDR failed", zap.Stringer("addr", a), zap.Error(err))
	}

	sa := &unix.SockaddrInet4{Port: int(a.Port)}
	binary.BigEndian.PutUint32(sa.Addr[:], a.Addr)
	if err := unix.Bind(fd, sa); err != nil {
		o.logger.Error("bind failed", zap.Stringer("addr", a), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeBind, "bind", err).WithContext("addr", a.String())
	}
	if err := unix.Listen(fd, Backlog); err != nil {
		o.logger.Error("listen failed", zap.Stringer("addr", a), zap.Error(err))
		return nil, api.WrapSyscall(api.ErrCodeListen, "listen", err).WithContext("addr", a.String())
	}

	s, err := newFromFD(r, fd, o)
	if err != nil {
		return nil, err
	}
	g.release()
	return s, nil
}

// onReadable accepts one pending connection per readiness event. Remaining
// connections keep the descriptor readable and are picked up on later turns.
func (s *SocketServer) onReadable(src api.Source, fd int, events api.IOEvent) {
	if s.closed || events&api.EventRead == 0 {
		return
	}

	nfd, _, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
	if err != nil {
		s.metrics.Inc(control.MetricAcceptErrors)
		s.log.Warn("accept failed", zap.Int("fd", fd), zap.Error(err))
		return
	}
	s.metrics.Inc(control.MetricAccepted)

	h, userdata := s.handler, s.userdata
	if h == nil {
		s.metrics.Inc(control.MetricDropped)
		_ = unix.Close(nfd)
		return
	}

	ch := s.newChannel(src.Reactor(), nfd, nfd)
	s.metrics.Inc(control.MetricDispatched)
	// A panicking handler never took ownership; close the connection so the
	// peer sees EOF, then let the reactor recover.
	defer func() {
		if p := recover(); p != nil {
			_ = ch.Close()
			panic(p)
		}
	}()
	h.OnConnection(s, ch, userdata)
}

// Close releases the reactor registration, closes the listening descriptor
// and unlinks the socket path if there is one. Failures are logged only.
// No callback runs after Close returns; calling it again does nothing.
func (s *SocketServer) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if err := s.source.Free(); err != nil {
		s.log.Warn("release listener registration failed", zap.Int("fd", s.fd), zap.Error(err))
	}
	if err := unix.Close(s.fd); err != nil {
		s.log.Warn("close listener failed", zap.Int("fd", s.fd), zap.Error(err))
	}
	if s.path != "" {
		if err := unix.Unlink(s.path); err != nil {
			s.log.Warn("unlink socket path failed", zap.String("path", s.path), zap.Error(err))
		}
		s.path = ""
	}
}

// Addr returns the address the listener is bound to.
func (s *SocketServer) Addr() (net.Addr, error) {
	if s.closed {
		return nil, api.ErrClosed
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil, err
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}, nil
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: sa.Name, Net: "unix"}, nil
	default:
		return nil, errors.New("unsupported socket address family")
	}
}

// fdGuard closes a descriptor on every exit path unless released; once a
// path is recorded the socket file is unlinked with it.
type fdGuard struct {
	fd   int
	path string
}

func newFDGuard(fd int) *fdGuard {
	return &fdGuard{fd: fd}
}

func (g *fdGuard) release() {
	g.fd = -1
	g.path = ""
}

func (g *fdGuard) close() {
	if g.fd < 0 {
		return
	}
	_ = unix.Close(g.fd)
	if g.path != "" {
		_ = unix.Unlink(g.path)
	}
	g.fd = -1
}
