// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address variants, connection handler contract and the listening
// endpoint type shared by all platform builds.

package server

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"reflect"

	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/control"
)

// Backlog is the listen(2) queue depth used by the Unix and IPv4
// constructors. It is fixed and not configurable.
const Backlog = 5

// Address selects how New obtains the listening descriptor.
// Implemented by FD, UnixPath and IPv4.
type Address interface {
	fmt.Stringer
	isAddress()
}

// FD is an already bound and listening descriptor owned by the caller until
// New succeeds.
type FD int

// UnixPath is a filesystem path to bind a Unix-domain stream socket to.
type UnixPath string

// IPv4 is a host-order IPv4 address and a non-zero port.
type IPv4 struct {
	Addr uint32
	Port uint16
}

func (FD) isAddress()       {}
func (UnixPath) isAddress() {}
func (IPv4) isAddress()     {}

func (a FD) String() string       { return fmt.Sprintf("fd:%d", int(a)) }
func (a UnixPath) String() string { return "unix:" + string(a) }

func (a IPv4) String() string {
	return netip.AddrPortFrom(a.netipAddr(), a.Port).String()
}

func (a IPv4) netipAddr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.Addr)
	return netip.AddrFrom4(b)
}

// IPv4FromAddrPort converts a parsed address. Only IPv4 addresses with a
// non-zero port are accepted.
func IPv4FromAddrPort(ap netip.AddrPort) (IPv4, error) {
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return IPv4{}, api.NewError(api.ErrCodeInvalidArgument, "not an IPv4 address").WithContext("addr", ap.String())
	}
	if ap.Port() == 0 {
		return IPv4{}, api.NewError(api.ErrCodeInvalidArgument, "port 0 is not supported").WithContext("addr", ap.String())
	}
	b := addr.As4()
	return IPv4{Addr: binary.BigEndian.Uint32(b[:]), Port: ap.Port()}, nil
}

// Handler receives accepted connections. It runs on the reactor goroutine
// and owns ch from the moment it is called.
type Handler interface {
	OnConnection(s *SocketServer, ch api.Channel, userdata any)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *SocketServer, ch api.Channel, userdata any)

// OnConnection calls f.
func (f HandlerFunc) OnConnection(s *SocketServer, ch api.Channel, userdata any) {
	f(s, ch, userdata)
}

// SocketServer is a listening endpoint registered with a reactor. It is not
// safe for concurrent use; every method must run on the reactor goroutine.
type SocketServer struct {
	fd       int
	path     string // set only for UnixPath endpoints, unlinked on Close
	handler  Handler
	userdata any
	source   api.Source
	closed   bool

	log        *zap.Logger
	metrics    *control.MetricsRegistry
	newChannel api.ChannelFactory
}

// SetHandler replaces the connection handler and its userdata. A nil
// handler restores the default policy of closing accepted connections.
func (s *SocketServer) SetHandler(h Handler, userdata any) {
	if isNilHandler(h) {
		h = nil
	}
	s.handler = h
	s.userdata = userdata
}

// isNilHandler also catches nil pointers and funcs wrapped in the interface.
func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	switch v := reflect.ValueOf(h); v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Fd returns the listening descriptor.
func (s *SocketServer) Fd() int { return s.fd }

// Path returns the bound socket path of a Unix-domain endpoint. It may be
// shorter than the requested path when that exceeded the sun_path limit.
func (s *SocketServer) Path() string { return s.path }

// Metrics returns the endpoint's counters.
func (s *SocketServer) Metrics() *control.MetricsRegistry { return s.metrics }

// Closed reports whether Close has run.
func (s *SocketServer) Closed() bool { return s.closed }
