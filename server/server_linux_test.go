//go:build linux

// File: server/server_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint lifecycle and dispatch against a real epoll reactor.

package server_test

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/control"
	"github.com/momentics/hioload-listen/reactor"
	"github.com/momentics/hioload-listen/server"
)

const loopback = 0x7f000001

// recorder collects handed-off channels and closes them at test end.
type recorder struct {
	t        *testing.T
	channels []api.Channel
	userdata []any
}

func newRecorder(t *testing.T) *recorder {
	rec := &recorder{t: t}
	t.Cleanup(func() {
		for _, ch := range rec.channels {
			_ = ch.Close()
		}
	})
	return rec
}

func (rec *recorder) OnConnection(s *server.SocketServer, ch api.Channel, userdata any) {
	rec.channels = append(rec.channels, ch)
	rec.userdata = append(rec.userdata, userdata)
}

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// pollUntil drives the reactor until cond holds or the deadline passes.
func pollUntil(t *testing.T, r *reactor.Reactor, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met before deadline")
		_, err := r.Poll(10 * time.Millisecond)
		require.NoError(t, err)
	}
}

func sockPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "listen.sock")
}

func dialUnix(t *testing.T, path string) net.Conn {
	t.Helper()
	c, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// freePort finds a loopback port that is currently unused.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestUnixEndpointLifecycle(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	assert.Equal(t, 1, r.Pending())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSocket)

	addr, err := s.Addr()
	require.NoError(t, err)
	assert.Equal(t, path, addr.String())

	s.Close()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, r.Pending())
	assert.True(t, s.Closed())

	// second Close is a no-op
	s.Close()
}

func TestIPv4DispatchOnePerHandshake(t *testing.T) {
	r := newReactor(t)
	port := freePort(t)

	s, err := server.NewIPv4(r, loopback, port)
	require.NoError(t, err)
	defer s.Close()

	addr, err := s.Addr()
	require.NoError(t, err)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))), addr.String())

	rec := newRecorder(t)
	s.SetHandler(rec, "ctx")

	const clients = 3
	conns := make([]net.Conn, 0, clients)
	for i := 0; i < clients; i++ {
		c, err := net.Dial("tcp4", addr.String())
		require.NoError(t, err)
		defer c.Close()
		conns = append(conns, c)
	}
	pollUntil(t, r, func() bool { return len(rec.channels) == clients })

	seen := map[int]bool{}
	for i, ch := range rec.channels {
		assert.Equal(t, ch.ReadFd(), ch.WriteFd())
		assert.False(t, seen[ch.ReadFd()], "channel %d reuses a descriptor", i)
		seen[ch.ReadFd()] = true
		assert.Same(t, r, ch.Reactor())
		assert.Equal(t, "ctx", rec.userdata[i])
	}

	// a few more turns must not produce phantom dispatches
	for i := 0; i < 3; i++ {
		_, err := r.Poll(5 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Len(t, rec.channels, clients)
	assert.Equal(t, uint64(clients), s.Metrics().Get(control.MetricDispatched))

	// data flows both ways over the handed-off channel
	_, err = conns[0].Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(rec.channels[0], buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestSingleAcceptPerReadinessEvent(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	rec := newRecorder(t)
	s.SetHandler(rec, nil)

	for i := 0; i < 3; i++ {
		dialUnix(t, path)
	}

	n, err := r.Poll(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, rec.channels, 1, "one turn must accept exactly one connection")

	pollUntil(t, r, func() bool { return len(rec.channels) == 3 })
}

func TestDefaultPolicyDropsConnections(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	conns := []net.Conn{dialUnix(t, path), dialUnix(t, path)}
	pollUntil(t, r, func() bool { return s.Metrics().Get(control.MetricDropped) == 2 })

	assert.Equal(t, uint64(2), s.Metrics().Get(control.MetricAccepted))
	assert.Zero(t, s.Metrics().Get(control.MetricDispatched))
	for _, c := range conns {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err := c.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF, "dropped connection must be closed by the server")
	}
}

func TestSetHandlerReplacesPrevious(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	first, second := newRecorder(t), newRecorder(t)

	s.SetHandler(first, 1)
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return len(first.channels) == 1 })

	s.SetHandler(second, 2)
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return len(second.channels) == 1 })
	assert.Len(t, first.channels, 1)
	assert.Equal(t, []any{2}, second.userdata)

	s.SetHandler(nil, nil)
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return s.Metrics().Get(control.MetricDropped) == 1 })
	assert.Len(t, first.channels, 1)
	assert.Len(t, second.channels, 1)
}

func TestHandlerFuncAdapter(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	var got *server.SocketServer
	s.SetHandler(server.HandlerFunc(func(srv *server.SocketServer, ch api.Channel, _ any) {
		got = srv
		_ = ch.Close()
	}), nil)
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return got != nil })
	assert.Same(t, s, got)

	// a typed nil func behaves like no handler
	s.SetHandler(server.HandlerFunc(nil), nil)
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return s.Metrics().Get(control.MetricDropped) == 1 })
}

func TestNilPointerHandlerDropsConnections(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	var rec *recorder
	s.SetHandler(rec, nil)
	c := dialUnix(t, path)
	pollUntil(t, r, func() bool { return s.Metrics().Get(control.MetricDropped) == 1 })
	assert.Zero(t, s.Metrics().Get(control.MetricDispatched))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestPanickingHandlerClosesConnection(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	calls := 0
	s.SetHandler(server.HandlerFunc(func(*server.SocketServer, api.Channel, any) {
		calls++
		panic("handler failure")
	}), nil)
	c := dialUnix(t, path)
	pollUntil(t, r, func() bool { return calls == 1 })

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "peer must see EOF after the handler panicked")

	// the listener keeps serving
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return calls == 2 })
}

func TestNoDispatchAfterClose(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	rec := newRecorder(t)
	s.SetHandler(rec, nil)

	dialUnix(t, path)
	s.Close()

	for i := 0; i < 3; i++ {
		_, err := r.Poll(5 * time.Millisecond)
		require.NoError(t, err)
	}
	assert.Empty(t, rec.channels)
	assert.Equal(t, 0, r.Pending())

	_, err = s.Addr()
	assert.ErrorIs(t, err, api.ErrClosed)
}

func TestUnixPathTruncation(t *testing.T) {
	limit := len(unix.RawSockaddrUnix{}.Path) - 1
	dir := t.TempDir()
	if len(dir)+2 > limit {
		t.Skipf("temp dir %q too long to exercise truncation", dir)
	}
	path := filepath.Join(dir, strings.Repeat("s", 2*limit))
	want := path[:limit]

	log, logs := observed()
	r := newReactor(t)
	s, err := server.NewUnix(r, path, server.WithLogger(log))
	require.NoError(t, err)
	assert.Equal(t, want, s.Path())
	assert.Equal(t, 1, logs.FilterMessage("unix socket path truncated").Len())

	_, err = os.Stat(want)
	require.NoError(t, err)

	s.Close()
	_, err = os.Stat(want)
	assert.True(t, os.IsNotExist(err))
}

func TestPreconditionViolations(t *testing.T) {
	r := newReactor(t)

	s, err := server.NewIPv4(r, loopback, 0)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	s, err = server.NewFromFD(r, -1)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	s, err = server.NewUnix(r, "")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	s, err = server.New(nil, server.UnixPath(sockPath(t)))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	assert.Equal(t, 0, r.Pending())
}

func TestBindFailureReturnsNoEndpoint(t *testing.T) {
	r := newReactor(t)
	log, logs := observed()

	missing := filepath.Join(t.TempDir(), "no", "such", "dir", "s.sock")
	s, err := server.NewUnix(r, missing, server.WithLogger(log))
	assert.Nil(t, s)
	require.Error(t, err)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeBind, apiErr.Code)
	assert.ErrorIs(t, err, unix.ENOENT)
	assert.Equal(t, 1, logs.FilterMessage("bind failed").Len())
	assert.Equal(t, 0, r.Pending())
}

func TestBindInUseKeepsExistingSocket(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	owner, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer owner.Close()

	s, err := server.NewUnix(r, path)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, unix.EADDRINUSE)

	// the failed attempt must not remove the owner's socket file
	_, err = os.Stat(path)
	require.NoError(t, err)
	dialUnix(t, path)
}

func TestIPv4BindConflict(t *testing.T) {
	r := newReactor(t)
	port := freePort(t)

	first, err := server.NewIPv4(r, loopback, port)
	require.NoError(t, err)
	defer first.Close()

	second, err := server.NewIPv4(r, loopback, port)
	assert.Nil(t, second)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeBind, apiErr.Code)
	assert.Equal(t, 1, r.Pending())
}

func TestNewFromExistingDescriptor(t *testing.T) {
	r := newReactor(t)
	path := sockPath(t)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Bind(fd, &unix.SockaddrUnix{Name: path}))
	require.NoError(t, unix.Listen(fd, server.Backlog))

	s, err := server.NewFromFD(r, fd)
	require.NoError(t, err)
	assert.Equal(t, fd, s.Fd())
	assert.Empty(t, s.Path(), "descriptor endpoints own no path")

	rec := newRecorder(t)
	s.SetHandler(rec, nil)
	dialUnix(t, path)
	pollUntil(t, r, func() bool { return len(rec.channels) == 1 })

	s.Close()
	// the path was not created by the endpoint and is left alone
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSharedMetricsAcrossEndpoints(t *testing.T) {
	r := newReactor(t)
	m := control.NewMetricsRegistry()

	a, err := server.NewUnix(r, sockPath(t), server.WithMetrics(m))
	require.NoError(t, err)
	defer a.Close()
	b, err := server.NewUnix(r, sockPath(t), server.WithMetrics(m))
	require.NoError(t, err)
	defer b.Close()

	dialUnix(t, a.Path())
	dialUnix(t, b.Path())
	pollUntil(t, r, func() bool { return m.Get(control.MetricDropped) == 2 })
	assert.Same(t, m, a.Metrics())
}
