//go:build linux

// File: server/dispatch_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accept dispatcher behavior under scripted readiness from a fake reactor.

package server_test

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/control"
	"github.com/momentics/hioload-listen/fake"
	"github.com/momentics/hioload-listen/server"
)

func TestSpuriousReadinessIsSoftFailure(t *testing.T) {
	r := fake.NewReactor()
	log, logs := observed()
	path := sockPath(t)

	s, err := server.NewUnix(r, path, server.WithLogger(log))
	require.NoError(t, err)
	defer s.Close()

	rec := newRecorder(t)
	s.SetHandler(rec, nil)

	src, ok := r.Lookup(s.Fd())
	require.True(t, ok)
	assert.Equal(t, api.EventRead, src.Events())

	// nothing is pending: accept fails without blocking
	require.True(t, r.Fire(s.Fd(), api.EventRead))
	assert.Equal(t, 1, logs.FilterMessage("accept failed").Len())
	assert.Equal(t, uint64(1), s.Metrics().Get(control.MetricAcceptErrors))
	assert.Empty(t, rec.channels)
	assert.False(t, src.Freed, "accept failure must not deregister the endpoint")

	// the endpoint keeps working
	dialUnix(t, path)
	require.True(t, r.Fire(s.Fd(), api.EventRead))
	assert.Len(t, rec.channels, 1)
	assert.Same(t, r, rec.channels[0].Reactor())
}

func TestNonReadEventsAreIgnored(t *testing.T) {
	r := fake.NewReactor()
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	defer s.Close()

	rec := newRecorder(t)
	s.SetHandler(rec, nil)
	dialUnix(t, path)

	r.Fire(s.Fd(), api.EventError|api.EventHangup)
	assert.Empty(t, rec.channels)
	assert.Zero(t, s.Metrics().Get(control.MetricAccepted))

	r.Fire(s.Fd(), api.EventRead|api.EventError)
	assert.Len(t, rec.channels, 1)
}

func TestCloseReleasesRegistration(t *testing.T) {
	r := fake.NewReactor()
	path := sockPath(t)

	s, err := server.NewUnix(r, path)
	require.NoError(t, err)
	fd := s.Fd()
	src, ok := r.Lookup(fd)
	require.True(t, ok)

	s.Close()
	assert.True(t, src.Freed)
	assert.False(t, r.Fire(fd, api.EventRead))
	assert.Equal(t, 0, r.Live())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRegistrationFailureCleansUp(t *testing.T) {
	r := fake.NewReactor()
	r.WatchErr = errors.New("no room")
	log, logs := observed()
	path := sockPath(t)

	s, err := server.NewUnix(r, path, server.WithLogger(log))
	assert.Nil(t, s)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeRegister, apiErr.Code)
	assert.Equal(t, 1, logs.FilterMessage("register listener failed").Len())

	// the half-built socket file is gone and nothing listens on it
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = net.Dial("unix", path)
	assert.Error(t, err)
}

func TestCustomChannelFactory(t *testing.T) {
	r := fake.NewReactor()
	path := sockPath(t)

	var built [][2]int
	factory := func(rr api.Reactor, rfd, wfd int) api.Channel {
		built = append(built, [2]int{rfd, wfd})
		return stubChannel{r: rr, fd: rfd}
	}
	s, err := server.NewUnix(r, path, server.WithChannelFactory(factory))
	require.NoError(t, err)
	defer s.Close()

	var got api.Channel
	s.SetHandler(server.HandlerFunc(func(_ *server.SocketServer, ch api.Channel, _ any) {
		got = ch
	}), nil)
	dialUnix(t, path)
	r.Fire(s.Fd(), api.EventRead)

	require.Len(t, built, 1)
	assert.Equal(t, built[0][0], built[0][1])
	require.NotNil(t, got)
	assert.Equal(t, built[0][0], got.ReadFd())
	require.NoError(t, got.Close())
}

// stubChannel closes its descriptor and nothing else.
type stubChannel struct {
	r  api.Reactor
	fd int
}

func (c stubChannel) Read([]byte) (int, error)  { return 0, errors.New("stub") }
func (c stubChannel) Write([]byte) (int, error) { return 0, errors.New("stub") }
func (c stubChannel) Close() error              { return closeFD(c.fd) }
func (c stubChannel) Reactor() api.Reactor      { return c.r }
func (c stubChannel) ReadFd() int               { return c.fd }
func (c stubChannel) WriteFd() int              { return c.fd }
