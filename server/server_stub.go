//go:build !linux
// +build !linux

// File: server/server_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for unsupported platforms.

package server

import (
	"net"

	"github.com/momentics/hioload-listen/api"
)

// New returns an error for unsupported platforms.
func New(r api.Reactor, addr Address, opts ...Option) (*SocketServer, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "listening endpoints require linux")
}

// NewFromFD returns an error for unsupported platforms.
func NewFromFD(r api.Reactor, fd int, opts ...Option) (*SocketServer, error) {
	return New(r, FD(fd), opts...)
}

// NewUnix returns an error for unsupported platforms.
func NewUnix(r api.Reactor, path string, opts ...Option) (*SocketServer, error) {
	return New(r, UnixPath(path), opts...)
}

// NewIPv4 returns an error for unsupported platforms.
func NewIPv4(r api.Reactor, addr uint32, port uint16, opts ...Option) (*SocketServer, error) {
	return New(r, IPv4{Addr: addr, Port: port}, opts...)
}

// Close does nothing; no endpoint can exist on unsupported platforms.
func (s *SocketServer) Close() {}

// Addr returns api.ErrNotSupported.
func (s *SocketServer) Addr() (net.Addr, error) { return nil, api.ErrNotSupported }
