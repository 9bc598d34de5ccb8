// File: api/channel.go
// Author: momentics <momentics@gmail.com>
//
// Bidirectional byte-stream channel handed to connection handlers.

package api

import "io"

// Channel is a byte stream layered over a read and a write descriptor that
// belong to the same reactor. For accepted sockets both descriptors are the
// same socket.
type Channel interface {
	io.ReadWriteCloser

	// Reactor returns the reactor the channel is scheduled on.
	Reactor() Reactor

	ReadFd() int
	WriteFd() int
}

// ChannelFactory builds a Channel from a reactor and a descriptor pair.
type ChannelFactory func(r Reactor, rfd, wfd int) Channel
