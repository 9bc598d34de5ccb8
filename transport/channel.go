//go:build unix

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"io"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-listen/api"
)

// Channel is a byte stream over a read and a write descriptor scheduled on
// one reactor. It owns both descriptors.
type Channel struct {
	reactor api.Reactor
	rfd     int
	wfd     int
	closed  bool
}

var _ api.Channel = (*Channel)(nil)

// NewChannel wraps rfd and wfd. They may be the same descriptor.
func NewChannel(r api.Reactor, rfd, wfd int) *Channel {
	return &Channel{reactor: r, rfd: rfd, wfd: wfd}
}

// Factory adapts NewChannel to api.ChannelFactory.
func Factory(r api.Reactor, rfd, wfd int) api.Channel {
	return NewChannel(r, rfd, wfd)
}

// Read fills buf from the read descriptor. A zero-byte read is io.EOF.
func (c *Channel) Read(buf []byte) (int, error) {
	if c.closed {
		return 0, api.ErrClosed
	}
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.rfd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes all of buf unless an error occurs. On a non-blocking
// descriptor EAGAIN is returned together with the bytes already written.
func (c *Channel) Write(buf []byte) (int, error) {
	if c.closed {
		return 0, api.ErrClosed
	}
	written := 0
	for written < len(buf) {
		n, err := unix.Write(c.wfd, buf[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Close closes both descriptors. Calling it again is a no-op.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := unix.Close(c.rfd)
	if c.wfd != c.rfd {
		if werr := unix.Close(c.wfd); err == nil {
			err = werr
		}
	}
	return err
}

// SetNonblock switches both descriptors between blocking and non-blocking
// mode.
func (c *Channel) SetNonblock(nonblocking bool) error {
	if err := unix.SetNonblock(c.rfd, nonblocking); err != nil {
		return err
	}
	if c.wfd != c.rfd {
		return unix.SetNonblock(c.wfd, nonblocking)
	}
	return nil
}

func (c *Channel) Reactor() api.Reactor { return c.reactor }
func (c *Channel) ReadFd() int          { return c.rfd }
func (c *Channel) WriteFd() int         { return c.wfd }
