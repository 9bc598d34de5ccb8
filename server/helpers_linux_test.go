//go:build linux

package server_test

import "golang.org/x/sys/unix"

func closeFD(fd int) error {
	return unix.Close(fd)
}
