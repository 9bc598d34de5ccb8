//go:build unix

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Command hioload-listen runs echo listeners on Unix-domain and IPv4 sockets
// driven by a single epoll reactor.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hioload-listen: %v\n", err)
		os.Exit(1)
	}
}
