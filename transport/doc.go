// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package transport implements the descriptor-backed channel that accepted
// connections are handed off as.
package transport
