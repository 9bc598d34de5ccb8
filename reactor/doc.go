// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded, level-triggered epoll event
// loop that listening endpoints and channels register their descriptors with.
//
// All methods except Quit must be called from the goroutine driving Poll/Run.
package reactor
