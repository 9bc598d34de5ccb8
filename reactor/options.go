// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
//
// Functional options shared by all reactor builds.

package reactor

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxEvents    = 128
	defaultPollInterval = 100 * time.Millisecond
)

// Option customizes reactor construction.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	maxEvents    int
	pollInterval time.Duration
	cpu          int
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		maxEvents:    defaultMaxEvents,
		pollInterval: defaultPollInterval,
		cpu:          -1,
	}
}

// WithLogger sets the logger used for recovered callback panics and
// loop diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxEvents bounds how many readiness events one Poll turn handles.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// WithPollInterval sets the epoll_wait timeout used by Run.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithCPU pins the goroutine executing Run to one CPU. A negative value
// leaves scheduling to the runtime.
func WithCPU(cpu int) Option {
	return func(o *options) {
		o.cpu = cpu
	}
}
