// File: server/options.go
// Package server defines functional options for listening endpoints.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-listen/api"
	"github.com/momentics/hioload-listen/control"
)

// Option customizes endpoint construction.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	metrics    *control.MetricsRegistry
	newChannel api.ChannelFactory
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = control.NewMetricsRegistry()
	}
	return o
}

// WithLogger sets the logger for construction, accept and teardown
// diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics shares a counters registry, e.g. across several endpoints.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithChannelFactory overrides how accepted descriptors are wrapped.
func WithChannelFactory(f api.ChannelFactory) Option {
	return func(o *options) {
		o.newChannel = f
	}
}
