// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters for listening endpoints.
// Counters are atomic so a monitoring goroutine may snapshot them while the
// reactor goroutine updates them.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known counter names updated by the accept dispatcher.
const (
	MetricAccepted     = "accepted"
	MetricDispatched   = "dispatched"
	MetricDropped      = "dropped"
	MetricAcceptErrors = "accept_errors"
)

// MetricsRegistry holds named monotonically increasing counters.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Uint64
	updated  atomic.Int64 // unix nanos
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*atomic.Uint64),
	}
}

// Inc adds one to the named counter, creating it on first use.
func (mr *MetricsRegistry) Inc(key string) {
	mr.Add(key, 1)
}

// Add adds delta to the named counter.
func (mr *MetricsRegistry) Add(key string, delta uint64) {
	mr.counter(key).Add(delta)
	mr.updated.Store(time.Now().UnixNano())
}

// Get returns the current value of a counter, zero if unknown.
func (mr *MetricsRegistry) Get(key string) uint64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// GetSnapshot returns a copy of all counters.
func (mr *MetricsRegistry) GetSnapshot() map[string]uint64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]uint64, len(mr.counters))
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}

// Updated returns the time of the last counter change.
func (mr *MetricsRegistry) Updated() time.Time {
	ns := mr.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (mr *MetricsRegistry) counter(key string) *atomic.Uint64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = new(atomic.Uint64)
		mr.counters[key] = c
	}
	return c
}
