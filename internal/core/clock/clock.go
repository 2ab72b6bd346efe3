// Package clock provides the server wall clock used to stamp accepted writes
// and to compute change-feed cursors.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current server time in epoch milliseconds.
type Clock interface {
	NowMs() int64
}

// System reads the process wall clock.
type System struct{}

// NowMs implements Clock.
func (System) NowMs() int64 {
	return time.Now().UnixMilli()
}

// Manual is a settable clock for tests and replay tooling.
//
// Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual creates a manual clock reading nowMs.
func NewManual(nowMs int64) *Manual {
	return &Manual{now: nowMs}
}

// NowMs implements Clock.
func (m *Manual) NowMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to nowMs.
func (m *Manual) Set(nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = nowMs
}

// Advance moves the clock forward by deltaMs and returns the new reading.
func (m *Manual) Advance(deltaMs int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += deltaMs
	return m.now
}
