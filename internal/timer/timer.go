// Package timer manages the pending "turn on" and "turn off" timers of a
// single device.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/growroom-automation/internal/clock"
)

// Callback runs when a timer fires. ctx is cancelled if the timer's class is
// cancelled after it fired but before the callback returned; callbacks must
// re-check ctx.Err() once they hold the owner's lock.
type Callback func(ctx context.Context)

type entry struct {
	isOn   bool
	ctx    context.Context
	cancel context.CancelFunc
	timer  clock.Timer
	at     time.Time
}

// Manager holds at most one ON timer and one OFF timer.
// Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	clock  clock.Clock
	ctx    context.Context
	stop   context.CancelFunc
	on     *entry
	off    *entry
	closed bool

	// fired entries whose callback has not returned yet
	firing map[*entry]struct{}
}

// New creates a Manager using the given clock.
func New(c clock.Clock) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{clock: c, ctx: ctx, stop: cancel, firing: make(map[*entry]struct{})}
}

func (m *Manager) slot(isOn bool) **entry {
	if isOn {
		return &m.on
	}
	return &m.off
}

// Schedule arms a one-shot timer of the given class. If a timer of that
// class is already pending the call is a no-op and returns false; the
// pending timer's fire time is left unchanged.
func (m *Manager) Schedule(delay time.Duration, isOn bool, cb Callback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	slot := m.slot(isOn)
	if *slot != nil {
		return false
	}
	if delay < 0 {
		delay = 0
	}

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{isOn: isOn, ctx: ctx, cancel: cancel, at: m.clock.Now().Add(delay)}
	e.timer = m.clock.AfterFunc(delay, func() { m.fire(isOn, e, cb) })
	*slot = e
	return true
}

func (m *Manager) fire(isOn bool, e *entry, cb Callback) {
	m.mu.Lock()
	slot := m.slot(isOn)
	if *slot == e {
		*slot = nil
	}
	if e.ctx.Err() != nil {
		m.mu.Unlock()
		e.cancel()
		return
	}
	m.firing[e] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.firing, e)
		m.mu.Unlock()
		e.cancel()
	}()
	cb(e.ctx)
}

// Cancel cancels the pending timer of one class, and the context of any
// callback of that class that has fired but not yet returned.
func (m *Manager) Cancel(isOn bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.slot(isOn)
	if e := *slot; e != nil {
		e.timer.Stop()
		e.cancel()
		*slot = nil
	}
	for e := range m.firing {
		if e.isOn == isOn {
			e.cancel()
		}
	}
}

// CancelAll cancels both timers and clears their scheduled times.
func (m *Manager) CancelAll() {
	m.Cancel(true)
	m.Cancel(false)
}

// IsActive reports whether a timer of the class is pending.
func (m *Manager) IsActive(isOn bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.slot(isOn) != nil
}

// ScheduledTime returns when the pending timer of the class will fire.
func (m *Manager) ScheduledTime(isOn bool) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := *m.slot(isOn); e != nil {
		return e.at, true
	}
	return time.Time{}, false
}

// Close cancels all timers. Later Schedule calls are ignored and any
// callback already in flight sees a cancelled context.
func (m *Manager) Close() {
	m.CancelAll()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()
}
