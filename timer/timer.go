// Package timer runs script timers. One-shots use time.AfterFunc; repeating
// timers ride a cron scheduler on constant-delay schedules. Callbacks are
// handed to a dispatch function supplied by the owner so that script code
// never runs on a timer goroutine directly.
package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/yaoapp/kun/log"

	"github.com/bylins/mudscript/engine"
)

// Dispatch delivers a due callback to the host's dispatch path
type Dispatch func(cb engine.Invocable)

// Manager the timer registry
type Manager struct {
	mu       sync.Mutex
	cron     *cron.Cron
	oneshots map[string]*time.Timer
	entries  map[string]cron.EntryID
	tickers  map[string]func()
	dispatch Dispatch
	stopped  bool
}

// New create a manager. The dispatch function is invoked from timer
// goroutines and must serialize callback execution itself.
func New(dispatch Dispatch) *Manager {
	if dispatch == nil {
		dispatch = func(cb engine.Invocable) {
			if _, err := cb.Invoke(); err != nil {
				log.Error("timer callback: %s", err.Error())
			}
		}
	}
	m := &Manager{
		cron:     cron.New(),
		oneshots: map[string]*time.Timer{},
		entries:  map[string]cron.EntryID{},
		tickers:  map[string]func(){},
		dispatch: dispatch,
	}
	m.cron.Start()
	return m
}

// SetTimeout schedule a one-shot callback after delay milliseconds
func (m *Manager) SetTimeout(delay int64, cb engine.Invocable) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ""
	}

	id := uuid.NewString()
	m.oneshots[id] = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		m.Clear(id)
		m.dispatch(cb)
	})
	return id
}

// SetInterval schedule a repeating callback every interval milliseconds
func (m *Manager) SetInterval(interval int64, cb engine.Invocable) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ""
	}

	if interval < 1 {
		interval = 1
	}
	id := uuid.NewString()

	// cron's constant-delay schedule rounds anything under a second up to
	// one second, so sub-second intervals run on their own ticker
	if interval < 1000 {
		ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
		stop := make(chan struct{})
		m.tickers[id] = func() {
			ticker.Stop()
			close(stop)
		}
		go func() {
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					m.dispatch(cb)
				}
			}
		}()
		return id
	}

	entry := m.cron.Schedule(cron.Every(time.Duration(interval)*time.Millisecond), cron.FuncJob(func() {
		m.dispatch(cb)
	}))
	m.entries[id] = entry
	return id
}

// Clear cancel a timer. Clearing an unknown or already-fired id is a no-op.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, has := m.oneshots[id]; has {
		t.Stop()
		delete(m.oneshots, id)
		return
	}
	if cancel, has := m.tickers[id]; has {
		cancel()
		delete(m.tickers, id)
		return
	}
	if entry, has := m.entries[id]; has {
		m.cron.Remove(entry)
		delete(m.entries, id)
	}
}

// Len the number of live timers
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.oneshots) + len(m.entries) + len(m.tickers)
}

// Shutdown cancel everything and stop the scheduler
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true

	for id, t := range m.oneshots {
		t.Stop()
		delete(m.oneshots, id)
	}
	for id, cancel := range m.tickers {
		cancel()
		delete(m.tickers, id)
	}
	for id, entry := range m.entries {
		m.cron.Remove(entry)
		delete(m.entries, id)
	}
	m.cron.Stop()
}
