package connectivity

import (
	"sync"
)

// Monitor tracks network and backend reachability and notifies subscribers
// whenever the combined fully-online value flips.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	reachable   bool
	nextID      int
	subscribers map[int]func(bool)
}

// NewMonitor starts with both signals false.
func NewMonitor() *Monitor {
	return &Monitor{subscribers: make(map[int]func(bool))}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) IsBackendReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

func (m *Monitor) IsFullyOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online && m.reachable
}

func (m *Monitor) SetOnline(v bool) {
	m.update(func() { m.online = v })
}

func (m *Monitor) SetBackendReachable(v bool) {
	m.update(func() { m.reachable = v })
}

// Set changes both signals with a single notification.
func (m *Monitor) Set(online, reachable bool) {
	m.update(func() {
		m.online = online
		m.reachable = reachable
	})
}

// Subscribe registers fn for edges of the fully-online value. Callbacks run on
// the goroutine that changed the state and must not block.
func (m *Monitor) Subscribe(fn func(fullyOnline bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) update(change func()) {
	m.mu.Lock()
	before := m.online && m.reachable
	change()
	after := m.online && m.reachable
	if before == after {
		m.mu.Unlock()
		return
	}
	fns := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(after)
	}
}
