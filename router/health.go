package router

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthSnapshot is one aggregated poll result.
type HealthSnapshot struct {
	Taken  time.Time       `json:"taken"`
	Status map[string]bool `json:"status"`
}

// Monitor polls the router's health snapshot on an interval and publishes
// results to subscribers. Health is advisory: nothing in the router gates
// on it.
type Monitor struct {
	router   *Router
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	latest HealthSnapshot
	subs   map[int]chan HealthSnapshot
	nextID int
}

// NewMonitor builds a health monitor. interval <= 0 selects one minute.
func NewMonitor(r *Router, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		router:   r,
		interval: interval,
		logger:   logger,
		subs:     map[int]chan HealthSnapshot{},
	}
}

// Run polls until ctx is done. The first poll happens immediately so the
// cache is warm before the first tick.
func (m *Monitor) Run(ctx context.Context) {
	m.poll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// Poll forces one aggregation outside the timer, returning the snapshot.
func (m *Monitor) Poll(ctx context.Context) HealthSnapshot {
	return m.poll(ctx)
}

func (m *Monitor) poll(ctx context.Context) HealthSnapshot {
	status := m.router.HealthSnapshot(ctx)
	snapshot := HealthSnapshot{Taken: time.Now(), Status: status}

	m.mu.Lock()
	m.latest = snapshot
	for _, sub := range m.subs {
		select {
		case sub <- snapshot:
		default:
			// Slow subscribers miss polls rather than stalling the monitor.
		}
	}
	m.mu.Unlock()

	for name, healthy := range status {
		if !healthy {
			m.logger.Warn("provider unhealthy", "provider", name)
		}
	}
	return snapshot
}

// Latest returns the most recent snapshot; zero value before the first
// poll.
func (m *Monitor) Latest() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Subscribe registers a listener for future snapshots. The returned cancel
// function removes the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan HealthSnapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan HealthSnapshot, 1)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
}
