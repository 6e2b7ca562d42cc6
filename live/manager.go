package live

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Manager multiplexes websocket sessions. Sessions are independent: no
// ordering is guaranteed across them and cancelling one never affects
// another.
type Manager struct {
	backend  Backend
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	totalSessions atomic.Int64
}

// NewManager builds a session manager over backend.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the auth collaborator in front of
			// this handler.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   logger,
		sessions: map[string]*Session{},
	}
}

// ServeHTTP upgrades the request and runs the session until either side
// disconnects.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	session := NewSession(SessionConfig{
		Connection: conn,
		Backend:    m.backend,
		Logger:     m.logger,
		SessionID:  r.URL.Query().Get("session_id"),
	})

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()
	m.totalSessions.Add(1)

	logger := m.logger.With("session_id", session.ID())
	logger.Info("session started")

	session.Start()

	select {
	case <-r.Context().Done():
	case <-session.Done():
	}

	session.Close()
	m.mu.Lock()
	delete(m.sessions, session.ID())
	m.mu.Unlock()

	logger.Info("session ended", "duration_ms", time.Since(start).Milliseconds())
}

// Broadcast delivers an event to every connected session.
func (m *Manager) Broadcast(event SessionEvent) {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.sendEvent(event)
	}
}

// CloseAll shuts down every session, used on daemon shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.Close()
	}
}

// ManagerStats is a point-in-time view of all sessions.
type ManagerStats struct {
	ActiveSessions int            `json:"active_sessions"`
	TotalSessions  int64          `json:"total_sessions"`
	Sessions       []SessionStats `json:"sessions,omitempty"`
}

// Stats snapshots the manager and per-session counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := ManagerStats{
		ActiveSessions: len(m.sessions),
		TotalSessions:  m.totalSessions.Load(),
	}
	for _, s := range m.sessions {
		stats.Sessions = append(stats.Sessions, s.Stats())
	}
	return stats
}
