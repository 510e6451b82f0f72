// Package session tracks live socket connections and the routing tables the
// broadcaster reads: every driver session, sessions by user, and rider
// sessions by the one ride request each is scoped to.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/presence"
)

type Options struct {
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

type Manager struct {
	tokens   *auth.Service
	presence presence.Tracker
	opts     Options
	logger   *slog.Logger

	mu        sync.RWMutex
	drivers   map[string]*Session
	byUser    map[string]map[string]*Session
	byRequest map[string]map[string]*Session
}

func NewManager(tokens *auth.Service, tracker presence.Tracker, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		tokens:    tokens,
		presence:  tracker,
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "session"),
		drivers:   make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		byRequest: make(map[string]map[string]*Session),
	}
}

// Authenticate validates the handshake token carried in ?token=. Callers must
// refuse the upgrade on error.
func (m *Manager) Authenticate(r *http.Request) (auth.Claims, error) {
	token, err := auth.FromQuery(r)
	if err != nil {
		return auth.Claims{}, err
	}
	return m.tokens.Parse(token)
}

// Attach registers an upgraded connection and starts its pumps. requestID is
// the rider's subscription scope and is ignored for drivers.
func (m *Manager) Attach(conn *websocket.Conn, claims auth.Claims, requestID string) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		UserID: claims.UserID,
		Role:   claims.Role,
		conn:   conn,
		send:   make(chan []byte, m.opts.SendBuffer),
		done:   make(chan struct{}),
		mgr:    m,
	}
	if s.Role == models.RoleRider {
		s.RequestID = requestID
	}
	m.register(s)
	go s.writePump()
	go s.readPump()
	return s
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	if s.Role == models.RoleDriver {
		m.drivers[s.ID] = s
	}
	addTo(m.byUser, s.UserID, s)
	if s.RequestID != "" {
		addTo(m.byRequest, s.RequestID, s)
	}
	m.mu.Unlock()

	observability.WSSessions.WithLabelValues(string(s.Role)).Inc()
	if s.Role == models.RoleDriver {
		if err := m.presence.Online(context.Background(), s.UserID); err != nil {
			m.logger.Warn("mark driver online", "driver_id", s.UserID, "error", err)
		}
	}
	m.logger.Info("session opened", "session_id", s.ID, "user_id", s.UserID, "role", s.Role, "ride_request_id", s.RequestID)
}

// detach removes s from every table. Safe to call more than once.
func (m *Manager) detach(s *Session) {
	m.mu.Lock()
	_, known := m.byUser[s.UserID][s.ID]
	delete(m.drivers, s.ID)
	removeFrom(m.byUser, s.UserID, s.ID)
	if s.RequestID != "" {
		removeFrom(m.byRequest, s.RequestID, s.ID)
	}
	m.mu.Unlock()
	if !known {
		return
	}

	observability.WSSessions.WithLabelValues(string(s.Role)).Dec()
	if s.Role == models.RoleDriver {
		if err := m.presence.Offline(context.Background(), s.UserID); err != nil {
			m.logger.Warn("mark driver offline", "driver_id", s.UserID, "error", err)
		}
	}
	m.logger.Info("session closed", "session_id", s.ID, "user_id", s.UserID, "role", s.Role, "ride_request_id", s.RequestID)
}

func (m *Manager) Drivers() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.drivers))
	for _, s := range m.drivers {
		out = append(out, s)
	}
	return out
}

func (m *Manager) ForUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.byUser[userID])
}

func (m *Manager) ForRequest(requestID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.byRequest[requestID])
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.byUser {
		n += len(set)
	}
	return n
}

// Shutdown closes every open session. Used on server stop.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	var all []*Session
	for _, set := range m.byUser {
		all = append(all, snapshot(set)...)
	}
	m.mu.RUnlock()
	for _, s := range all {
		s.Close()
	}
}

func addTo(table map[string]map[string]*Session, key string, s *Session) {
	set, ok := table[key]
	if !ok {
		set = make(map[string]*Session)
		table[key] = set
	}
	set[s.ID] = s
}

func removeFrom(table map[string]map[string]*Session, key, id string) {
	set, ok := table[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(table, key)
	}
}

func snapshot(set map[string]*Session) []*Session {
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}
