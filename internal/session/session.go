package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/campus-rides/internal/models"
)

const maxMessageSize = 8192

// Session is one live connection bound to a user and routing scope.
type Session struct {
	ID        string
	UserID    string
	Role      models.Role
	RequestID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mgr       *Manager
}

// Send queues msg without blocking. It reports false when the session is
// closed or its buffer is full; the message is dropped in both cases.
func (s *Session) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Close detaches the session and stops its pumps.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mgr.detach(s)
		_ = s.conn.Close()
	})
}

func (s *Session) Done() <-chan struct{} { return s.done }

type inbound struct {
	Type string `json:"type"`
}

var pong = []byte(`{"type":"pong"}`)

func (s *Session) readPump() {
	defer s.Close()

	opts := s.mgr.opts
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.mgr.logger.Warn("ws read error", "session_id", s.ID, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))

		// clients only ever send keep-alives; anything else is ignored
		var msg inbound
		if json.Unmarshal(raw, &msg) == nil && msg.Type == "ping" {
			s.Send(pong)
		}
	}
}

func (s *Session) writePump() {
	opts := s.mgr.opts
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
