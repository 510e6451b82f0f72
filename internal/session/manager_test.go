package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/logging"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/presence"
)

type fixture struct {
	mgr      *Manager
	tokens   *auth.Service
	presence *presence.MemoryTracker
	srv      *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tokens := auth.NewService("test-secret", "campus-rides", time.Hour)
	tracker := presence.NewMemoryTracker()
	mgr := NewManager(tokens, tracker, opts, logging.Discard())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := mgr.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mgr.Attach(conn, claims, r.URL.Query().Get("request_id"))
	}))
	t.Cleanup(func() {
		mgr.Shutdown()
		srv.Close()
	})
	return &fixture{mgr: mgr, tokens: tokens, presence: tracker, srv: srv}
}

func (f *fixture) dial(t *testing.T, userID string, role models.Role, requestID string) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.Issue(userID, role)
	require.NoError(t, err)
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(token, requestID), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) url(token, requestID string) string {
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	if requestID != "" {
		q.Set("request_id", requestID)
	}
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?" + q.Encode()
}

func TestHandshakeRejectsBadTokens(t *testing.T) {
	f := newFixture(t, Options{})
	expired := auth.NewService("test-secret", "campus-rides", -time.Minute)
	stale, err := expired.Issue("driver-1", models.RoleDriver)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing":   "",
		"malformed": "not-a-jwt",
		"expired":   stale,
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(f.url(token, ""), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			resp.Body.Close()
		})
	}
	assert.Equal(t, 0, f.mgr.Count(), "no partial session is created")
}

func TestAttachRoutesByRoleAndRequest(t *testing.T) {
	f := newFixture(t, Options{})
	f.dial(t, "driver-1", models.RoleDriver, "")
	f.dial(t, "driver-2", models.RoleDriver, "ignored-for-drivers")
	f.dial(t, "rider-1", models.RoleRider, "req-1")

	require.Eventually(t, func() bool { return f.mgr.Count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, f.mgr.Drivers(), 2)
	assert.Len(t, f.mgr.ForUser("rider-1"), 1)
	assert.Empty(t, f.mgr.ForRequest("ignored-for-drivers"))

	riders := f.mgr.ForRequest("req-1")
	require.Len(t, riders, 1)
	assert.Equal(t, "rider-1", riders[0].UserID)
	assert.Equal(t, "req-1", riders[0].RequestID)

	n, err := f.presence.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDisconnectDetachesImmediately(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t, "driver-1", models.RoleDriver, "")
	require.Eventually(t, func() bool { return len(f.mgr.Drivers()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return f.mgr.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.mgr.Drivers())
	online, err := f.presence.IsOnline(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestSendDeliversAndAnswersPing(t *testing.T) {
	f := newFixture(t, Options{})
	conn := f.dial(t, "rider-1", models.RoleRider, "req-1")
	require.Eventually(t, func() bool { return len(f.mgr.ForRequest("req-1")) == 1 }, time.Second, 5*time.Millisecond)

	s := f.mgr.ForRequest("req-1")[0]
	assert.True(t, s.Send([]byte(`{"type":"new_offer"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"new_offer"}`, string(msg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))
}

func TestSendDropsWhenBufferFullOrClosed(t *testing.T) {
	mgr := NewManager(auth.NewService("k", "i", time.Hour), presence.NewMemoryTracker(), Options{SendBuffer: 1}, logging.Discard())
	s := &Session{ID: "s1", UserID: "u1", Role: models.RoleDriver, send: make(chan []byte, 1), done: make(chan struct{}), mgr: mgr}

	assert.True(t, s.Send([]byte("a")))
	assert.False(t, s.Send([]byte("b")), "full buffer drops instead of blocking")

	<-s.send
	close(s.done)
	assert.False(t, s.Send([]byte("c")))
}
