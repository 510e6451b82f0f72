package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/config"
	"github.com/example/campus-rides/internal/dispatch"
	"github.com/example/campus-rides/internal/ingest"
	"github.com/example/campus-rides/internal/logging"
	"github.com/example/campus-rides/internal/matcher"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/presence"
	"github.com/example/campus-rides/internal/ratings"
	"github.com/example/campus-rides/internal/session"
	"github.com/example/campus-rides/internal/storage"
)

type testAPI struct {
	srv      *httptest.Server
	tokens   *auth.Service
	sessions *session.Manager
	presence *presence.MemoryTracker
}

func newTestAPI(t *testing.T, checks map[string]ReadyCheck) *testAPI {
	t.Helper()
	logger := logging.Discard()
	store := storage.NewMemoryStore()
	tokens := auth.NewService("test-secret", "campus-rides", time.Hour)
	tracker := presence.NewMemoryTracker()
	sessions := session.NewManager(tokens, tracker, session.Options{}, logger)
	gate := ratings.NewGate(store, ingest.Noop{}, logger)
	fares := config.FareConfig{
		RatePerMile:   decimal.RequireFromString("0.50"),
		MinimumFare:   decimal.RequireFromString("3.00"),
		MinOfferPrice: decimal.RequireFromString("1.00"),
		MaxOfferPrice: decimal.RequireFromString("10000.00"),
	}
	svc := matcher.NewService(store, dispatch.NewBroadcaster(sessions, logger), ingest.Noop{}, gate, fares, logger)
	if checks == nil {
		checks = map[string]ReadyCheck{"store": store.Ping}
	}
	srv := httptest.NewServer(NewServer(Deps{
		Matcher:     svc,
		Ratings:     gate,
		Sessions:    sessions,
		Tokens:      tokens,
		Presence:    tracker,
		ReadyChecks: checks,
		Logger:      logger,
	}))
	t.Cleanup(func() {
		sessions.Shutdown()
		srv.Close()
	})
	return &testAPI{srv: srv, tokens: tokens, sessions: sessions, presence: tracker}
}

func (a *testAPI) token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	tok, err := a.tokens.Issue(userID, role)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) call(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func object(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m), string(raw))
	return m
}

func list(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var l []map[string]any
	require.NoError(t, json.Unmarshal(raw, &l), string(raw))
	return l
}

var austinToDallas = map[string]any{
	"pickup":  map[string]any{"city": "Austin", "state": "TX", "lat": 30.2672, "lng": -97.7431},
	"dropoff": map[string]any{"city": "Dallas", "state": "TX", "lat": 32.7767, "lng": -96.7970},
	"time":    map[string]any{"time_type": "immediate"},
}

func TestHealthAndReady(t *testing.T) {
	a := newTestAPI(t, nil)
	status, body := a.call(t, "GET", "/healthz", "", nil)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", string(body))

	status, _ = a.call(t, "GET", "/ready", "", nil)
	assert.Equal(t, 200, status)

	down := newTestAPI(t, map[string]ReadyCheck{"redis": func(context.Context) error { return errors.New("refused") }})
	status, _ = down.call(t, "GET", "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAuthAndRoleGuards(t *testing.T) {
	a := newTestAPI(t, nil)

	status, body := a.call(t, "GET", "/api/rides/active", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", object(t, body)["error"])

	status, _ = a.call(t, "GET", "/api/rides/active", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = a.call(t, "POST", "/api/rides/request", a.token(t, "driver-1", models.RoleDriver), austinToDallas)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", object(t, body)["error"])

	status, _ = a.call(t, "POST", "/api/rides/offer", a.token(t, "rider-1", models.RoleRider), map[string]any{"ride_request": "x", "price": "10"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t, nil)
	rider := a.token(t, "rider-1", models.RoleRider)
	driver := a.token(t, "driver-1", models.RoleDriver)

	status, body := a.call(t, "POST", "/api/rides/request", rider, "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", object(t, body)["error"])

	status, body = a.call(t, "GET", "/api/rides/request/missing", rider, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", object(t, body)["error"])

	status, body = a.call(t, "POST", "/api/rides/request", rider, austinToDallas)
	require.Equal(t, http.StatusCreated, status, string(body))
	id := object(t, body)["id"].(string)

	status, body = a.call(t, "POST", "/api/rides/request", rider, austinToDallas)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "active_ride_exists", object(t, body)["error"])

	status, body = a.call(t, "POST", "/api/rides/offer", driver, map[string]any{"ride_request": id, "price": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_price", object(t, body)["error"])

	status, _ = a.call(t, "PATCH", "/api/rides/request/"+id, rider, map[string]any{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.call(t, "PATCH", "/api/rides/request/"+id, a.token(t, "rider-2", models.RoleRider), map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = a.call(t, "PATCH", "/api/rides/request/"+id+"/update", rider, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "cancelled", object(t, body)["status"])

	status, body = a.call(t, "PATCH", "/api/rides/request/"+id, rider, map[string]any{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", object(t, body)["error"])

	status, body = a.call(t, "POST", "/api/rides/offer", driver, map[string]any{"ride_request": id, "price": "20"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "request_not_open", object(t, body)["error"])
}

func TestRideLifecycleOverREST(t *testing.T) {
	a := newTestAPI(t, nil)
	rider := a.token(t, "rider-1", models.RoleRider)
	d80 := a.token(t, "driver-80", models.RoleDriver)
	d65 := a.token(t, "driver-65", models.RoleDriver)

	status, body := a.call(t, "POST", "/api/rides/request", rider, austinToDallas)
	require.Equal(t, http.StatusCreated, status, string(body))
	created := object(t, body)
	id := created["id"].(string)
	assert.Equal(t, "pending", created["status"])
	assert.InDelta(t, 182, created["distance_miles"].(float64), 5)

	status, body = a.call(t, "GET", "/api/rides/requests", d80, nil)
	require.Equal(t, 200, status)
	require.Len(t, list(t, body), 1)

	status, body = a.call(t, "POST", "/api/rides/offer", d80, map[string]any{"ride_request": id, "price": "85.00", "estimated_arrival_minutes": 15})
	require.Equal(t, http.StatusCreated, status, string(body))
	status, body = a.call(t, "POST", "/api/rides/offer", d80, map[string]any{"ride_request": id, "price": "80.00", "estimated_arrival_minutes": 12})
	require.Equal(t, http.StatusOK, status, "resubmission replaces")
	status, body = a.call(t, "POST", "/api/rides/offer", d65, map[string]any{"ride_request": id, "price": 65, "estimated_arrival_minutes": 9})
	require.Equal(t, http.StatusCreated, status, string(body))
	offer65 := object(t, body)["id"].(string)

	status, body = a.call(t, "GET", "/api/rides/offers?ride_request="+id, rider, nil)
	require.Equal(t, 200, status)
	offers := list(t, body)
	require.Len(t, offers, 2)
	assert.Equal(t, 5.0, offers[0]["driver_rating"])

	status, body = a.call(t, "GET", "/api/rides/offers?ride_request="+id, d65, nil)
	require.Equal(t, 200, status)
	assert.Len(t, list(t, body), 1, "drivers see only their own offers")

	status, body = a.call(t, "POST", "/api/rides/accept-offer", rider, map[string]any{"offer_id": offer65})
	require.Equal(t, 200, status, string(body))
	conf := object(t, body)
	assert.Equal(t, "driver-65", conf["driver"].(map[string]any)["id"])
	assert.Equal(t, "65", conf["price"])

	status, _ = a.call(t, "POST", "/api/rides/accept-offer", rider, map[string]any{"offer_id": offer65})
	assert.Equal(t, http.StatusConflict, status)

	status, body = a.call(t, "GET", "/api/rides/active", d65, nil)
	require.Equal(t, 200, status)
	assert.Equal(t, id, object(t, body)["id"])

	status, _ = a.call(t, "POST", "/api/rides/complete/"+id, d65, nil)
	assert.Equal(t, http.StatusConflict, status, "not in progress yet")
	status, _ = a.call(t, "POST", "/api/rides/start/"+id, d80, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = a.call(t, "POST", "/api/rides/start/"+id, d65, nil)
	require.Equal(t, 200, status)
	status, body = a.call(t, "POST", "/api/rides/complete/"+id, d65, nil)
	require.Equal(t, 200, status, string(body))
	ride := object(t, body)
	rideID := ride["id"].(string)
	assert.Equal(t, "65", ride["final_price"])

	status, body = a.call(t, "GET", "/api/rides/active", rider, nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "null", string(bytes.TrimSpace(body)))

	status, body = a.call(t, "GET", "/api/rides/pending-ratings", rider, nil)
	require.Equal(t, 200, status)
	require.Len(t, list(t, body), 1)

	status, body = a.call(t, "POST", "/api/rides/rate", rider, map[string]any{"ride_id": rideID, "rating": 9})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_rating", object(t, body)["error"])

	status, _ = a.call(t, "POST", "/api/rides/rate", rider, map[string]any{"ride_id": rideID, "rating": 4, "review_text": "on time"})
	require.Equal(t, 200, status)
	status, body = a.call(t, "POST", "/api/rides/rate", rider, map[string]any{"ride_id": rideID, "rating": 5})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_rated", object(t, body)["error"])

	status, _ = a.call(t, "POST", "/api/rides/rate-rider", d65, map[string]any{"ride_id": rideID, "rating": 5})
	require.Equal(t, 200, status)

	status, body = a.call(t, "GET", "/api/rides/pending-ratings", rider, nil)
	require.Equal(t, 200, status)
	assert.Empty(t, list(t, body))

	status, body = a.call(t, "GET", "/api/drivers/driver-65/rating", rider, nil)
	require.Equal(t, 200, status)
	agg := object(t, body)
	assert.Equal(t, 4.0, agg["rating"])
	assert.Equal(t, 1.0, agg["count"])

	for _, tok := range []string{rider, d65} {
		status, body = a.call(t, "GET", "/api/rides/history", tok, nil)
		require.Equal(t, 200, status)
		assert.Len(t, list(t, body), 1)
	}
	status, body = a.call(t, "GET", "/api/rides/history", d80, nil)
	require.Equal(t, 200, status)
	assert.Empty(t, list(t, body))
}
