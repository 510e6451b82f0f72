package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/models"
)

func TestIssueAndParse(t *testing.T) {
	s := NewService("secret", "campus-rides", time.Hour)
	token, err := s.Issue("rider-1", models.RoleRider)
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "rider-1", claims.UserID)
	assert.Equal(t, models.RoleRider, claims.Role)
	assert.Equal(t, models.Principal{UserID: "rider-1", Role: models.RoleRider}, claims.Principal())
}

func TestParseRejects(t *testing.T) {
	s := NewService("secret", "campus-rides", time.Hour)
	good, err := s.Issue("driver-1", models.RoleDriver)
	require.NoError(t, err)

	otherKey, err := NewService("other", "campus-rides", time.Hour).Issue("driver-1", models.RoleDriver)
	require.NoError(t, err)
	otherIssuer, err := NewService("secret", "someone-else", time.Hour).Issue("driver-1", models.RoleDriver)
	require.NoError(t, err)

	expired := NewService("secret", "campus-rides", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("driver-1", models.RoleDriver)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not-a-jwt"},
		{"truncated", good[:len(good)-4]},
		{"wrong key", otherKey},
		{"wrong issuer", otherIssuer},
		{"expired", stale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Parse(tt.token)
			assert.ErrorIs(t, err, models.ErrUnauthorized)
		})
	}
}

func TestIssueRequiresRole(t *testing.T) {
	s := NewService("secret", "campus-rides", time.Hour)
	_, err := s.Issue("u1", models.Role("pilot"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestTokenExtraction(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/rides/active", nil)
	_, err := FromHeader(r)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	r.Header.Set("Authorization", "Bearer abc.def")
	tok, err := FromHeader(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	r.Header.Set("Authorization", "Basic abc")
	_, err = FromHeader(r)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	ws := httptest.NewRequest("GET", "/ws/rides/driver?token=xyz", nil)
	tok, err = FromQuery(ws)
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	_, err = FromQuery(httptest.NewRequest("GET", "/ws/rides/driver", nil))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
