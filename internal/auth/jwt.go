package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/campus-rides/internal/models"
)

// Claims carried by every bearer token, REST and socket alike.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c Claims) Principal() models.Principal {
	return models.Principal{UserID: c.UserID, Role: c.Role}
}

type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret, issuer string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for the user. Token issuance normally lives in
// the account service; this exists for tooling and tests.
func (s *Service) Issue(userID string, role models.Role) (string, error) {
	if userID == "" || !role.Valid() {
		return "", fmt.Errorf("%w: user id and a known role are required", models.ErrInvalidInput)
	}
	now := s.now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse validates signature, expiry and issuer. Every failure wraps models.ErrUnauthorized.
func (s *Service) Parse(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, fmt.Errorf("%w: missing token", models.ErrUnauthorized)
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return Claims{}, fmt.Errorf("%w: token lacks user or role", models.ErrUnauthorized)
	}
	return claims, nil
}

var errNoBearer = errors.New("missing bearer token")

// FromHeader extracts the token from an "Authorization: Bearer" header.
func FromHeader(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthorized, errNoBearer)
	}
	return strings.TrimSpace(token), nil
}

// FromQuery extracts the token from the ?token= parameter used by socket
// handshakes, where browsers cannot set headers.
func FromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", fmt.Errorf("%w: missing token parameter", models.ErrUnauthorized)
	}
	return token, nil
}
