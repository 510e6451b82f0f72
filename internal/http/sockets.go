package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/campus-rides/internal/models"
)

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

func (s *Server) handleDriverSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessions.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claims.Role != models.RoleDriver {
		s.writeError(w, r, models.ErrForbidden)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.sessions.Attach(conn, claims, "")
}

// handleRiderSocket scopes the session to one request, which the rider must own.
func (s *Server) handleRiderSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.sessions.Authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claims.Role != models.RoleRider {
		s.writeError(w, r, models.ErrForbidden)
		return
	}
	requestID := mux.Vars(r)["request_id"]
	if _, err := s.matcher.GetRequest(r.Context(), claims.Principal(), requestID); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.sessions.Attach(conn, claims, requestID)
}
