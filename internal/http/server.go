package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/matcher"
	"github.com/example/campus-rides/internal/presence"
	"github.com/example/campus-rides/internal/ratings"
	"github.com/example/campus-rides/internal/session"
)

// ReadyCheck reports whether a backing service can take traffic.
type ReadyCheck func(ctx context.Context) error

type Deps struct {
	Matcher        *matcher.Service
	Ratings        *ratings.Gate
	Sessions       *session.Manager
	Tokens         *auth.Service
	Presence       presence.Tracker
	ReadyChecks    map[string]ReadyCheck
	AllowedOrigins []string
	Logger         *slog.Logger
}

type Server struct {
	matcher  *matcher.Service
	ratings  *ratings.Gate
	sessions *session.Manager
	tokens   *auth.Service
	presence presence.Tracker
	ready    map[string]ReadyCheck
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{
		matcher:  d.Matcher,
		ratings:  d.Ratings,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		presence: d.Presence,
		ready:    d.ReadyChecks,
		logger:   d.Logger.With("component", "http"),
		mux:      mux.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(d.AllowedOrigins),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/ws/rides/driver", s.handleDriverSocket).Methods("GET")
	s.mux.HandleFunc("/ws/rides/rider/{request_id}", s.handleRiderSocket).Methods("GET")

	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/rides/request", s.riderOnly(s.handleCreateRequest)).Methods("POST")
	api.HandleFunc("/rides/requests", s.handleListRequests).Methods("GET")
	api.HandleFunc("/rides/request/{id}", s.handleGetRequest).Methods("GET")
	api.HandleFunc("/rides/request/{id}", s.riderOnly(s.handleUpdateRequest)).Methods("PATCH")
	api.HandleFunc("/rides/request/{id}/update", s.riderOnly(s.handleUpdateRequest)).Methods("PATCH")

	api.HandleFunc("/rides/offer", s.driverOnly(s.handleSubmitOffer)).Methods("POST")
	api.HandleFunc("/rides/offer/{id}/withdraw", s.driverOnly(s.handleWithdrawOffer)).Methods("POST")
	api.HandleFunc("/rides/offers", s.handleListOffers).Methods("GET")
	api.HandleFunc("/rides/accept-offer", s.riderOnly(s.handleAcceptOffer)).Methods("POST")

	api.HandleFunc("/rides/start/{id}", s.driverOnly(s.handleStartRide)).Methods("POST")
	api.HandleFunc("/rides/complete/{id}", s.driverOnly(s.handleCompleteRide)).Methods("POST")
	api.HandleFunc("/rides/active", s.handleActive).Methods("GET")
	api.HandleFunc("/rides/history", s.handleHistory).Methods("GET")

	api.HandleFunc("/rides/pending-ratings", s.riderOnly(s.handlePendingRatings)).Methods("GET")
	api.HandleFunc("/rides/rate", s.riderOnly(s.handleRateRide)).Methods("POST")
	api.HandleFunc("/rides/rate-rider", s.driverOnly(s.handleRateRider)).Methods("POST")

	api.HandleFunc("/drivers/online", s.handleDriversOnline).Methods("GET")
	api.HandleFunc("/drivers/{id}/rating", s.handleDriverRating).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}
