package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/campus-rides/internal/models"
)

type rateBody struct {
	RideID     string `json:"ride_id"`
	Rating     int    `json:"rating"`
	ReviewText string `json:"review_text"`
}

func (s *Server) handlePendingRatings(w http.ResponseWriter, r *http.Request) {
	rides, err := s.ratings.ListPending(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rides == nil {
		rides = []models.CompletedRide{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleRateRide(w http.ResponseWriter, r *http.Request) {
	var body rateBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.ratings.SubmitRating(r.Context(), principal(r).UserID, body.RideID, body.Rating, body.ReviewText)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRateRider(w http.ResponseWriter, r *http.Request) {
	var body rateBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.ratings.RateRider(r.Context(), principal(r).UserID, body.RideID, body.Rating, body.ReviewText)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDriverRating(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agg, err := s.ratings.Aggregate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "rating": agg.Mean(), "count": agg.Count})
}

func (s *Server) handleDriversOnline(w http.ResponseWriter, r *http.Request) {
	n, err := s.presence.Count(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
