package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/example/campus-rides/internal/matcher"
	"github.com/example/campus-rides/internal/models"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in matcher.CreateInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.matcher.Create(r.Context(), principal(r).UserID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, matcher.RequestView{RideRequest: req})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.matcher.ListRequests(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	view, err := s.matcher.GetRequest(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUpdateRequest only supports cancellation; every other status change
// has its own operation.
func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.RequestStatus `json:"status"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Status != models.StatusCancelled {
		s.writeError(w, r, fmt.Errorf("%w: only status %q is accepted", models.ErrInvalidInput, models.StatusCancelled))
		return
	}
	req, err := s.matcher.Cancel(r.Context(), principal(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var in matcher.OfferInput
	if err := decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, replaced, err := s.matcher.SubmitOffer(r.Context(), principal(r).UserID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	writeJSON(w, status, offer)
}

func (s *Server) handleWithdrawOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := s.matcher.WithdrawOffer(r.Context(), principal(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("ride_request")
	if requestID == "" {
		s.writeError(w, r, fmt.Errorf("%w: ride_request is required", models.ErrInvalidInput))
		return
	}
	offers, err := s.matcher.ListOffers(r.Context(), principal(r), requestID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

type acceptResponse struct {
	Message     string             `json:"message"`
	RideRequest models.RideRequest `json:"ride_request"`
	Offer       models.Offer       `json:"offer"`
	Driver      struct {
		ID string `json:"id"`
	} `json:"driver"`
	Price decimal.Decimal `json:"price"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OfferID string `json:"offer_id"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.OfferID == "" {
		s.writeError(w, r, fmt.Errorf("%w: offer_id is required", models.ErrInvalidInput))
		return
	}
	conf, err := s.matcher.AcceptOffer(r.Context(), principal(r).UserID, body.OfferID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := acceptResponse{
		Message:     "offer accepted",
		RideRequest: conf.Request,
		Offer:       conf.Offer,
		Price:       conf.Offer.Price,
	}
	resp.Driver.ID = conf.DriverID
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	req, err := s.matcher.MarkInProgress(r.Context(), principal(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.matcher.MarkComplete(r.Context(), principal(r).UserID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	view, err := s.matcher.Active(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rides, err := s.matcher.History(r.Context(), principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}
