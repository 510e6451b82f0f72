package matcher

import (
	"context"
	"errors"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/storage"
)

// RequestView is a request as listed to clients.
type RequestView struct {
	models.RideRequest
	OffersCount int `json:"offers_count"`
}

// OfferView carries the bidding driver's current mean rating.
type OfferView struct {
	models.Offer
	DriverRating float64 `json:"driver_rating"`
}

// GetRequest is visible to the owning rider, any driver and admins.
func (s *Service) GetRequest(ctx context.Context, p models.Principal, id string) (RequestView, error) {
	var view RequestView
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if p.Role == models.RoleRider && req.RiderID != p.UserID {
			return models.ErrForbidden
		}
		view, err = requestView(ctx, tx, req)
		return err
	})
	if err != nil {
		return RequestView{}, s.fail("get ride request", err)
	}
	return view, nil
}

// ListRequests shows riders their own requests and drivers the open ones,
// newest first.
func (s *Service) ListRequests(ctx context.Context, p models.Principal) ([]RequestView, error) {
	var filter storage.RequestFilter
	switch p.Role {
	case models.RoleRider:
		filter.RiderID = p.UserID
	case models.RoleDriver:
		filter.Statuses = []models.RequestStatus{models.StatusPending, models.StatusOffered}
	}
	out := []RequestView{}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		out = out[:0]
		reqs, err := tx.ListRequests(ctx, filter)
		if err != nil {
			return err
		}
		for _, r := range reqs {
			v, err := requestView(ctx, tx, r)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("list ride requests", err)
	}
	return out, nil
}

// ListOffers returns every offer on the request to its rider, and only the
// caller's own offers to a driver.
func (s *Service) ListOffers(ctx context.Context, p models.Principal, requestID string) ([]OfferView, error) {
	out := []OfferView{}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		out = out[:0]
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		ownOnly := false
		switch p.Role {
		case models.RoleRider:
			if req.RiderID != p.UserID {
				return models.ErrForbidden
			}
		case models.RoleDriver:
			ownOnly = true
		}
		offers, err := tx.ListOffers(ctx, requestID)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if ownOnly && o.DriverID != p.UserID {
				continue
			}
			agg, err := tx.GetRatingAggregate(ctx, o.DriverID)
			if err != nil {
				return err
			}
			out = append(out, OfferView{Offer: o, DriverRating: agg.Mean()})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("list offers", err)
	}
	return out, nil
}

// Active returns the caller's current ride, or nil when there is none.
func (s *Service) Active(ctx context.Context, p models.Principal) (*RequestView, error) {
	var view *RequestView
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		view = nil
		var (
			req models.RideRequest
			err error
		)
		switch p.Role {
		case models.RoleRider:
			req, err = tx.ActiveRequestForRider(ctx, p.UserID)
		case models.RoleDriver:
			req, err = tx.ActiveRequestForDriver(ctx, p.UserID)
		default:
			return nil
		}
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := requestView(ctx, tx, req)
		if err != nil {
			return err
		}
		view = &v
		return nil
	})
	if err != nil {
		return nil, s.fail("active ride", err)
	}
	return view, nil
}

func (s *Service) History(ctx context.Context, p models.Principal) ([]models.CompletedRide, error) {
	out := []models.CompletedRide{}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		rides, err := tx.ListCompletedRides(ctx, p.UserID, p.Role)
		if err != nil {
			return err
		}
		out = append(out[:0], rides...)
		return nil
	})
	if err != nil {
		return nil, s.fail("ride history", err)
	}
	return out, nil
}

func requestView(ctx context.Context, tx storage.Tx, req models.RideRequest) (RequestView, error) {
	offers, err := tx.ListOffers(ctx, req.ID)
	if err != nil {
		return RequestView{}, err
	}
	return RequestView{RideRequest: req, OffersCount: len(offers)}, nil
}
