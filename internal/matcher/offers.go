package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/storage"
)

type OfferInput struct {
	RideRequestID string          `json:"ride_request"`
	Price         decimal.Decimal `json:"price"`
	ETAMinutes    int             `json:"estimated_arrival_minutes"`
	Message       string          `json:"message"`
}

func (s *Service) validateOffer(in OfferInput) error {
	if !in.Price.IsPositive() || in.Price.LessThan(s.fares.MinOfferPrice) {
		return fmt.Errorf("%w: price must be at least %s", models.ErrInvalidPrice, s.fares.MinOfferPrice.StringFixed(2))
	}
	if s.fares.MaxOfferPrice.IsPositive() && in.Price.GreaterThan(s.fares.MaxOfferPrice) {
		return fmt.Errorf("%w: price must be at most %s", models.ErrInvalidPrice, s.fares.MaxOfferPrice.StringFixed(2))
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return fmt.Errorf("%w: price must be in whole cents", models.ErrInvalidPrice)
	}
	if in.ETAMinutes < 0 {
		return fmt.Errorf("%w: estimated_arrival_minutes must be >= 0", models.ErrInvalidInput)
	}
	if strings.TrimSpace(in.RideRequestID) == "" {
		return fmt.Errorf("%w: ride_request is required", models.ErrInvalidInput)
	}
	return nil
}

// SubmitOffer records a driver's bid. A driver who already has a pending
// offer on the request has it replaced in place and replaced is true. The
// first offer on a pending request moves it to offered.
func (s *Service) SubmitOffer(ctx context.Context, driverID string, in OfferInput) (offer models.Offer, replaced bool, err error) {
	if err := s.validateOffer(in); err != nil {
		return models.Offer{}, false, err
	}
	unlock := s.locks.Lock(in.RideRequestID)
	defer unlock()

	var req models.RideRequest
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		replaced = false
		var err error
		req, err = tx.LockRequest(ctx, in.RideRequestID)
		if err != nil {
			return err
		}
		if req.RiderID == driverID {
			return fmt.Errorf("%w: cannot bid on your own request", models.ErrForbidden)
		}
		if !req.Status.Open() {
			return models.ErrRequestNotOpen
		}
		now := s.now()
		existing, err := tx.PendingOffer(ctx, req.ID, driverID)
		switch {
		case err == nil:
			existing.Price = in.Price
			existing.ETAMinutes = in.ETAMinutes
			existing.Message = in.Message
			existing.UpdatedAt = now
			if err := tx.UpdateOffer(ctx, existing); err != nil {
				return err
			}
			offer, replaced = existing, true
		case errors.Is(err, models.ErrNotFound):
			offer = models.Offer{
				ID:            uuid.NewString(),
				RideRequestID: req.ID,
				DriverID:      driverID,
				Price:         in.Price,
				ETAMinutes:    in.ETAMinutes,
				Message:       in.Message,
				Status:        models.OfferPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.InsertOffer(ctx, offer); err != nil {
				return err
			}
		default:
			return err
		}
		if req.Status == models.StatusPending {
			req.Status = models.StatusOffered
			req.UpdatedAt = now
			return tx.UpdateRequest(ctx, req)
		}
		return nil
	})
	if err != nil {
		return models.Offer{}, false, s.fail("submit offer", err)
	}

	outcome, typ := "created", models.EventOfferSubmitted
	if replaced {
		outcome, typ = "replaced", models.EventOfferUpdated
	}
	observability.OffersTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("offer submitted",
		"ride_request_id", req.ID,
		"offer_id", offer.ID,
		"driver_id", driverID,
		"price", offer.Price.StringFixed(2),
		"replaced", replaced,
	)
	s.notify.OfferSubmitted(req, offer, replaced)
	s.publish(ctx, typ, req, &offer)
	return offer, replaced, nil
}

// WithdrawOffer pulls a driver's pending offer. The request keeps its status.
func (s *Service) WithdrawOffer(ctx context.Context, driverID, offerID string) (models.Offer, error) {
	requestID, err := s.offerRequestID(ctx, offerID)
	if err != nil {
		return models.Offer{}, s.fail("withdraw offer", err)
	}
	unlock := s.locks.Lock(requestID)
	defer unlock()

	var (
		req   models.RideRequest
		offer models.Offer
	)
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		offer, err = tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.DriverID != driverID {
			return models.ErrForbidden
		}
		if offer.Status != models.OfferPending {
			return fmt.Errorf("%w: offer is %s", models.ErrInvalidTransition, offer.Status)
		}
		req, err = tx.LockRequest(ctx, offer.RideRequestID)
		if err != nil {
			return err
		}
		if !req.Status.Open() {
			return fmt.Errorf("%w: request is %s", models.ErrInvalidTransition, req.Status)
		}
		offer.Status = models.OfferWithdrawn
		offer.UpdatedAt = s.now()
		return tx.UpdateOffer(ctx, offer)
	})
	if err != nil {
		return models.Offer{}, s.fail("withdraw offer", err)
	}

	observability.OffersTotal.WithLabelValues("withdrawn").Inc()
	s.logger.Info("offer withdrawn", "ride_request_id", req.ID, "offer_id", offer.ID, "driver_id", driverID)
	s.notify.OfferWithdrawn(req, offer)
	s.publish(ctx, models.EventOfferWithdrawn, req, &offer)
	return offer, nil
}

// acceptCascade marks target accepted and rejects every other pending offer
// on its request. It only runs inside AcceptOffer's unit of work.
func acceptCascade(ctx context.Context, tx storage.Tx, target models.Offer, now time.Time) (models.Offer, []models.Offer, error) {
	offers, err := tx.ListOffers(ctx, target.RideRequestID)
	if err != nil {
		return models.Offer{}, nil, err
	}
	var rejected []models.Offer
	for _, o := range offers {
		if o.ID == target.ID || o.Status != models.OfferPending {
			continue
		}
		o.Status = models.OfferRejected
		o.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, o); err != nil {
			return models.Offer{}, nil, err
		}
		rejected = append(rejected, o)
	}
	target.Status = models.OfferAccepted
	target.UpdatedAt = now
	if err := tx.UpdateOffer(ctx, target); err != nil {
		return models.Offer{}, nil, err
	}
	return target, rejected, nil
}
