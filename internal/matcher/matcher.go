// Package matcher is the ride request state machine and the offer ledger.
// Every mutation of a request and its offers runs under that request's key
// lock and inside one storage unit of work; notifications go out after the
// commit while the lock is still held, so live sessions see changes to one
// request in the order they were committed.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/campus-rides/internal/config"
	"github.com/example/campus-rides/internal/geo"
	"github.com/example/campus-rides/internal/keylock"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/storage"
)

// Notifier receives committed changes for delivery to live sessions.
// Implementations must not block.
type Notifier interface {
	RequestCreated(req models.RideRequest)
	RequestCancelled(req models.RideRequest, withdrawn []models.Offer)
	OfferSubmitted(req models.RideRequest, offer models.Offer, replaced bool)
	OfferWithdrawn(req models.RideRequest, offer models.Offer)
	OfferAccepted(req models.RideRequest, accepted models.Offer, rejected []models.Offer)
	RideStarted(req models.RideRequest)
	RideCompleted(req models.RideRequest, ride models.CompletedRide)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev models.RideEvent)
}

// RatingQueue is the part of the rating gate that completion writes through.
type RatingQueue interface {
	Enqueue(ctx context.Context, tx storage.Tx, ride models.CompletedRide) error
}

type Service struct {
	store   storage.Store
	locks   *keylock.Map
	notify  Notifier
	events  EventPublisher
	ratings RatingQueue
	fares   config.FareConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store storage.Store, notify Notifier, events EventPublisher, ratings RatingQueue, fares config.FareConfig, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		locks:   keylock.New(),
		notify:  notify,
		events:  events,
		ratings: ratings,
		fares:   fares,
		logger:  logger.With("component", "matcher"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	Pickup  models.Location `json:"pickup"`
	Dropoff models.Location `json:"dropoff"`
	Time    models.TimeSpec `json:"time"`
}

func (in CreateInput) validate() error {
	if !geo.ValidCoord(in.Pickup.Lat, in.Pickup.Lng) || !geo.ValidCoord(in.Dropoff.Lat, in.Dropoff.Lng) {
		return fmt.Errorf("%w: coordinates out of range", models.ErrInvalidInput)
	}
	t := in.Time
	switch t.Mode {
	case models.TimeImmediate:
		if t.RequestedTime != nil || t.RangeStart != nil || t.RangeEnd != nil {
			return fmt.Errorf("%w: immediate requests carry no times", models.ErrInvalidInput)
		}
	case models.TimeSpecific:
		if t.RequestedTime == nil {
			return fmt.Errorf("%w: requested_time is required", models.ErrInvalidInput)
		}
	case models.TimeRange:
		if t.RangeStart == nil || t.RangeEnd == nil || !t.RangeStart.Before(*t.RangeEnd) {
			return fmt.Errorf("%w: time_range_start must be before time_range_end", models.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown time_type %q", models.ErrInvalidInput, t.Mode)
	}
	return nil
}

// Confirmation is what the rider gets back from a successful acceptance.
type Confirmation struct {
	Request  models.RideRequest `json:"ride_request"`
	Offer    models.Offer       `json:"offer"`
	DriverID string             `json:"driver_id"`
	Rejected []models.Offer     `json:"-"`
}

func (s *Service) Create(ctx context.Context, riderID string, in CreateInput) (models.RideRequest, error) {
	if err := in.validate(); err != nil {
		return models.RideRequest{}, err
	}
	unlockRider := s.locks.Lock("rider:" + riderID)
	defer unlockRider()

	now := s.now()
	distance := geo.HaversineMiles(in.Pickup.Lat, in.Pickup.Lng, in.Dropoff.Lat, in.Dropoff.Lng)
	req := models.RideRequest{
		ID:             uuid.NewString(),
		RiderID:        riderID,
		Pickup:         in.Pickup,
		Dropoff:        in.Dropoff,
		DistanceMiles:  distance,
		SuggestedPrice: geo.SuggestedPrice(distance, s.fares.RatePerMile, s.fares.MinimumFare),
		Time:           in.Time,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	unlock := s.locks.Lock(req.ID)
	defer unlock()

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.ActiveRequestForRider(ctx, riderID)
		switch {
		case err == nil:
			return models.ErrActiveRideExists
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		return tx.InsertRequest(ctx, req)
	})
	if errors.Is(err, storage.ErrConflict) {
		err = models.ErrActiveRideExists
	}
	if err != nil {
		return models.RideRequest{}, s.fail("create ride request", err)
	}

	observability.RequestsCreated.Inc()
	s.logger.Info("ride request created", "ride_request_id", req.ID, "rider_id", riderID, "distance_miles", distance)
	s.notify.RequestCreated(req)
	s.publish(ctx, models.EventRequestCreated, req, nil)
	return req, nil
}

// Cancel closes an open request and withdraws every pending offer on it.
func (s *Service) Cancel(ctx context.Context, riderID, requestID string) (models.RideRequest, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	var (
		req       models.RideRequest
		withdrawn []models.Offer
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		withdrawn = nil
		var err error
		req, err = tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.RiderID != riderID {
			return models.ErrForbidden
		}
		if !models.CanTransition(req.Status, models.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel a %s request", models.ErrInvalidTransition, req.Status)
		}
		now := s.now()
		offers, err := tx.ListOffers(ctx, requestID)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if o.Status != models.OfferPending {
				continue
			}
			o.Status = models.OfferWithdrawn
			o.UpdatedAt = now
			if err := tx.UpdateOffer(ctx, o); err != nil {
				return err
			}
			withdrawn = append(withdrawn, o)
		}
		req.Status = models.StatusCancelled
		req.UpdatedAt = now
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return models.RideRequest{}, s.fail("cancel ride request", err)
	}

	observability.RequestsCancelled.Inc()
	s.logger.Info("ride request cancelled", "ride_request_id", req.ID, "withdrawn_offers", len(withdrawn))
	s.notify.RequestCancelled(req, withdrawn)
	s.publish(ctx, models.EventRequestCancelled, req, nil)
	return req, nil
}

// AcceptOffer moves the request to accepted and closes out every competing
// offer in the same unit of work.
func (s *Service) AcceptOffer(ctx context.Context, riderID, offerID string) (Confirmation, error) {
	start := time.Now()
	requestID, err := s.offerRequestID(ctx, offerID)
	if err != nil {
		return Confirmation{}, s.fail("accept offer", err)
	}
	unlock := s.locks.Lock(requestID)
	defer unlock()

	var conf Confirmation
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		offer, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		req, err := tx.LockRequest(ctx, offer.RideRequestID)
		if err != nil {
			return err
		}
		if req.RiderID != riderID {
			return models.ErrForbidden
		}
		if !models.CanTransition(req.Status, models.StatusAccepted) {
			return fmt.Errorf("%w: request is %s", models.ErrInvalidTransition, req.Status)
		}
		if offer.Status != models.OfferPending {
			return fmt.Errorf("%w: offer is %s", models.ErrInvalidTransition, offer.Status)
		}
		now := s.now()
		accepted, rejected, err := acceptCascade(ctx, tx, offer, now)
		if err != nil {
			return err
		}
		req.Status = models.StatusAccepted
		req.AcceptedOfferID = accepted.ID
		req.DriverID = accepted.DriverID
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		conf = Confirmation{Request: req, Offer: accepted, DriverID: accepted.DriverID, Rejected: rejected}
		return nil
	})
	if err != nil {
		return Confirmation{}, s.fail("accept offer", err)
	}

	observability.AcceptancesTotal.Inc()
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	s.logger.Info("offer accepted",
		"ride_request_id", conf.Request.ID,
		"offer_id", conf.Offer.ID,
		"driver_id", conf.DriverID,
		"rejected_offers", len(conf.Rejected),
	)
	s.notify.OfferAccepted(conf.Request, conf.Offer, conf.Rejected)
	s.publish(ctx, models.EventOfferAccepted, conf.Request, &conf.Offer)
	return conf, nil
}

func (s *Service) MarkInProgress(ctx context.Context, driverID, requestID string) (models.RideRequest, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	var req models.RideRequest
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		req, err = s.lockForDriver(ctx, tx, driverID, requestID, models.StatusInProgress)
		if err != nil {
			return err
		}
		now := s.now()
		req.Status = models.StatusInProgress
		req.StartedAt = &now
		req.UpdatedAt = now
		return tx.UpdateRequest(ctx, req)
	})
	if err != nil {
		return models.RideRequest{}, s.fail("start ride", err)
	}

	s.logger.Info("ride started", "ride_request_id", req.ID, "driver_id", driverID)
	s.notify.RideStarted(req)
	s.publish(ctx, models.EventRideStarted, req, nil)
	return req, nil
}

// MarkComplete finishes an in-progress ride, materializes the CompletedRide
// and queues it for the rider's rating.
func (s *Service) MarkComplete(ctx context.Context, driverID, requestID string) (models.CompletedRide, error) {
	unlock := s.locks.Lock(requestID)
	defer unlock()

	var (
		req  models.RideRequest
		ride models.CompletedRide
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		req, err = s.lockForDriver(ctx, tx, driverID, requestID, models.StatusCompleted)
		if err != nil {
			return err
		}
		offer, err := tx.GetOffer(ctx, req.AcceptedOfferID)
		if err != nil {
			return fmt.Errorf("accepted offer %s: %w", req.AcceptedOfferID, err)
		}
		now := s.now()
		req.Status = models.StatusCompleted
		req.UpdatedAt = now
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		ride = models.CompletedRide{
			ID:            uuid.NewString(),
			RideRequestID: req.ID,
			DriverID:      req.DriverID,
			RiderID:       req.RiderID,
			FinalPrice:    offer.Price,
			DistanceMiles: req.DistanceMiles,
			Pickup:        req.Pickup,
			Dropoff:       req.Dropoff,
			StartedAt:     req.StartedAt,
			CompletedAt:   now,
		}
		if err := tx.InsertCompletedRide(ctx, ride); err != nil {
			return err
		}
		return s.ratings.Enqueue(ctx, tx, ride)
	})
	if err != nil {
		return models.CompletedRide{}, s.fail("complete ride", err)
	}

	observability.RidesCompleted.Inc()
	s.logger.Info("ride completed", "ride_request_id", req.ID, "ride_id", ride.ID, "final_price", ride.FinalPrice.StringFixed(2))
	s.notify.RideCompleted(req, ride)
	s.publish(ctx, models.EventRideCompleted, req, &models.Offer{ID: req.AcceptedOfferID, DriverID: ride.DriverID, Price: ride.FinalPrice})
	return ride, nil
}

// lockForDriver checks ownership before the status precondition so a
// stranger never learns where someone else's ride stands.
func (s *Service) lockForDriver(ctx context.Context, tx storage.Tx, driverID, requestID string, to models.RequestStatus) (models.RideRequest, error) {
	req, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return models.RideRequest{}, err
	}
	if req.DriverID == "" || req.DriverID != driverID {
		return models.RideRequest{}, models.ErrForbidden
	}
	if !models.CanTransition(req.Status, to) {
		return models.RideRequest{}, fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, req.Status, to)
	}
	return req, nil
}

func (s *Service) offerRequestID(ctx context.Context, offerID string) (string, error) {
	var id string
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		o, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		id = o.RideRequestID
		return nil
	})
	return id, err
}

func (s *Service) publish(ctx context.Context, typ models.EventType, req models.RideRequest, offer *models.Offer) {
	ev := models.RideEvent{
		Type:          typ,
		RideRequestID: req.ID,
		RiderID:       req.RiderID,
		DriverID:      req.DriverID,
		Status:        string(req.Status),
		At:            s.now(),
	}
	if offer != nil {
		price := offer.Price
		ev.OfferID = offer.ID
		ev.DriverID = offer.DriverID
		ev.Price = &price
	}
	s.events.Publish(ctx, ev)
}

// fail passes domain errors through untouched and wraps everything else.
func (s *Service) fail(op string, err error) error {
	if models.IsDomainError(err) {
		return err
	}
	s.logger.Error(op+" failed", "error", err)
	return fmt.Errorf("%s: %w", op, err)
}
