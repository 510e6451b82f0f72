// Package ratings owns the two rating slots on a completed ride, the rider's
// queue of rides still waiting for a rating, and per-user running means.
package ratings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/campus-rides/internal/keylock"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/storage"
)

type EventPublisher interface {
	Publish(ctx context.Context, ev models.RideEvent)
}

type Gate struct {
	store  storage.Store
	locks  *keylock.Map
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewGate(store storage.Store, events EventPublisher, logger *slog.Logger) *Gate {
	return &Gate{
		store:  store,
		locks:  keylock.New(),
		events: events,
		logger: logger.With("component", "ratings"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue runs inside the completing unit of work so a ride is never
// completed without its queue entry.
func (g *Gate) Enqueue(ctx context.Context, tx storage.Tx, ride models.CompletedRide) error {
	if ride.DriverRating != nil {
		return nil
	}
	return tx.EnqueuePendingRating(ctx, ride.ID, ride.RiderID, ride.CompletedAt)
}

// ListPending is read only. Skipping a ride in the client leaves it queued.
func (g *Gate) ListPending(ctx context.Context, riderID string) ([]models.CompletedRide, error) {
	var out []models.CompletedRide
	err := g.store.InTx(ctx, func(tx storage.Tx) (err error) {
		out, err = tx.ListPendingRatings(ctx, riderID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list pending ratings: %w", err)
	}
	return out, nil
}

// SubmitRating records the rider's rating of the driver.
func (g *Gate) SubmitRating(ctx context.Context, riderID, rideID string, rating int, review string) (models.CompletedRide, error) {
	return g.rate(ctx, rideID, rating, func(tx storage.Tx, ride *models.CompletedRide) (string, error) {
		if ride.RiderID != riderID {
			return "", models.ErrForbidden
		}
		if ride.DriverRating != nil {
			return "", models.ErrAlreadyRated
		}
		ride.DriverRating = &rating
		ride.DriverReview = review
		if err := tx.DequeuePendingRating(ctx, ride.ID); err != nil {
			return "", err
		}
		return ride.DriverID, nil
	})
}

// RateRider records the driver's rating of the rider. Drivers have no queue.
func (g *Gate) RateRider(ctx context.Context, driverID, rideID string, rating int, review string) (models.CompletedRide, error) {
	return g.rate(ctx, rideID, rating, func(tx storage.Tx, ride *models.CompletedRide) (string, error) {
		if ride.DriverID != driverID {
			return "", models.ErrForbidden
		}
		if ride.RiderRating != nil {
			return "", models.ErrAlreadyRated
		}
		ride.RiderRating = &rating
		ride.RiderReview = review
		return ride.RiderID, nil
	})
}

// rate serializes writers on the ride and applies fill, which returns the
// user whose aggregate receives the rating.
func (g *Gate) rate(ctx context.Context, rideID string, rating int, fill func(storage.Tx, *models.CompletedRide) (string, error)) (models.CompletedRide, error) {
	if rating < 1 || rating > 5 {
		return models.CompletedRide{}, models.ErrInvalidRating
	}
	unlock := g.locks.Lock(rideID)
	defer unlock()

	var (
		ride    models.CompletedRide
		subject string
	)
	err := g.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		ride, err = tx.LockCompletedRide(ctx, rideID)
		if err != nil {
			return err
		}
		subject, err = fill(tx, &ride)
		if err != nil {
			return err
		}
		if err := tx.UpdateCompletedRide(ctx, ride); err != nil {
			return err
		}
		_, err = tx.AddRating(ctx, subject, rating)
		return err
	})
	if err != nil {
		return models.CompletedRide{}, err
	}

	label := string(models.RoleDriver)
	if subject == ride.RiderID {
		label = string(models.RoleRider)
	}
	observability.RatingsTotal.WithLabelValues(label).Inc()
	g.logger.Info("ride rated", "ride_id", ride.ID, "subject", label, "rating", rating)
	g.events.Publish(ctx, models.RideEvent{
		Type:          models.EventRideRated,
		RideRequestID: ride.RideRequestID,
		RiderID:       ride.RiderID,
		DriverID:      ride.DriverID,
		Status:        label,
		Rating:        rating,
		At:            g.now(),
	})
	return ride, nil
}

func (g *Gate) Aggregate(ctx context.Context, userID string) (models.RatingAggregate, error) {
	var agg models.RatingAggregate
	err := g.store.InTx(ctx, func(tx storage.Tx) (err error) {
		agg, err = tx.GetRatingAggregate(ctx, userID)
		return err
	})
	return agg, err
}
