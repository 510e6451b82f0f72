package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/campus-rides/internal/models"
)

// ErrConflict is returned when a write would break a uniqueness rule the
// store enforces itself: one active request per rider, one pending offer per
// driver and request.
var ErrConflict = errors.New("storage conflict")

// Store runs units of work. Every write a Tx makes is committed together
// when fn returns nil and discarded when it returns an error.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

type RequestFilter struct {
	RiderID  string
	Statuses []models.RequestStatus
}

// Tx is the set of reads and writes available inside a unit of work. Lookups
// of a single record return models.ErrNotFound when nothing matches.
type Tx interface {
	GetRequest(ctx context.Context, id string) (models.RideRequest, error)
	// LockRequest reads a request and holds its row until the unit of work ends.
	LockRequest(ctx context.Context, id string) (models.RideRequest, error)
	ActiveRequestForRider(ctx context.Context, riderID string) (models.RideRequest, error)
	ActiveRequestForDriver(ctx context.Context, driverID string) (models.RideRequest, error)
	// ListRequests returns matches newest first.
	ListRequests(ctx context.Context, f RequestFilter) ([]models.RideRequest, error)
	InsertRequest(ctx context.Context, r models.RideRequest) error
	UpdateRequest(ctx context.Context, r models.RideRequest) error

	GetOffer(ctx context.Context, id string) (models.Offer, error)
	PendingOffer(ctx context.Context, requestID, driverID string) (models.Offer, error)
	// ListOffers returns every offer on a request in insertion order.
	ListOffers(ctx context.Context, requestID string) ([]models.Offer, error)
	InsertOffer(ctx context.Context, o models.Offer) error
	UpdateOffer(ctx context.Context, o models.Offer) error

	InsertCompletedRide(ctx context.Context, c models.CompletedRide) error
	GetCompletedRide(ctx context.Context, id string) (models.CompletedRide, error)
	LockCompletedRide(ctx context.Context, id string) (models.CompletedRide, error)
	UpdateCompletedRide(ctx context.Context, c models.CompletedRide) error
	// ListCompletedRides returns rides the user took part in as role, newest first.
	ListCompletedRides(ctx context.Context, userID string, role models.Role) ([]models.CompletedRide, error)

	EnqueuePendingRating(ctx context.Context, rideID, riderID string, at time.Time) error
	DequeuePendingRating(ctx context.Context, rideID string) error
	// ListPendingRatings returns the rider's queue oldest first.
	ListPendingRatings(ctx context.Context, riderID string) ([]models.CompletedRide, error)

	GetRatingAggregate(ctx context.Context, userID string) (models.RatingAggregate, error)
	AddRating(ctx context.Context, userID string, rating int) (models.RatingAggregate, error)
}

func hasStatus(s models.RequestStatus, set []models.RequestStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
