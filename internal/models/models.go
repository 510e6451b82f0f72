package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleRider, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller of a core operation.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type Location struct {
	City  string  `json:"city"`
	State string  `json:"state"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type TimeMode string

const (
	TimeImmediate TimeMode = "immediate"
	TimeSpecific  TimeMode = "specific"
	TimeRange     TimeMode = "range"
)

// TimeSpec says when the rider wants to leave. Which fields are set depends on Mode.
type TimeSpec struct {
	Mode          TimeMode   `json:"time_type"`
	RequestedTime *time.Time `json:"requested_time,omitempty"`
	RangeStart    *time.Time `json:"time_range_start,omitempty"`
	RangeEnd      *time.Time `json:"time_range_end,omitempty"`
}

type RideRequest struct {
	ID              string          `json:"id"`
	RiderID         string          `json:"rider_id"`
	Pickup          Location        `json:"pickup"`
	Dropoff         Location        `json:"dropoff"`
	DistanceMiles   float64         `json:"distance_miles"`
	SuggestedPrice  decimal.Decimal `json:"suggested_price"`
	Time            TimeSpec        `json:"time"`
	Status          RequestStatus   `json:"status"`
	AcceptedOfferID string          `json:"accepted_offer_id,omitempty"`
	DriverID        string          `json:"driver_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
}

type Offer struct {
	ID            string          `json:"id"`
	RideRequestID string          `json:"ride_request_id"`
	DriverID      string          `json:"driver_id"`
	Price         decimal.Decimal `json:"price"`
	ETAMinutes    int             `json:"estimated_arrival_minutes"`
	Message       string          `json:"message"`
	Status        OfferStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CompletedRide is written once a request reaches completed. DriverRating is
// the rider's rating of the driver, RiderRating the driver's rating of the rider.
type CompletedRide struct {
	ID            string          `json:"id"`
	RideRequestID string          `json:"ride_request_id"`
	DriverID      string          `json:"driver_id"`
	RiderID       string          `json:"rider_id"`
	FinalPrice    decimal.Decimal `json:"final_price"`
	DistanceMiles float64         `json:"distance_miles"`
	Pickup        Location        `json:"pickup"`
	Dropoff       Location        `json:"dropoff"`
	StartedAt     *time.Time      `json:"pickup_time,omitempty"`
	CompletedAt   time.Time       `json:"dropoff_time"`
	DriverRating  *int            `json:"driver_rating"`
	DriverReview  string          `json:"review_text"`
	RiderRating   *int            `json:"rider_rating"`
	RiderReview   string          `json:"rider_review_text"`
}

// RatingAggregate is the running mean of every rating a user has received.
type RatingAggregate struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
	Sum    int    `json:"sum"`
}

// DefaultRating is reported for users nobody has rated yet.
const DefaultRating = 5.0

func (a RatingAggregate) Mean() float64 {
	if a.Count == 0 {
		return DefaultRating
	}
	return float64(a.Sum) / float64(a.Count)
}
