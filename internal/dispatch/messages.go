package dispatch

import (
	"github.com/shopspring/decimal"

	"github.com/example/campus-rides/internal/models"
)

// Message types pushed over sockets. Clients ignore types they do not know.
const (
	TypeNewRideRequest = "new_ride_request"
	TypeRideCancelled  = "ride_cancelled"
	TypeNewOffer       = "new_offer"
	TypeOfferUpdated   = "offer_updated"
	TypeOfferWithdrawn = "offer_withdrawn"
	TypeOfferAccepted  = "offer_accepted"
	TypeOfferRejected  = "offer_rejected"
	TypeRideConfirmed  = "ride_confirmed"
	TypeRideStarted    = "ride_started"
	TypeRideCompleted  = "ride_completed"
)

type requestMessage struct {
	Type        string             `json:"type"`
	RideRequest models.RideRequest `json:"ride_request"`
}

type cancelledMessage struct {
	Type          string `json:"type"`
	RideRequestID string `json:"ride_request_id"`
	Reason        string `json:"reason"`
}

type offerMessage struct {
	Type  string       `json:"type"`
	Offer models.Offer `json:"offer"`
}

type offerClosedMessage struct {
	Type          string `json:"type"`
	OfferID       string `json:"offer_id"`
	RideRequestID string `json:"ride_request_id"`
	Reason        string `json:"reason,omitempty"`
}

type acceptedMessage struct {
	Type        string             `json:"type"`
	RideRequest models.RideRequest `json:"ride_request"`
	Offer       models.Offer       `json:"offer"`
}

type driverRef struct {
	ID string `json:"id"`
}

type confirmation struct {
	RideRequest models.RideRequest `json:"ride_request"`
	Driver      driverRef          `json:"driver"`
	Price       decimal.Decimal    `json:"price"`
	ETAMinutes  int                `json:"estimated_arrival_minutes"`
}

type confirmedMessage struct {
	Type string       `json:"type"`
	Data confirmation `json:"data"`
}

type completedMessage struct {
	Type          string               `json:"type"`
	RideRequestID string               `json:"ride_request_id"`
	Ride          models.CompletedRide `json:"ride"`
}
