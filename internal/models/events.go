package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRequestCreated   EventType = "request_created"
	EventRequestCancelled EventType = "request_cancelled"
	EventOfferSubmitted   EventType = "offer_submitted"
	EventOfferUpdated     EventType = "offer_updated"
	EventOfferWithdrawn   EventType = "offer_withdrawn"
	EventOfferAccepted    EventType = "offer_accepted"
	EventRideStarted      EventType = "ride_started"
	EventRideCompleted    EventType = "ride_completed"
	EventRideRated        EventType = "ride_rated"
)

// RideEvent is one committed lifecycle change, published to the event stream.
type RideEvent struct {
	Type          EventType        `json:"type"`
	RideRequestID string           `json:"ride_request_id"`
	OfferID       string           `json:"offer_id,omitempty"`
	RiderID       string           `json:"rider_id,omitempty"`
	DriverID      string           `json:"driver_id,omitempty"`
	Status        string           `json:"status,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Rating        int              `json:"rating,omitempty"`
	At            time.Time        `json:"at"`
}
