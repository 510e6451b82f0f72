// Package dispatch fans committed ride changes out to live sessions.
// Delivery is best effort and at most once per session: a disconnected or
// backed-up peer simply misses the message and resynchronizes over REST.
package dispatch

import (
	"encoding/json"
	"log/slog"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/session"
)

// Registry is the read side of the session manager.
type Registry interface {
	Drivers() []*session.Session
	ForUser(userID string) []*session.Session
	ForRequest(requestID string) []*session.Session
}

type Broadcaster struct {
	sessions Registry
	logger   *slog.Logger
}

func NewBroadcaster(sessions Registry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{sessions: sessions, logger: logger.With("component", "dispatch")}
}

func (b *Broadcaster) RequestCreated(req models.RideRequest) {
	b.deliver(TypeNewRideRequest, requestMessage{Type: TypeNewRideRequest, RideRequest: req}, b.sessions.Drivers())
}

func (b *Broadcaster) RequestCancelled(req models.RideRequest, withdrawn []models.Offer) {
	b.deliver(TypeRideCancelled, cancelledMessage{Type: TypeRideCancelled, RideRequestID: req.ID, Reason: "cancelled"}, b.sessions.Drivers())
	for _, o := range withdrawn {
		msg := offerClosedMessage{Type: TypeOfferWithdrawn, OfferID: o.ID, RideRequestID: req.ID, Reason: "ride_cancelled"}
		b.deliver(TypeOfferWithdrawn, msg, b.driverSessions(o.DriverID))
	}
}

func (b *Broadcaster) OfferSubmitted(req models.RideRequest, offer models.Offer, replaced bool) {
	typ := TypeNewOffer
	if replaced {
		typ = TypeOfferUpdated
	}
	b.deliver(typ, offerMessage{Type: typ, Offer: offer}, b.sessions.ForRequest(req.ID))
}

func (b *Broadcaster) OfferWithdrawn(req models.RideRequest, offer models.Offer) {
	msg := offerClosedMessage{Type: TypeOfferWithdrawn, OfferID: offer.ID, RideRequestID: req.ID, Reason: "withdrawn"}
	b.deliver(TypeOfferWithdrawn, msg, b.sessions.ForRequest(req.ID))
}

// OfferAccepted tells the winner, confirms to the rider, tells each losing
// bidder their offer was rejected, and takes the request off every other
// driver's board.
func (b *Broadcaster) OfferAccepted(req models.RideRequest, accepted models.Offer, rejected []models.Offer) {
	b.deliver(TypeOfferAccepted, acceptedMessage{Type: TypeOfferAccepted, RideRequest: req, Offer: accepted}, b.driverSessions(accepted.DriverID))

	confirmed := confirmedMessage{Type: TypeRideConfirmed, Data: confirmation{
		RideRequest: req,
		Driver:      driverRef{ID: accepted.DriverID},
		Price:       accepted.Price,
		ETAMinutes:  accepted.ETAMinutes,
	}}
	b.deliver(TypeRideConfirmed, confirmed, b.sessions.ForRequest(req.ID))

	for _, o := range rejected {
		msg := offerClosedMessage{Type: TypeOfferRejected, OfferID: o.ID, RideRequestID: req.ID}
		b.deliver(TypeOfferRejected, msg, b.driverSessions(o.DriverID))
	}

	var others []*session.Session
	for _, s := range b.sessions.Drivers() {
		if s.UserID != accepted.DriverID {
			others = append(others, s)
		}
	}
	b.deliver(TypeRideCancelled, cancelledMessage{Type: TypeRideCancelled, RideRequestID: req.ID, Reason: "accepted"}, others)
}

func (b *Broadcaster) RideStarted(req models.RideRequest) {
	b.deliver(TypeRideStarted, requestMessage{Type: TypeRideStarted, RideRequest: req}, b.sessions.ForRequest(req.ID))
}

func (b *Broadcaster) RideCompleted(req models.RideRequest, ride models.CompletedRide) {
	msg := completedMessage{Type: TypeRideCompleted, RideRequestID: req.ID, Ride: ride}
	b.deliver(TypeRideCompleted, msg, b.sessions.ForRequest(req.ID))
}

func (b *Broadcaster) driverSessions(driverID string) []*session.Session {
	var out []*session.Session
	for _, s := range b.sessions.ForUser(driverID) {
		if s.Role == models.RoleDriver {
			out = append(out, s)
		}
	}
	return out
}

func (b *Broadcaster) deliver(typ string, msg any, targets []*session.Session) {
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("encode message", "type", typ, "error", err)
		return
	}
	for _, s := range targets {
		if s.Send(payload) {
			observability.BroadcastDelivered.WithLabelValues(typ).Inc()
			continue
		}
		observability.BroadcastDropped.WithLabelValues(typ).Inc()
		b.logger.Warn("message dropped", "type", typ, "session_id", s.ID, "user_id", s.UserID)
	}
}
