package models

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusOffered    RequestStatus = "offered"
	StatusAccepted   RequestStatus = "accepted"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

// ActiveStatuses are the request states that block a rider from posting another request.
var ActiveStatuses = []RequestStatus{StatusPending, StatusOffered, StatusAccepted, StatusInProgress}

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:    {StatusOffered, StatusAccepted, StatusCancelled},
	StatusOffered:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to RequestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Open requests still accept offers, withdrawals, acceptance and cancellation.
func (s RequestStatus) Open() bool {
	return s == StatusPending || s == StatusOffered
}

func (s RequestStatus) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferWithdrawn OfferStatus = "withdrawn"
)

func (s OfferStatus) Terminal() bool {
	return s != OfferPending
}
