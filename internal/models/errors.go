package models

import "errors"

// Client-caused failures. Anything else coming out of the core is internal.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrActiveRideExists  = errors.New("rider already has an active ride request")
	ErrRequestNotOpen    = errors.New("ride request is no longer accepting offers")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrAlreadyRated      = errors.New("ride already rated")
	ErrInvalidInput      = errors.New("invalid input")
)

var domainErrors = []error{
	ErrNotFound,
	ErrForbidden,
	ErrUnauthorized,
	ErrInvalidTransition,
	ErrActiveRideExists,
	ErrRequestNotOpen,
	ErrInvalidPrice,
	ErrInvalidRating,
	ErrAlreadyRated,
	ErrInvalidInput,
}

func IsDomainError(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
