package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors
var (
	ErrInvalidInput      = errors.New("invalid request")
	ErrUnknownLocation   = errors.New("invalid spot")
	ErrInvalidWallet     = errors.New("invalid wallet")
	ErrAuthentication    = errors.New("signature failed")
	ErrMessageMismatch   = errors.New("signed message does not match request")
	ErrMessageExpired    = errors.New("signed message expired")
	ErrGeofence          = errors.New("too far")
	ErrCooldown          = errors.New("cooldown")
	ErrAlreadyClaimed    = errors.New("location already claimed")
	ErrLevelTooLow       = errors.New("level too low for location")
	ErrGearNotFound      = errors.New("gear not found")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrTransferAmbiguous = errors.New("transfer outcome unknown")
	ErrPersistence       = errors.New("persistence failed")
	ErrInvalidRecord     = errors.New("invalid player record")
	ErrInternalError     = errors.New("internal server error")
)

// GeofenceError reports how far the claimed position was from the location.
type GeofenceError struct {
	Distance float64
	Radius   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("too far: %.0fm (max %.0fm)", e.Distance, e.Radius)
}

func (e *GeofenceError) Unwrap() error { return ErrGeofence }

// IsClientError checks if an error is caused by the request rather than the server
func IsClientError(err error) bool {
	return HTTPStatus(err) < http.StatusInternalServerError
}

// HTTPStatus maps a domain error onto its HTTP status code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrGearNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnknownLocation),
		errors.Is(err, ErrInvalidWallet),
		errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrMessageMismatch),
		errors.Is(err, ErrMessageExpired),
		errors.Is(err, ErrGeofence),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrLevelTooLow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
