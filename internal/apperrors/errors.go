package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedToken = errors.New("token is malformed")
	ErrSessionExpired = errors.New("session expired")
	ErrSessionClosed  = errors.New("session closed while request was in flight")

	ErrAuthRejected       = errors.New("authentication rejected")
	ErrNoRefreshToken     = fmt.Errorf("no refresh token available: %w", ErrAuthRejected)
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Request failed before any status was obtained
	ErrTransientNetwork = errors.New("transient network error")

	ErrUnknownStorage = errors.New("unknown storage backend")
)

// AuthRejectedError is returned when the backend refuses credentials or a refresh token
// Detail is the message reported by the server and is safe to show to the user
type AuthRejectedError struct {
	Status int
	Detail string
}

func (e *AuthRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("authentication rejected, status: %d", e.Status)
	}
	return fmt.Sprintf("authentication rejected, status: %d, detail: %s", e.Status, e.Detail)
}

// Any *AuthRejectedError matches ErrAuthRejected
func (e *AuthRejectedError) Is(target error) bool {
	return target == ErrAuthRejected
}

// StatusError is returned by protected calls that got a non-2xx response
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Status, e.Body)
}

// IsUnauthorized tells whether the error is a 401 or 403 response
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Status == 401 || statusErr.Status == 403
}
