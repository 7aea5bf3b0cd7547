// Package apperr holds the domain error sentinels that the HTTP layer maps
// onto status codes.
package apperr

import "errors"

var (
	// ErrConflict is returned when a request conflicts with the current state of a resource
	ErrConflict = errors.New("conflict")

	// ErrForbidden is returned when the actor may not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized is returned when credentials are missing or invalid
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest is returned for malformed requests that are not field validation failures
	ErrBadRequest = errors.New("bad request")
)
