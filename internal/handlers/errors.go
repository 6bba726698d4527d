package handlers

import (
	"errors"
	"net/http"

	"mediaserve/internal/byterange"
)

var (
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
	ErrNotFound            = errors.New("not found")
	// ErrForbidden reports a directory that could not be enumerated.
	ErrForbidden = errors.New("no permission to list directory")
	// ErrTransportInterrupted reports that the client stopped accepting bytes mid-stream.
	ErrTransportInterrupted = errors.New("transport interrupted")
)

// statusFor maps request errors to HTTP status codes. Listing failures are
// reported as 404 so that unreadable directories look like missing ones.
func statusFor(err error) int {
	switch {
	case errors.Is(err, byterange.ErrInvalidRange), errors.Is(err, ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
