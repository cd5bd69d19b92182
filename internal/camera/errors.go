package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrListingParse is returned when a listing entry cannot be turned
	// into a recording.
	ErrListingParse = errors.New("listing parse error")

	// ErrUnexpectedContent is returned when a recording body does not start
	// with the container signature, e.g. an HTML error page.
	ErrUnexpectedContent = errors.New("unexpected content")
)

// NetworkError is a transport failure talking to the camera. It is retried.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("camera %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the camera.
type StatusError struct {
	Op         string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("camera %s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
}

// Retryable reports whether the status is a server-side failure.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// ListingError is returned when a protected folder cannot be listed.
type ListingError struct {
	Folder string
	Err    error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("list folder %s: %v", e.Folder, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }
