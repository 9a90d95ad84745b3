package xclient

import (
	"errors"
	"fmt"
)

// Local input guards; never hit the network.
var (
	ErrEmptyText   = errors.New("text is empty")
	ErrTextTooLong = errors.New("text exceeds 280 characters")
)

// Remote write failures, distinguished so callers can report them per-item.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
)

// APIError wraps a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("x api status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("x api status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case 429:
		return ErrRateLimited
	case 401, 403:
		return ErrForbidden
	case 404:
		return ErrNotFound
	}
	return nil
}
