package model

import "errors"

var (
	// ErrInvalidURL is returned when the input is missing or is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
	// ErrNotFound is returned when no mapping exists for a short code.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode signals a short code collision on insert. The service retries on it.
	ErrDuplicateCode = errors.New("short code already exists")
	// ErrCodeSpaceExhausted is returned when every attempt of the bounded retry collided.
	ErrCodeSpaceExhausted = errors.New("could not find a free short code")
	// ErrStoreUnavailable wraps connection level failures of the durable store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
