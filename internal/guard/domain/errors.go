package domain

import "errors"

var (
	// ErrPermissionDenied is returned when a required capability is not granted.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrActionUnconfirmed means no mitigation strategy confirmed the action.
	ErrActionUnconfirmed = errors.New("mitigating action unconfirmed")
	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownRoute is returned for malformed addressable requests.
	ErrUnknownRoute = errors.New("unknown route")

	ErrDuplicateIdentifier = errors.New("identifier already exists")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrNotFound            = errors.New("not found")
	ErrOverlappingSession  = errors.New("overlapping call session")
)
