package presence

import "errors"

var (
	// ErrInvalidRoom is returned when a room name is empty.
	ErrInvalidRoom = errors.New("invalid room name")
	// ErrInvalidClient is returned when a record carries no client id.
	ErrInvalidClient = errors.New("invalid client id")
	// ErrInvalidPosition is returned when a coordinate falls outside the
	// exchange range. Out-of-range submissions are rejected, never clamped,
	// so that producers fix their transform params instead.
	ErrInvalidPosition = errors.New("position out of exchange range")
	// ErrRoomNotFound is returned by explicit existence checks against a room
	// that has never been referenced. Read queries return empty results
	// instead of this error.
	ErrRoomNotFound = errors.New("room not found")
	// ErrDeliveryFailure wraps a failed push delivery to one subscriber. It is
	// surfaced on that subscription's error channel only and never fails the
	// triggering write.
	ErrDeliveryFailure = errors.New("delivery failure")
)
