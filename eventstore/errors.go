package eventstore

import "errors"

var (
	// ErrInvalidEvent is returned when an event lacks a required field.
	ErrInvalidEvent = errors.New("eventstore: invalid event")

	// ErrUnknownEventType is returned for event types outside the known set.
	ErrUnknownEventType = errors.New("eventstore: unknown event type")

	// ErrClosed is returned by operations on a closed Store, Log or Router.
	ErrClosed = errors.New("eventstore: closed")

	// ErrInvalidOptions is returned by Open for unusable options.
	ErrInvalidOptions = errors.New("eventstore: invalid options")
)
