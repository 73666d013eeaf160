package hub

import "errors"

var (
	// errRoomClosed is returned to a command that raced with teardown.
	// Joins retry against a freshly bootstrapped room; other commands
	// report the session as gone.
	errRoomClosed = errors.New("room closed")

	ErrRegistryClosed = errors.New("session registry is shutting down")
)
