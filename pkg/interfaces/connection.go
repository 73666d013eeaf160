package interfaces

import "studysync/pkg/types"

// Connection is a room member's outbound endpoint as seen by the session
// registry and fan-out. Implementations must make Enqueue non-blocking and
// safe for concurrent use; network writes happen elsewhere.
type Connection interface {
	// ID is the server-assigned connection id, unique for the process lifetime.
	ID() string

	// Identity is the verified identity bound at admission. It never changes.
	Identity() types.Identity

	// Enqueue hands an already-encoded frame to the connection's writer.
	// It returns an error instead of waiting when the outbox is full or closed.
	Enqueue(data []byte) error

	Close() error
}
