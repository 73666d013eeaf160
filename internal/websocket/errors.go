package websocket

import (
	"errors"
	"fmt"

	"studysync/pkg/types"
)

// Connection-related errors. Both count as transport failures for fan-out.
var (
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", types.ErrTransportFailure)
	ErrSendBufferFull   = fmt.Errorf("%w: send buffer full", types.ErrTransportFailure)
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection id already registered")
)

// Handler-related errors
var (
	ErrMissingCredential = fmt.Errorf("%w: missing credential", types.ErrInvalidCredential)
	ErrMissingSessionID  = errors.New("missing session_id query parameter")
)
