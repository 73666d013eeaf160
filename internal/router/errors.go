package router

import (
	"errors"
	"fmt"

	"studysync/pkg/types"
)

var (
	ErrUnknownEvent     = fmt.Errorf("%w: unknown event type", types.ErrValidation)
	ErrMalformedFrame   = fmt.Errorf("%w: malformed frame", types.ErrValidation)
	ErrRateLimitReached = fmt.Errorf("%w: too many events, slow down", types.ErrRateLimited)
	ErrNotInSession     = fmt.Errorf("%w: join a session first", types.ErrNotJoined)

	errNoPassageProvider = errors.New("no passage provider configured")
)
