package session

import (
	"fmt"

	"studysync/pkg/types"
)

var (
	ErrInvalidTeacher   = fmt.Errorf("%w: teacher user id is malformed", types.ErrValidation)
	ErrInvalidReference = fmt.Errorf("%w: reference must be 1-100 characters", types.ErrValidation)
	ErrInvalidJoinCode  = fmt.Errorf("%w: join code must be 12 hex characters", types.ErrValidation)
	ErrInvalidStatus    = fmt.Errorf("%w: unknown study status", types.ErrValidation)
)
