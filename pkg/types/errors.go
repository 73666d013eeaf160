package types

import "errors"

// Error taxonomy shared by every component. Components wrap these with
// fmt.Errorf("...: %w") and callers classify with errors.Is.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("expired credential")
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
	ErrTransportFailure  = errors.New("transport failure")
)

// Refinements reported alongside the validation family.
var (
	ErrNotJoined          = errors.New("connection has not joined a session")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrPassageUnavailable = errors.New("passage unavailable")
	ErrInvalidRole        = errors.New("role must be 'teacher' or 'participant'")
)

// ErrorKind is the wire name of an error class.
type ErrorKind string

const (
	KindInvalidCredential  ErrorKind = "invalid_credential"
	KindExpiredCredential  ErrorKind = "expired_credential"
	KindSessionNotFound    ErrorKind = "session_not_found"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindValidation         ErrorKind = "validation_error"
	KindTransportFailure   ErrorKind = "transport_failure"
	KindNotJoined          ErrorKind = "not_joined"
	KindRateLimited        ErrorKind = "rate_limited"
	KindPassageUnavailable ErrorKind = "passage_unavailable"
	KindInternal           ErrorKind = "internal_error"
)

// KindOf classifies err. Refinements are checked before their families.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExpiredCredential):
		return KindExpiredCredential
	case errors.Is(err, ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotJoined):
		return KindNotJoined
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrPassageUnavailable):
		return KindPassageUnavailable
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTransportFailure):
		return KindTransportFailure
	default:
		return KindInternal
	}
}
