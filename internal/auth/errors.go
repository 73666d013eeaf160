package auth

import "errors"

const minSecretLength = 16

var (
	ErrWeakSecret = errors.New("auth secret must be at least 16 bytes")
	ErrInvalidTTL = errors.New("token ttl must be positive")
)
