package interfaces

import "errors"

// Errors returned across the persistence and passage boundaries.
var (
	ErrStudyNotFound    = errors.New("study not found")
	ErrDuplicateStudy   = errors.New("study already exists")
	ErrPassageNotFound  = errors.New("passage not found")
	ErrInvalidReference = errors.New("invalid passage reference")
)
