package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation failed")
	ErrTooEarly            = errors.New("deadline not reached")
	ErrMissingVerification = errors.New("missing verification")
	ErrNotFinal            = errors.New("verification not final")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrConsensusFailure    = errors.New("consensus failure")
	ErrConflict            = errors.New("concurrent modification")
	ErrLockHeld            = errors.New("lock already held")
	ErrRateLimited         = errors.New("rate limited")
)
