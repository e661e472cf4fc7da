package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidTransition - a trigger is not legal from the current contract or object status
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateAction - an irreversible action with the same idempotency key already completed
	ErrDuplicateAction = errors.New("action refused: already performed")

	// ErrExpired - a pending form request's TTL elapsed or it was never registered
	ErrExpired = errors.New("expired or not found")

	// ErrSessionMismatch - a form response arrived from a session other than the one that owns it
	ErrSessionMismatch = errors.New("session mismatch")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput - invalid input (missing required field, malformed body)
	ErrInvalidInput = errors.New("invalid input")

	// ErrServiceNotRunning - the named tool host is unknown or its process is not alive
	ErrServiceNotRunning = errors.New("service not running")

	// ErrTransient - transient error (timeouts, network, rate limits)
	ErrTransient = errors.New("transient error")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
