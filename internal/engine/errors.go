package engine

import "errors"

// Session and call lifecycle errors.
var (
	ErrUnknownSession   = errors.New("unknown session")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrDuplicateCall    = errors.New("duplicate call id")
	ErrUnknownCall      = errors.New("unknown call")
	ErrSessionClosed    = errors.New("session closed")
)

// errCancelRequested is the cancellation cause recorded by Session.Cancel.
var errCancelRequested = errors.New("cancel requested")
