package session

import "errors"

var (
	errSessionClosed  = errors.New("session closed")
	errSTTUnavailable = errors.New("speech-to-text not configured")

	// ErrBusy is returned when an execute is requested while a previous
	// turn is still running.
	ErrBusy = errors.New("session busy")

	// ErrNotFound is returned for operations on unknown session ids.
	ErrNotFound = errors.New("session not found")
)
