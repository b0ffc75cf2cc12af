package chat

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionState is returned when an operation is not legal in
	// the session's current state, e.g. a second turn while one is in flight.
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrRetrieval is returned when context retrieval fails. The user
	// message is already durably recorded when this surfaces.
	ErrRetrieval = errors.New("context retrieval failed")

	// ErrModelCall is returned when the model backend fails after retries.
	// The user message is already durably recorded when this surfaces.
	ErrModelCall = errors.New("model call failed")
)
