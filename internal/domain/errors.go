package domain

import "errors"

// Engine errors. Each maps to a stable code through Code.
var (
	// ErrNotFound indicates an unknown or deleted session id.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyFinished indicates a mutation on a finished session.
	ErrAlreadyFinished = errors.New("session already finished")

	// ErrUndoUnavailable indicates the undo stack is empty.
	ErrUndoUnavailable = errors.New("nothing to undo")

	// ErrInsufficientTopics indicates the catalog cannot supply the requested question count.
	ErrInsufficientTopics = errors.New("insufficient topics")

	// ErrPersistence indicates the session store failed to write.
	// The caller may retry: saves persist whole snapshots.
	ErrPersistence = errors.New("persistence failure")

	// ErrCapacity indicates the store is at its live-session limit.
	ErrCapacity = errors.New("session capacity exceeded")

	// ErrInvalidInput indicates malformed input.
	ErrInvalidInput = errors.New("invalid input")
)

// Stable error codes exposed to transports.
const (
	CodeNotFound           = "not_found"
	CodeAlreadyFinished    = "already_finished"
	CodeUndoUnavailable    = "undo_unavailable"
	CodeInsufficientTopics = "insufficient_topics"
	CodePersistence        = "persistence_failure"
	CodeCapacity           = "capacity_exceeded"
	CodeInvalidInput       = "invalid_input"
	CodeInternal           = "internal"
)

// Code returns the stable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyFinished):
		return CodeAlreadyFinished
	case errors.Is(err, ErrUndoUnavailable):
		return CodeUndoUnavailable
	case errors.Is(err, ErrInsufficientTopics):
		return CodeInsufficientTopics
	case errors.Is(err, ErrCapacity):
		return CodeCapacity
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}
