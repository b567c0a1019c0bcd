package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrSlotOutOfRange is returned when a history slot index falls
	// outside the user's current history.
	ErrSlotOutOfRange = errors.New("history slot out of range")

	// ErrGenerationNotFound covers both a missing id and an id owned by
	// another user, so callers cannot probe for other users' rows.
	ErrGenerationNotFound = errors.New("generation not found")
)
