package goal

import "errors"

var (
	// ErrStoreRead wraps failures reading goal or patient records.
	ErrStoreRead = errors.New("store read failure")
	// ErrStoreWrite wraps failures writing goal or patient records.
	ErrStoreWrite = errors.New("store write failure")
	// ErrInvalidStateTransition is returned when a cascade or lifecycle
	// transition no longer holds against the current tree.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
