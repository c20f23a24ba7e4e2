package domain

import "errors"

// Store sentinels shared by every persistence backend. ErrConflict means a
// compare-and-set precondition no longer held when the write was attempted.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("concurrent modification")
)
