package domain

import "errors"

var (
	// ErrNotFound marks an entity that vanished between scheduling and
	// firing; callers treat it as a no-op.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadySettled is the expected idempotency hit: the status
	// guard observed a terminal status.
	ErrAlreadySettled = errors.New("entity already settled")

	// ErrEmptyDraw means no bid interval could contain the roll
	// (degenerate ticket partition).
	ErrEmptyDraw = errors.New("draw has no winnable interval")
)
