package frame

import "errors"

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnKind     = errors.New("unexpected column kind")
	ErrLengthMismatch = errors.New("column length mismatch")
	ErrDuplicateKey   = errors.New("duplicate (entity, time) key")
)
