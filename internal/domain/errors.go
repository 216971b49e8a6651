package domain

import "errors"

var (
	// ErrInvalidID is returned when a GlobalID string cannot be parsed
	ErrInvalidID = errors.New("invalid global id")
	// ErrUnknownKind is returned for a node or edge kind outside the known set
	ErrUnknownKind = errors.New("unknown kind")
)
