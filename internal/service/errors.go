package service

import (
	"errors"
	"strings"
)

var (
	ErrForbidden     = errors.New("forbidden: insufficient permissions")
	ErrImageRequired = errors.New("diagnosis image is required")
)

// ValidationError aggregates every field-level failure from one payload so
// the caller sees the full report at once.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, ", ")
}
