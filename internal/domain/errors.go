package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	// ErrConflict is returned by storage when the unique chat triple already
	// exists. It is recovered inside the registry and never reaches callers.
	ErrConflict = errors.New("conflict")
)
