package util

import "errors"

// Sentinel errors for package util.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Fragment discovery errors
	ErrNoFragments  = errors.New("no Data#### fragments found")
	ErrFragmentGap  = errors.New("fragment sequence has a gap")
	ErrNotDirectory = errors.New("expected directory")

	// Configuration errors
	ErrMissingHeader = errors.New("content header file is required")
	ErrInvalidConfig = errors.New("invalid mount configuration")
)
