package svod

import (
	"errors"
	"fmt"
)

// Sentinel errors for package svod.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Store errors
	ErrOutOfRange   = errors.New("offset out of range")
	ErrNoFragments  = errors.New("no fragments")
	ErrFragmentSize = errors.New("fragment is empty")

	// Descriptor errors
	ErrVersionMismatch = errors.New("unsupported volume descriptor")

	// Integrity errors
	ErrHashMismatch = errors.New("block hash mismatch")
	ErrCorrupt      = errors.New("container corrupt")

	// Read path errors
	ErrInvalidBlockOffset = errors.New("invalid block offset")
	ErrInvalidLevel       = errors.New("invalid block level")
)

// HashMismatchError reports a block whose recomputed digest does not
// match the digest recorded by its parent.
type HashMismatchError struct {
	Block uint32
	Level Level
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("%s: %s block %d", ErrHashMismatch, e.Level, e.Block)
}

func (e *HashMismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// CorruptionError reports a short or otherwise malformed backing read.
type CorruptionError struct {
	Fragment int
	Offset   int64
	Want     int
	Got      int
	Err      error
}

func (e *CorruptionError) Error() string {
	msg := fmt.Sprintf("%s: fragment %d offset %d: read %d of %d bytes", ErrCorrupt, e.Fragment, e.Offset, e.Got, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is an integrity or structural failure.
// Fatal errors abort the request that raised them and are never retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrHashMismatch) ||
		errors.Is(err, ErrCorrupt) ||
		errors.Is(err, ErrVersionMismatch) ||
		errors.Is(err, ErrInvalidBlockOffset)
}
