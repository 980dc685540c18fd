package gdfx

import (
	"errors"
	"io"
)

// Sentinel errors for package gdfx.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Mount errors
	ErrVolumeMismatch    = errors.New("unsupported volume geometry")
	ErrSignatureMismatch = errors.New("GDFX signature mismatch")

	// Structural errors
	ErrExtentOutOfRange = errors.New("extent outside volume")
	ErrInvalidDirectory = errors.New("invalid directory")

	// Caller errors
	ErrNotAFile      = errors.New("not a file")
	ErrNotADirectory = errors.New("not a directory")
	ErrNotSupported  = errors.New("operation not supported on a read-only volume")
	ErrClosed        = errors.New("file already closed")
	ErrInvalidSeek   = errors.New("invalid seek")
)

// ErrEndOfFile is returned by reads at or past the end of a file.
var ErrEndOfFile = io.EOF

// ErrNotFound reports a name missing from a directory. It also matches
// ErrInvalidDirectory, since a lookup cannot tell a missing name from a
// tree that ends early.
var ErrNotFound error = notFound{}

type notFound struct{}

func (notFound) Error() string { return "no such file or directory" }

func (notFound) Is(target error) bool { return target == ErrInvalidDirectory }

// Recoverable reports whether err describes an expected condition the
// caller can act on, as opposed to a damaged or unsupported volume.
func Recoverable(err error) bool {
	return errors.Is(err, ErrEndOfFile) ||
		errors.Is(err, ErrNotAFile) ||
		errors.Is(err, ErrNotADirectory) ||
		errors.Is(err, ErrNotSupported) ||
		errors.Is(err, ErrNotFound)
}
