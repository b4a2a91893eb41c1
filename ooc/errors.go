package ooc

import (
	"errors"
	"fmt"
	"io/fs"
)

// Error kinds shared by the volume, cache and overlay packages.  Test against them
// with errors.Is; the concrete error returned is usually an *Error.
var (
	ErrNotFound        = errors.New("not found")
	ErrIO              = errors.New("i/o error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupportedAxis = errors.New("unsupported axis")

	// ErrKeyNotFound is a cache miss.  It is only returned by the cache itself and
	// never escapes a dataset read, which falls through to a load.
	ErrKeyNotFound = errors.New("key not in cache")

	// ErrInvalidLevel is an ErrInvalidArgument for an unknown resolution level.
	ErrInvalidLevel = fmt.Errorf("%w: unknown resolution level", ErrInvalidArgument)
)

// Error describes a failed operation on a path, classified by one of the error kinds above.
type Error struct {
	Op   string // operation, e.g. "get slice"
	Path string // file, object or dataset path, may be empty
	Kind error  // one of the Err* kinds
	Err  error  // underlying error, may be nil
}

// NewError returns an *Error of the given kind.
func NewError(op, path string, kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// IOError classifies err as ErrNotFound if it reports a missing file, else ErrIO.
func IOError(op, path string, err error) *Error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNotFound) {
		return NewError(op, path, ErrNotFound, err)
	}
	return NewError(op, path, ErrIO, err)
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is to match both the kind and the underlying error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsNotFound returns true if err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
