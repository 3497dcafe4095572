package tracker

import (
	"errors"
	"fmt"
)

var (
	ErrHomeDirectoryNotFound = errors.New("home directory not found")
	ErrGitNotInstalled       = errors.New("git executable not available")

	ErrPathNotFound    = errors.New("path does not exist")
	ErrOutsideWorkTree = errors.New("path is outside the work tree")
	ErrInsideStore     = errors.New("path is inside the tracking store")
	ErrInvalidUTF8Path = errors.New("path is not valid UTF-8")
	ErrStripPrefix     = errors.New("cannot derive path relative to the work tree")

	ErrNothingToCommit = errors.New("nothing to commit")
	ErrIdentityMissing = errors.New("no commit identity configured (user.name and user.email)")
	ErrNoCredentials   = errors.New("no usable credentials")
	ErrUnsupported     = errors.New("operation not supported by backend")
)

// PathError records a failure tied to a single path argument.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// StoreError wraps a failure reported by the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore wraps err as a StoreError unless it already carries path or
// store context, or is one of the domain errors above.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	var pe *PathError
	if errors.As(err, &se) || errors.As(err, &pe) || isDomain(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func unsupported(backend, op string) error {
	return fmt.Errorf("%s: %w (%s backend)", op, ErrUnsupported, backend)
}

var domainErrors = []error{
	ErrNothingToCommit,
	ErrIdentityMissing,
	ErrNoCredentials,
	ErrUnsupported,
}

func isDomain(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
