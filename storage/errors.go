package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is returned by Insert when uniqueness is enforced and a
	// record for the same owner and poll name already exists.
	ErrDuplicate = errors.New("poll record already exists")
	// ErrClosed is returned by any operation on a closed backend.
	ErrClosed = errors.New("storage closed")
)

// PersistenceError reports a backend failure. Callers above the storage
// layer pass it through untouched.
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Backend: backend, Op: op, Err: err}
}
