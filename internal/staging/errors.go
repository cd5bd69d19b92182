package staging

import (
	"errors"
	"fmt"
)

var (
	// ErrStagingFull is returned when the staging area holds as many pairs
	// as its limit allows.
	ErrStagingFull = errors.New("staging area full")

	// ErrInvalidName is returned for names that are not plain file names.
	ErrInvalidName = errors.New("invalid recording name")
)

// Error is a local disk failure while staging or removing a recording.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("staging %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
