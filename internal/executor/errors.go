package executor

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for typed error checking.
var (
	ErrObserverFailed = errors.New("outcome observer failed")
	ErrEngineFailed   = errors.New("evaluation engine failed")
)

// RunError wraps errors with run context.
type RunError struct {
	RunID  string
	Script string
	Op     string // The operation that failed
	Err    error
}

func (e *RunError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("run %s (%s): %s: %s", e.RunID, e.Script, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the script could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// IsObserverFailure returns true if a run was aborted by an observer.
func IsObserverFailure(err error) bool {
	return errors.Is(err, ErrObserverFailed)
}
