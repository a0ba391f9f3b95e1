package process

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStartFailed marks launches that did not survive: the exec itself
// failed, or the process died within the confirmation window.
var ErrStartFailed = errors.New("start failed")

// ErrMissingDependency marks a batch aborted by the preflight because a
// required program could not be found.
var ErrMissingDependency = errors.New("missing dependency")

// StartError carries the unit and reason of a failed start.
type StartError struct {
	Unit   string
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("start %s: %s: %v", e.Unit, e.Reason, e.Err)
	}
	return fmt.Sprintf("start %s: %s", e.Unit, e.Reason)
}

func (e *StartError) Unwrap() error { return e.Err }

func (e *StartError) Is(target error) bool { return target == ErrStartFailed }

// DependencyError lists every missing program found by the preflight. One
// missing dependency fails the whole batch before anything is launched.
type DependencyError struct {
	Missing []string
}

func (e *DependencyError) Error() string {
	return "missing dependencies: " + strings.Join(e.Missing, ", ")
}

func (e *DependencyError) Is(target error) bool { return target == ErrMissingDependency }
