package launcher

import "fmt"

// Stage names the bootstrap step an error came from
type Stage string

const (
	StagePath     Stage = "path"
	StageProfile  Stage = "profile"
	StageReport   Stage = "report"
	StageDelegate Stage = "delegate"
)

// Error wraps a bootstrap failure with its stage. None of these are fatal
// to the launcher; they are logged and the next step runs.
type Error struct {
	Stage Stage
	Err   error
}

// Error implements error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Err: err}
}
