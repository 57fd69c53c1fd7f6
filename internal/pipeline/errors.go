package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoInput indicates the job request carried neither a source URL nor a
// staged local file.
var ErrNoInput = errors.New("no input source in job request")

// StageError wraps an error with the pipeline stage it occurred in.
type StageError struct {
	Step string
	Err  error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// newStageError wraps err with the step identifier, avoiding double
// wrapping when a nested stage already tagged it.
func newStageError(step string, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Step: step, Err: err}
}
