package runtime

import "fmt"

// LoadError reports that a file in the namespace could not be parsed into
// the dataset slot.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ExecError reports that analysis code raised, failed to compile or ran out
// of steps.
type ExecError struct {
	Err error
}

func (e *ExecError) Error() string {
	return e.Err.Error()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
