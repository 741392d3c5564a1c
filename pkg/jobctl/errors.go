package jobctl

import "fmt"

// SetupError is returned when a terminal could not be created for a new
// inferior. The inferior is started on the debugger's terminal instead.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("could not create a terminal for this inferior, sharing the debugger's terminal instead: %v", e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// InternalError reports a violation of the contract between the
// controller and its callers. It is raised with panic.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Msg
}

func internalError(format string, args ...interface{}) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}
