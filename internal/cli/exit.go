package cli

import "errors"

// Process exit codes. Scripts watching the supervisor depend on these.
const (
	ExitOK          = 0   // clean shutdown
	ExitConfigError = 2   // configuration failed to load or validate
	ExitRuntime     = 3   // engine or driver failed at runtime
	ExitInterrupt   = 130 // stopped by SIGINT
)

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. A nil error is a
// clean exit; anything that is not an ExitError is a runtime failure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitRuntime
}
