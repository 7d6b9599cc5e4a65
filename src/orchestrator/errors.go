package orchestrator

import (
	"github.com/juju/errors"

	"repo-backup/src/engine"
)

// Error kinds. Test for them with errors.Is.
const (
	ErrConfigurationNotFound = errors.ConstError("configuration not found")
	ErrConfigurationInvalid  = errors.ConstError("configuration invalid")
	ErrDeploymentFailed      = errors.ConstError("deployment failed")
	ErrUnknownStartup        = errors.ConstError("unknown startup error")
	ErrLoginFailed           = errors.ConstError("login failed")
	ErrOperationFailed       = errors.ConstError("operation failed")
	ErrReportedProblems      = errors.ConstError("reported problems")
	ErrAlreadyRun            = errors.ConstError("already run")
)

// Error is returned by New and Run.
type Error struct {
	Kind    errors.ConstError
	Message string
	// Problems holds the report behind ErrReportedProblems.
	Problems engine.Problems
	Err      error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	kind, ok := target.(errors.ConstError)
	return ok && kind == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind errors.ConstError, cause error, msg string) *Error {
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: cause}
}
