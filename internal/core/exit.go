package core

import (
	"errors"

	"github.com/xai-infra/sibload/internal/fetch"
	"github.com/xai-infra/sibload/internal/launch"
	"github.com/xai-infra/sibload/internal/resolver"
)

// Exit codes distinguish bad input from fetch failures from consumer
// failures, so callers can branch on them.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitBadInput = 2
	ExitFetch    = 3
	ExitLaunch   = 4
)

// BadInputError marks command-line input rejected before the pipeline ran:
// a missing positional, an unknown flag, a malformed deploy spec.
type BadInputError struct {
	Err error
}

func (e *BadInputError) Error() string { return e.Err.Error() }

func (e *BadInputError) Unwrap() error { return e.Err }

// ExitCode maps a pipeline error to the process exit code. A non-zero
// consumer exit propagates verbatim.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var consumer *ConsumerExitError
	if errors.As(err, &consumer) {
		return consumer.Code
	}
	var badInput *BadInputError
	if errors.As(err, &badInput) {
		return ExitBadInput
	}
	var invalid *resolver.InvalidTargetError
	if errors.As(err, &invalid) {
		return ExitBadInput
	}
	var notFound *fetch.ObjectNotFoundError
	var denied *fetch.AccessDeniedError
	var transient *fetch.TransientFetchError
	var localWrite *fetch.LocalWriteError
	if errors.As(err, &notFound) || errors.As(err, &denied) ||
		errors.As(err, &transient) || errors.As(err, &localWrite) {
		return ExitFetch
	}
	var launchErr *launch.Error
	if errors.As(err, &launchErr) {
		return ExitLaunch
	}
	var step *StepError
	if errors.As(err, &step) {
		switch step.Step {
		case StepResolve:
			return ExitBadInput
		case StepFetch:
			return ExitFetch
		case StepLaunch:
			return ExitLaunch
		}
	}
	return ExitFailure
}
