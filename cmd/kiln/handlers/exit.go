package handlers

import (
	"errors"

	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/rollout"
)

// Exit codes are part of the CLI contract so scripts can branch on the kind
// of failure without parsing error text.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitLockConflict   = 2
	ExitPartialFailure = 3
	ExitRolloutFailed  = 4
)

// ExitCode maps a handler error onto its exit code. Validation problems and
// unclassified errors share code 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var lock *provision.LockConflictError
	if errors.As(err, &lock) {
		return ExitLockConflict
	}

	var partial *provision.PartialFailure
	if errors.As(err, &partial) {
		return ExitPartialFailure
	}

	var rolledBack *rollout.RolledBackError
	var failed *rollout.FailedError
	if errors.As(err, &rolledBack) || errors.As(err, &failed) {
		return ExitRolloutFailed
	}

	return ExitError
}
