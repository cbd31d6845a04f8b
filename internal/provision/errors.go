package provision

import (
	"fmt"
	"strings"

	"github.com/cloudkiln/kiln/internal/state"
)

// ValidationError reports problems with the desired-state document itself:
// malformed specs, unknown kinds, undeclared dependencies, cycles. It is
// always raised before any external call.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "validation failed: " + e.Issues[0]
	}
	return fmt.Sprintf("validation failed (%d issues): %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// LockConflictError means another run holds the state lock. The invocation
// must not proceed; the operator retries later or force-unlocks an abandoned
// lease.
type LockConflictError struct {
	Holder *state.LockInfo
}

func (e *LockConflictError) Error() string {
	if e.Holder == nil {
		return "state lock held by another run"
	}
	return fmt.Sprintf("state lock held by %s since %s (ttl %s)",
		e.Holder.HolderID, e.Holder.AcquiredAt.Format("2006-01-02T15:04:05Z07:00"), e.Holder.TTL)
}

// ProvisioningError is a non-transient failure of one resource's external
// call, after retry exhaustion or immediate fatal classification.
type ProvisioningError struct {
	ResourceID string
	Op         string
	Err        error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// PartialFailure summarizes a run that left some resources short of Ready.
// Failed resources hit a fatal error, Degraded ones exhausted their readiness
// poll window, Skipped ones were never attempted because a dependency did
// not reach Ready.
type PartialFailure struct {
	Failed   []*ProvisioningError
	Degraded []string
	Skipped  []string
}

func (e *PartialFailure) Error() string {
	var parts []string
	if n := len(e.Failed); n > 0 {
		ids := make([]string, n)
		for i, f := range e.Failed {
			ids[i] = f.ResourceID
		}
		parts = append(parts, fmt.Sprintf("%d failed (%s)", n, strings.Join(ids, ", ")))
	}
	if n := len(e.Degraded); n > 0 {
		parts = append(parts, fmt.Sprintf("%d degraded (%s)", n, strings.Join(e.Degraded, ", ")))
	}
	if n := len(e.Skipped); n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped (%s)", n, strings.Join(e.Skipped, ", ")))
	}
	return "convergence incomplete: " + strings.Join(parts, ", ")
}
