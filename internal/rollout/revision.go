// Package rollout drives the deployment state machine: staged replacement of
// running workload instances with a new image, health-gated promotion, and
// automatic rollback to the last good revision.
package rollout

import (
	"fmt"
	"time"
)

// Status is the state-machine position of one deployment revision.
type Status string

const (
	// StatusPending means the revision is accepted but no instance exists.
	StatusPending Status = "Pending"
	// StatusProgressing means new instances are being surged in while the
	// previous revision keeps serving.
	StatusProgressing Status = "Progressing"
	// StatusVerifying means all new instances are ready and the revision is
	// held under observation before promotion.
	StatusVerifying Status = "Verifying"
	// StatusLive means the revision serves all traffic. Exactly one revision
	// is Live at a time.
	StatusLive Status = "Live"
	// StatusRolledBack means verification breached the error threshold and
	// the previous Live revision kept serving.
	StatusRolledBack Status = "RolledBack"
	// StatusFailed means an unrecoverable error occurred before promotion.
	StatusFailed Status = "Failed"
	// StatusSuperseded marks a former Live revision demoted to retained
	// history after a newer revision was promoted. It stays available for
	// manual rollback until pruned.
	StatusSuperseded Status = "Superseded"
)

// Terminal reports whether no further transition is possible within the
// revision's own rollout. A Live revision still moves to Superseded when a
// newer one is promoted.
func (s Status) Terminal() bool {
	switch s {
	case StatusLive, StatusRolledBack, StatusFailed, StatusSuperseded:
		return true
	}
	return false
}

// Revision is one versioned deployment request with its own state-machine
// instance. Numbers are strictly increasing and never reused.
type Revision struct {
	Number   int       `json:"number"`
	Image    string    `json:"image"`
	Replicas int       `json:"replicas"`
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated,omitempty"`
}

// Validate checks the deployment request fields.
func (r *Revision) Validate() error {
	if r.Image == "" {
		return fmt.Errorf("revision %d: image reference is required", r.Number)
	}
	if r.Replicas < 1 {
		return fmt.Errorf("revision %d: replicas must be at least 1, got %d", r.Number, r.Replicas)
	}
	return nil
}

// SetStatus records a transition with its reason.
func (r *Revision) SetStatus(s Status, reason string) {
	r.Status = s
	r.Reason = reason
	r.Updated = time.Now().UTC()
}
