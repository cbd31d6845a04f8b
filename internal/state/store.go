// Package state defines the persisted view of every resource and deployment
// revision, and the advisory lock that makes convergence runs single-flight.
//
// Backends live in subpackages: memory (tests), file (default), s3 (remote).
// All implementations must be safe for concurrent use.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
)

var (
	// ErrNotFound is returned when a resource or revision does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLockConflict is returned when the global lock is already held.
	// The caller must not proceed; there is no queuing.
	ErrLockConflict = errors.New("state lock held by another run")

	// ErrNotHolder is returned when releasing a lock owned by someone else
	// or not held at all.
	ErrNotHolder = errors.New("state lock not held by this run")
)

// LockInfo describes the current advisory lock slot.
type LockInfo struct {
	HolderID   string        `json:"holderId"`
	AcquiredAt time.Time     `json:"acquiredAt"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the lock's lease has lapsed. Expired locks are
// never cleared automatically during a run; only an explicit force unlock
// may remove them.
func (l *LockInfo) Expired(now time.Time) bool {
	return now.After(l.AcquiredAt.Add(l.TTL))
}

// Store persists resources, deployment revisions, and the global lock.
type Store interface {
	// AcquireLock takes the global lock slot by compare-and-swap. Any
	// existing lock, including an expired one, yields ErrLockConflict.
	AcquireLock(ctx context.Context, holderID string, ttl time.Duration) error

	// ReleaseLock frees the slot if holderID owns it, else ErrNotHolder.
	ReleaseLock(ctx context.Context, holderID string) error

	// ForceUnlock clears the slot unconditionally and returns the lock that
	// was cleared, or ErrNotFound when the slot was empty. Callers must log
	// the cleared holder; this is a manual operator action.
	ForceUnlock(ctx context.Context) (*LockInfo, error)

	// Lock returns the current lock, or ErrNotFound when the slot is empty.
	Lock(ctx context.Context) (*LockInfo, error)

	// Get returns one resource by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*resource.Resource, error)

	// Put writes one resource atomically; no partial update is visible.
	Put(ctx context.Context, r *resource.Resource) error

	// Delete removes one resource; deleting a missing id is ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns a snapshot of all resources ordered by id.
	List(ctx context.Context) ([]*resource.Resource, error)

	// PutRevision writes one deployment revision keyed by number.
	PutRevision(ctx context.Context, rev *rollout.Revision) error

	// Revision returns the revision with the given number, or ErrNotFound.
	Revision(ctx context.Context, number int) (*rollout.Revision, error)

	// ListRevisions returns all retained revisions ordered by number.
	ListRevisions(ctx context.Context) ([]*rollout.Revision, error)

	// DeleteRevision prunes a retained revision.
	DeleteRevision(ctx context.Context, number int) error

	// Close releases backend handles.
	Close() error
}
