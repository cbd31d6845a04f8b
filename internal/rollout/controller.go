package rollout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// RevisionStore is the persistence surface the controller needs. The state
// store satisfies it.
type RevisionStore interface {
	PutRevision(ctx context.Context, rev *Revision) error
	Revision(ctx context.Context, number int) (*Revision, error)
	ListRevisions(ctx context.Context) ([]*Revision, error)
	DeleteRevision(ctx context.Context, number int) error
}

// InstancePool manages the running workload instances behind the traffic
// entry point. Implementations must add an instance to the serving set as
// soon as it reports ready.
type InstancePool interface {
	// Start launches one instance of the revision and returns its id. The
	// instance is not ready yet; the caller polls Ready.
	Start(ctx context.Context, rev *Revision) (instanceID string, err error)

	// Ready reports whether the instance passes its readiness probe.
	Ready(ctx context.Context, instanceID string) (bool, error)

	// Retire stops one instance and removes it from the serving set.
	// Retiring an unknown instance is not an error.
	Retire(ctx context.Context, instanceID string) error

	// Serving lists the instance ids currently serving, keyed by revision
	// number.
	Serving(ctx context.Context) (map[int][]string, error)
}

// HealthSource reports the observed error rate of a revision's instances
// during verification. Where the rate comes from (metrics endpoint, probe
// failures) is the implementation's business.
type HealthSource interface {
	ErrorRate(ctx context.Context, revisionNumber int) (float64, error)
}

// Settings are the rollout knobs. The error threshold and verification
// window have no evidenced defaults and must come from configuration.
type Settings struct {
	// VerificationWindow is how long a fully ready revision is observed
	// before promotion.
	VerificationWindow time.Duration
	// ErrorThreshold is the error-rate fraction (0..1) that triggers
	// rollback during verification.
	ErrorThreshold float64
	// SampleInterval spaces health samples inside the window.
	SampleInterval time.Duration
	// ReadinessTimeout bounds the wait for one new instance to become ready.
	ReadinessTimeout time.Duration
	// ReadinessInterval spaces readiness probes.
	ReadinessInterval time.Duration
	// StartConcurrency caps how many instances are surged at once.
	StartConcurrency int
	// RetainedRevisions is how many superseded revisions stay available for
	// rollback; older ones are pruned after each promotion.
	RetainedRevisions int
}

// DefaultSettings returns workable defaults for everything except the
// verification window and the error threshold, which the config layer must
// set explicitly.
func DefaultSettings() Settings {
	return Settings{
		VerificationWindow: 2 * time.Minute,
		ErrorThreshold:     0.05,
		SampleInterval:     5 * time.Second,
		ReadinessTimeout:   5 * time.Minute,
		ReadinessInterval:  5 * time.Second,
		StartConcurrency:   4,
		RetainedRevisions:  2,
	}
}

// RolledBackError reports an automatic rollback. It is an expected outcome,
// not a process failure; the previous Live revision is still serving.
type RolledBackError struct {
	Revision  int
	ErrorRate float64
	Threshold float64
}

func (e *RolledBackError) Error() string {
	return fmt.Sprintf("revision %d rolled back: error rate %.4f exceeded threshold %.4f",
		e.Revision, e.ErrorRate, e.Threshold)
}

// FailedError reports an unrecoverable rollout error before promotion.
type FailedError struct {
	Revision int
	Err      error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("revision %d failed: %v", e.Revision, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Controller drives the deployment state machine for one workload. It holds
// no state of its own; everything lives in the revision store and the pool.
type Controller struct {
	store    RevisionStore
	pool     InstancePool
	health   HealthSource
	settings Settings
}

// NewController creates a rollout controller.
func NewController(store RevisionStore, instances InstancePool, health HealthSource, settings Settings) *Controller {
	return &Controller{store: store, pool: instances, health: health, settings: settings}
}

// Deploy runs one revision through Pending, Progressing, Verifying and Live.
// The previous Live revision keeps its full serving set until promotion, so
// capacity never dips below the prior steady state. On verification failure
// the new instances are retired and *RolledBackError comes back; on
// unrecoverable error, *FailedError.
func (c *Controller) Deploy(ctx context.Context, image string, replicas int) (*Revision, error) {
	rev := &Revision{
		Image:    image,
		Replicas: replicas,
		Created:  time.Now().UTC(),
	}
	if err := rev.Validate(); err != nil {
		return nil, err
	}

	previous, err := c.Live(ctx)
	if err != nil && !errors.Is(err, ErrNoLiveRevision) {
		return nil, err
	}

	rev.Number, err = c.nextNumber(ctx)
	if err != nil {
		return nil, err
	}
	rev.SetStatus(StatusPending, "accepted")
	if err := c.store.PutRevision(ctx, rev); err != nil {
		return nil, err
	}

	started, err := c.progress(ctx, rev)
	if err != nil {
		c.retireAll(ctx, started)
		return rev, c.fail(ctx, rev, err)
	}

	if err := c.verify(ctx, rev); err != nil {
		var rb *RolledBackError
		if errors.As(err, &rb) {
			// Stop the new revision; the previous Live set never moved.
			c.retireAll(ctx, started)
			rev.SetStatus(StatusRolledBack, rb.Error())
			if putErr := c.store.PutRevision(ctx, rev); putErr != nil {
				return rev, putErr
			}
			return rev, err
		}
		c.retireAll(ctx, started)
		return rev, c.fail(ctx, rev, err)
	}

	if err := c.promote(ctx, rev, previous); err != nil {
		return rev, err
	}
	return rev, nil
}

// Rollback reactivates a retained revision's image by deploying it as a new
// revision. Numbers are never reused.
func (c *Controller) Rollback(ctx context.Context, number int) (*Revision, error) {
	target, err := c.store.Revision(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", number, err)
	}
	switch target.Status {
	case StatusSuperseded, StatusRolledBack, StatusLive:
	default:
		return nil, fmt.Errorf("revision %d is %s and cannot be reactivated", number, target.Status)
	}
	return c.Deploy(ctx, target.Image, target.Replicas)
}

// ErrNoLiveRevision means no revision has been promoted yet.
var ErrNoLiveRevision = errors.New("no live revision")

// Live returns the single Live revision.
func (c *Controller) Live(ctx context.Context) (*Revision, error) {
	revs, err := c.store.ListRevisions(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(revs) - 1; i >= 0; i-- {
		if revs[i].Status == StatusLive {
			return revs[i], nil
		}
	}
	return nil, ErrNoLiveRevision
}

// History returns all retained revisions ordered by number.
func (c *Controller) History(ctx context.Context) ([]*Revision, error) {
	return c.store.ListRevisions(ctx)
}

// progress surges the new instances in while the previous revision keeps
// serving, then waits for every one of them to pass readiness.
func (c *Controller) progress(ctx context.Context, rev *Revision) ([]string, error) {
	rev.SetStatus(StatusProgressing, "surging new instances")
	if err := c.store.PutRevision(ctx, rev); err != nil {
		return nil, err
	}

	started := make([]string, rev.Replicas)
	p := pool.New().WithMaxGoroutines(c.settings.StartConcurrency).WithErrors()
	for i := range rev.Replicas {
		p.Go(func() error {
			id, err := c.pool.Start(ctx, rev)
			if err != nil {
				return err
			}
			started[i] = id
			if err := c.awaitInstanceReady(ctx, id); err != nil {
				return err
			}
			return nil
		})
	}
	err := p.Wait()

	var live []string
	for _, id := range started {
		if id != "" {
			live = append(live, id)
		}
	}
	return live, err
}

// verify holds the ready revision under observation for the full window,
// sampling the health source. Any sample above the threshold triggers
// rollback immediately.
func (c *Controller) verify(ctx context.Context, rev *Revision) error {
	rev.SetStatus(StatusVerifying, "observing health")
	if err := c.store.PutRevision(ctx, rev); err != nil {
		return err
	}

	window := time.NewTimer(c.settings.VerificationWindow)
	defer window.Stop()
	tick := time.NewTicker(c.settings.SampleInterval)
	defer tick.Stop()

	for {
		rate, err := c.health.ErrorRate(ctx, rev.Number)
		if err != nil {
			return fmt.Errorf("sample health: %w", err)
		}
		if rate > c.settings.ErrorThreshold {
			return &RolledBackError{Revision: rev.Number, ErrorRate: rate, Threshold: c.settings.ErrorThreshold}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-window.C:
			return nil
		case <-tick.C:
		}
	}
}

// promote retires the previous revision's instances, marks the new revision
// Live and demotes the old one to retained history, then prunes.
func (c *Controller) promote(ctx context.Context, rev, previous *Revision) error {
	serving, err := c.pool.Serving(ctx)
	if err != nil {
		return err
	}
	for number, ids := range serving {
		if number == rev.Number {
			continue
		}
		c.retireAll(ctx, ids)
	}

	rev.SetStatus(StatusLive, "promoted")
	if err := c.store.PutRevision(ctx, rev); err != nil {
		return err
	}
	if previous != nil {
		previous.SetStatus(StatusSuperseded, fmt.Sprintf("superseded by revision %d", rev.Number))
		if err := c.store.PutRevision(ctx, previous); err != nil {
			return err
		}
	}
	return c.prune(ctx)
}

// prune drops terminal revisions beyond the retention depth. The newest
// superseded revision is the last known good and is always kept.
func (c *Controller) prune(ctx context.Context) error {
	revs, err := c.store.ListRevisions(ctx)
	if err != nil {
		return err
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].Number > revs[j].Number })

	lastKnownGood := 0
	for _, r := range revs {
		if r.Status == StatusSuperseded {
			lastKnownGood = r.Number
			break
		}
	}

	kept := 0
	for _, r := range revs {
		if r.Status == StatusLive || !r.Status.Terminal() || r.Number == lastKnownGood {
			continue
		}
		if kept < c.settings.RetainedRevisions {
			kept++
			continue
		}
		if err := c.store.DeleteRevision(ctx, r.Number); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) awaitInstanceReady(ctx context.Context, instanceID string) error {
	deadline := time.NewTimer(c.settings.ReadinessTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.settings.ReadinessInterval)
	defer tick.Stop()

	for {
		ready, err := c.pool.Ready(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("instance %s readiness: %w", instanceID, err)
		}
		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("instance %s not ready after %s", instanceID, c.settings.ReadinessTimeout)
		case <-tick.C:
		}
	}
}

func (c *Controller) fail(ctx context.Context, rev *Revision, cause error) error {
	rev.SetStatus(StatusFailed, cause.Error())
	if err := c.store.PutRevision(ctx, rev); err != nil {
		return err
	}
	return &FailedError{Revision: rev.Number, Err: cause}
}

func (c *Controller) retireAll(ctx context.Context, ids []string) {
	for _, id := range ids {
		// Retire is idempotent; a failed retire leaves a stray instance that
		// the next promotion sweeps up.
		_ = c.pool.Retire(ctx, id)
	}
}

func (c *Controller) nextNumber(ctx context.Context) (int, error) {
	revs, err := c.store.ListRevisions(ctx)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, r := range revs {
		if r.Number >= next {
			next = r.Number + 1
		}
	}
	return next, nil
}
