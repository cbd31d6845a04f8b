// Package provision implements the convergence engine: plan computation,
// single-flight locking, graph-ordered create/update with bounded retry and
// readiness polling, and reverse-ordered destroy.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/graph"
	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/state"
	"github.com/cloudkiln/kiln/internal/util/retry"
)

// Settings are the run-level knobs. No hidden defaults exist for the
// verification and polling windows; everything here is explicit
// configuration.
type Settings struct {
	// LockTTL is the lease length stamped on the acquired state lock.
	LockTTL time.Duration
	// RequestTimeout bounds a single external call.
	RequestTimeout time.Duration
	// PollTimeout bounds the whole readiness wait for one resource. Expiry
	// records Degraded, never Ready.
	PollTimeout time.Duration
	// PollInterval spaces readiness probes.
	PollInterval time.Duration
	// RetryAttempts caps attempts per external call, including the first.
	RetryAttempts int
	// RetryInitialDelay is the backoff before the second attempt.
	RetryInitialDelay time.Duration
	// RetryMaxDelay caps the backoff growth.
	RetryMaxDelay time.Duration
}

// DefaultSettings returns the documented defaults. The config layer overrides
// them from the desired-state document.
func DefaultSettings() Settings {
	return Settings{
		LockTTL:           30 * time.Minute,
		RequestTimeout:    2 * time.Minute,
		PollTimeout:       15 * time.Minute,
		PollInterval:      10 * time.Second,
		RetryAttempts:     5,
		RetryInitialDelay: 2 * time.Second,
		RetryMaxDelay:     30 * time.Second,
	}
}

// Provisioner drives convergence runs against one state store and one
// provider. It is not safe for concurrent use; the state lock makes that
// restriction system-wide anyway.
type Provisioner struct {
	store    state.Store
	provider cloud.Provider
	observer Observer
	settings Settings
	holderID string
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option {
	return func(p *Provisioner) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithSettings overrides the default run settings.
func WithSettings(s Settings) Option {
	return func(p *Provisioner) { p.settings = s }
}

// WithHolderID fixes the lock holder identity, mainly for tests.
func WithHolderID(id string) Option {
	return func(p *Provisioner) {
		if id != "" {
			p.holderID = id
		}
	}
}

// New creates a Provisioner.
func New(store state.Store, provider cloud.Provider, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:    store,
		provider: provider,
		observer: NopObserver{},
		settings: DefaultSettings(),
		holderID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HolderID is the identity this provisioner stamps on the state lock.
func (p *Provisioner) HolderID() string { return p.holderID }

// errDegraded marks a readiness-poll expiry internally. It never escapes
// Converge; the resource surfaces in PartialFailure.Degraded instead.
var errDegraded = errors.New("readiness poll window expired")

// Converge reconciles the desired document: validates, locks, walks the
// graph order and creates or updates each resource, polling readiness before
// anything that depends on it is attempted. Resources recorded in state but
// no longer declared are reported, not destroyed.
//
// A fatal resource error halts the walk; untouched resources keep status
// Planned and dependents are reported as skipped. The aggregate comes back
// as *PartialFailure.
func (p *Provisioner) Converge(ctx context.Context, desired []*resource.Resource) error {
	g, err := validate(desired)
	if err != nil {
		return err
	}

	unlock, err := p.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	plan, err := p.Plan(ctx, desired)
	if err != nil {
		return err
	}
	if err := p.hydrate(ctx, g); err != nil {
		return err
	}
	actions := make(map[string]Action, len(plan.Actions))
	for _, a := range plan.Actions {
		actions[a.ResourceID] = a
	}

	p.observer.Event(Event{Type: EventRunStarted, Message: "converge started",
		Fields: map[string]string{"resources": fmt.Sprintf("%d", g.Len())}})

	// Record intent for new resources before touching the provider so a
	// cancelled run still leaves accurate status behind. Resources awaiting
	// an update keep their Ready record until the update lands.
	for _, id := range g.Order() {
		if actions[id].Type != ActionCreate {
			continue
		}
		r, _ := g.Resource(id)
		if err := p.markPlanned(ctx, r); err != nil {
			return err
		}
	}

	failure := &PartialFailure{}
	blocked := make(map[string]string) // resource id -> blocking dependency

	order := g.Order()
	for i, id := range order {
		select {
		case <-ctx.Done():
			failure.Skipped = append(failure.Skipped, remainingIDs(order[i:], actions)...)
			return p.finish(failure, ctx.Err())
		default:
		}

		p.observer.Progress("converge", i+1, len(order))

		if dep, ok := blocked[id]; ok {
			failure.Skipped = append(failure.Skipped, id)
			p.observer.Event(Event{Type: EventResourceSkipped, Resource: id,
				Message: "skipped", Fields: map[string]string{"blockedBy": dep}})
			continue
		}

		action := actions[id]
		if action.Type == ActionNoop {
			continue
		}

		r, _ := g.Resource(id)
		err := p.apply(ctx, action, r)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errDegraded):
			failure.Degraded = append(failure.Degraded, id)
			p.blockDependents(g, id, blocked)
		case ctx.Err() != nil:
			failure.Skipped = append(failure.Skipped, remainingIDs(order[i+1:], actions)...)
			return p.finish(failure, ctx.Err())
		default:
			var pe *ProvisioningError
			if !errors.As(err, &pe) {
				pe = &ProvisioningError{ResourceID: id, Op: string(action.Type), Err: err}
			}
			failure.Failed = append(failure.Failed, pe)
			// Fatal errors halt the walk; everything after stays Planned.
			failure.Skipped = append(failure.Skipped, remainingIDs(order[i+1:], actions)...)
			return p.finish(failure, nil)
		}
	}

	for _, a := range plan.Actions {
		if a.Type == ActionDestroy {
			p.observer.Event(Event{Type: EventDestroyPending, Resource: a.ResourceID,
				Message: "recorded but no longer declared; run destroy to remove"})
		}
	}

	return p.finish(failure, nil)
}

// Destroy converges to the empty document: every recorded resource is
// removed in reverse dependency order, leaving the store empty on success.
func (p *Provisioner) Destroy(ctx context.Context) error {
	unlock, err := p.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if len(current) == 0 {
		return nil
	}

	order := destroyOrder(current)

	p.observer.Event(Event{Type: EventRunStarted, Message: "destroy started",
		Fields: map[string]string{"resources": fmt.Sprintf("%d", len(order))}})

	failure := &PartialFailure{}
	for i, r := range order {
		select {
		case <-ctx.Done():
			return p.finish(failure, ctx.Err())
		default:
		}

		p.observer.Progress("destroy", i+1, len(order))

		if err := p.deleteOne(ctx, r); err != nil {
			var pe *ProvisioningError
			if !errors.As(err, &pe) {
				pe = &ProvisioningError{ResourceID: r.ID, Op: "delete", Err: err}
			}
			failure.Failed = append(failure.Failed, pe)
			return p.finish(failure, nil)
		}
	}

	return p.finish(failure, nil)
}

// destroyOrder is the reverse of the creation order the recorded resources
// imply. Recorded dependency edges are still present in state, so the graph
// is rebuilt from them.
func destroyOrder(current []*resource.Resource) []*resource.Resource {
	g, err := graph.Build(current)
	if err != nil {
		// State predating a dependency edit may no longer form a clean
		// graph; fall back to reverse id order rather than refusing to
		// clean up.
		resource.SortByID(current)
		out := make([]*resource.Resource, len(current))
		for i, r := range current {
			out[len(current)-1-i] = r
		}
		return out
	}
	ids := g.ReverseOrder()
	out := make([]*resource.Resource, 0, len(ids))
	for _, id := range ids {
		r, _ := g.Resource(id)
		out = append(out, r)
	}
	return out
}

func (p *Provisioner) lock(ctx context.Context) (func(), error) {
	err := p.store.AcquireLock(ctx, p.holderID, p.settings.LockTTL)
	if err != nil {
		if errors.Is(err, state.ErrLockConflict) {
			holder, lookupErr := p.store.Lock(ctx)
			if lookupErr != nil {
				holder = nil
			}
			return nil, &LockConflictError{Holder: holder}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	p.observer.Event(Event{Type: EventLockAcquired, Message: "state lock acquired",
		Fields: map[string]string{"holder": p.holderID}})

	return func() {
		// Release must run even when the run context is gone.
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.store.ReleaseLock(rctx, p.holderID); err != nil {
			p.observer.Event(Event{Type: EventRunFailed,
				Message: fmt.Sprintf("release lock: %v", err)})
			return
		}
		p.observer.Event(Event{Type: EventLockReleased, Message: "state lock released"})
	}, nil
}

func (p *Provisioner) finish(failure *PartialFailure, cancelErr error) error {
	if cancelErr != nil {
		p.observer.Event(Event{Type: EventRunFailed,
			Message: fmt.Sprintf("run cancelled: %v", cancelErr)})
		return cancelErr
	}
	if len(failure.Failed) == 0 && len(failure.Degraded) == 0 && len(failure.Skipped) == 0 {
		p.observer.Event(Event{Type: EventRunCompleted, Message: "run completed"})
		return nil
	}
	p.observer.Event(Event{Type: EventRunFailed, Message: failure.Error()})
	return failure
}

// apply executes one planned action against the provider.
func (p *Provisioner) apply(ctx context.Context, action Action, r *resource.Resource) error {
	switch action.Type {
	case ActionCreate:
		return p.createOne(ctx, r)
	case ActionUpdate:
		return p.updateOne(ctx, r)
	case ActionReplace:
		if err := p.deleteOne(ctx, r); err != nil {
			return err
		}
		fresh := r.Clone()
		fresh.ProviderHandle = ""
		return p.createOne(ctx, fresh)
	default:
		return nil
	}
}

// createOne provisions a single resource and waits for readiness.
// Existing external state is adopted, which keeps repeated runs idempotent
// even when the store lags reality.
func (p *Provisioner) createOne(ctx context.Context, r *resource.Resource) error {
	obs, err := p.describe(ctx, r)
	if err != nil {
		return p.fail(ctx, r, "describe", err)
	}

	if !obs.Exists {
		p.observer.Event(Event{Type: EventResourceCreating, Resource: r.ID,
			Message: "creating", Fields: map[string]string{"kind": string(r.Kind)}})
		if err := p.record(ctx, r, resource.StatusCreating, "creating"); err != nil {
			return err
		}

		var handle string
		err = p.callProvider(ctx, func(cctx context.Context) error {
			h, err := p.provider.Create(cctx, r)
			if err == nil {
				handle = h
			}
			return err
		})
		if err != nil {
			return p.fail(ctx, r, "create", err)
		}

		r.ProviderHandle = handle
		if err := p.record(ctx, r, resource.StatusCreating, "created, awaiting readiness"); err != nil {
			return err
		}
		p.observer.Event(Event{Type: EventResourceCreated, Resource: r.ID,
			Message: "created", Fields: map[string]string{"handle": handle}})
	} else {
		p.observer.Event(Event{Type: EventResourceExists, Resource: r.ID,
			Message: "already exists, adopting"})
		if r.ProviderHandle == "" {
			r.ProviderHandle = obs.Handle
		}
		if err := p.record(ctx, r, resource.StatusCreating, "adopted, awaiting readiness"); err != nil {
			return err
		}
	}

	return p.awaitReady(ctx, r)
}

// updateOne applies an in-place change and re-verifies readiness.
func (p *Provisioner) updateOne(ctx context.Context, r *resource.Resource) error {
	p.observer.Event(Event{Type: EventResourceUpdating, Resource: r.ID, Message: "updating"})

	err := p.callProvider(ctx, func(cctx context.Context) error {
		return p.provider.Update(cctx, r)
	})
	if err != nil {
		return p.fail(ctx, r, "update", err)
	}

	p.observer.Event(Event{Type: EventResourceUpdated, Resource: r.ID, Message: "updated"})
	return p.awaitReady(ctx, r)
}

// deleteOne removes one resource externally and from state.
func (p *Provisioner) deleteOne(ctx context.Context, r *resource.Resource) error {
	p.observer.Event(Event{Type: EventResourceDeleting, Resource: r.ID, Message: "deleting"})
	if err := p.record(ctx, r, resource.StatusDestroying, "destroying"); err != nil {
		return err
	}

	err := p.callProvider(ctx, func(cctx context.Context) error {
		return p.provider.Delete(cctx, r)
	})
	if err != nil {
		return p.fail(ctx, r, "delete", err)
	}

	if err := p.store.Delete(ctx, r.ID); err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("remove %q from state: %w", r.ID, err)
	}
	p.observer.Event(Event{Type: EventResourceDeleted, Resource: r.ID, Message: "deleted"})
	return nil
}

// awaitReady polls Describe until the resource reports ready or the poll
// window expires. Expiry records Degraded and returns errDegraded.
// Transient describe errors keep the poll alive; fatal ones end it.
func (p *Provisioner) awaitReady(ctx context.Context, r *resource.Resource) error {
	deadline := time.NewTimer(p.settings.PollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(p.settings.PollInterval)
	defer tick.Stop()

	for {
		obs, err := p.describeOnce(ctx, r)
		switch {
		case err != nil && transientFor(ctx, err):
			// Keep polling; the window bounds the wait.
		case err != nil && ctx.Err() != nil:
			// Run cancelled mid-poll; the resource is not at fault.
			return ctx.Err()
		case err != nil:
			return p.fail(ctx, r, "describe", err)
		case obs.Exists && obs.Ready:
			if err := p.record(ctx, r, resource.StatusReady, obs.Detail); err != nil {
				return err
			}
			p.observer.Event(Event{Type: EventResourceReady, Resource: r.ID, Message: "ready"})
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if err := p.record(ctx, r, resource.StatusDegraded, "readiness poll window expired"); err != nil {
				return err
			}
			p.observer.Event(Event{Type: EventResourceDegraded, Resource: r.ID,
				Message: "readiness poll window expired"})
			return errDegraded
		case <-tick.C:
		}
	}
}

// describe wraps Describe with the standard retry envelope.
func (p *Provisioner) describe(ctx context.Context, r *resource.Resource) (cloud.Observation, error) {
	var obs cloud.Observation
	err := p.callProvider(ctx, func(cctx context.Context) error {
		o, err := p.provider.Describe(cctx, r)
		if err == nil {
			obs = o
		}
		return err
	})
	return obs, err
}

// describeOnce is a single probe used inside the poll loop, which supplies
// its own pacing.
func (p *Provisioner) describeOnce(ctx context.Context, r *resource.Resource) (cloud.Observation, error) {
	cctx, cancel := context.WithTimeout(ctx, p.settings.RequestTimeout)
	defer cancel()
	return p.provider.Describe(cctx, r)
}

// callProvider runs one external call under the request timeout and the
// transient-error retry policy.
func (p *Provisioner) callProvider(ctx context.Context, call func(context.Context) error) error {
	return retry.Do(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, p.settings.RequestTimeout)
		defer cancel()
		return call(cctx)
	},
		retry.WithMaxAttempts(p.settings.RetryAttempts),
		retry.WithInitialDelay(p.settings.RetryInitialDelay),
		retry.WithMaxDelay(p.settings.RetryMaxDelay),
		retry.WithRetryable(func(err error) bool { return transientFor(ctx, err) }),
	)
}

// transientFor treats a per-call timeout as transient as long as the run
// itself is still live. Only classified-transient provider errors are
// retried otherwise.
func transientFor(ctx context.Context, err error) bool {
	if cloud.IsTransient(err) {
		return true
	}
	return ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
}

// fail records status Error with the triggering detail and wraps the error.
// A cancelled run skips the record; the resource keeps its in-flight status.
func (p *Provisioner) fail(ctx context.Context, r *resource.Resource, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if recErr := p.record(ctx, r, resource.StatusError, err.Error()); recErr != nil {
		return recErr
	}
	p.observer.Event(Event{Type: EventResourceFailed, Resource: r.ID,
		Message: fmt.Sprintf("%s failed: %v", op, err)})
	return &ProvisioningError{ResourceID: r.ID, Op: op, Err: err}
}

// hydrate copies recorded provider handles onto the desired resources. The
// handle is assigned at creation and never changes afterward; the document
// cannot know it, so every status write during the walk would otherwise
// erase it.
func (p *Provisioner) hydrate(ctx context.Context, g *graph.Graph) error {
	current, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	for _, rec := range current {
		if rec.ProviderHandle == "" {
			continue
		}
		if r, ok := g.Resource(rec.ID); ok && r.ProviderHandle == "" {
			r.ProviderHandle = rec.ProviderHandle
		}
	}
	return nil
}

// markPlanned stamps intent into the store before any provider call.
func (p *Provisioner) markPlanned(ctx context.Context, r *resource.Resource) error {
	return p.record(ctx, r, resource.StatusPlanned, "pending")
}

// record persists one status transition, refreshing the spec hash.
func (p *Provisioner) record(ctx context.Context, r *resource.Resource, s resource.Status, detail string) error {
	hash, err := resource.HashSpec(r.Spec)
	if err != nil {
		return err
	}
	r.SpecHash = hash
	r.SetStatus(s, detail)
	if err := p.store.Put(ctx, r); err != nil {
		return fmt.Errorf("record %q status %s: %w", r.ID, s, err)
	}
	return nil
}

func (p *Provisioner) blockDependents(g *graph.Graph, id string, blocked map[string]string) {
	for _, dep := range g.Dependents(id) {
		if _, ok := blocked[dep]; !ok {
			blocked[dep] = id
		}
	}
}

func remainingIDs(ids []string, actions map[string]Action) []string {
	var out []string
	for _, id := range ids {
		if actions[id].Type == ActionNoop {
			continue
		}
		out = append(out, id)
	}
	return out
}
