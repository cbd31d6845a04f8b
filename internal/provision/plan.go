package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudkiln/kiln/internal/graph"
	"github.com/cloudkiln/kiln/internal/resource"
)

// ActionType is what a run would do to one resource.
type ActionType string

const (
	// ActionCreate provisions a resource that does not exist yet, or resumes
	// one a previous run left short of Ready.
	ActionCreate ActionType = "create"
	// ActionUpdate applies a spec change in place.
	ActionUpdate ActionType = "update"
	// ActionReplace destroys and recreates a resource whose kind does not
	// support in-place updates. The provider handle changes.
	ActionReplace ActionType = "replace"
	// ActionNoop leaves a Ready, unchanged resource alone.
	ActionNoop ActionType = "noop"
	// ActionDestroy marks a resource recorded in state but no longer
	// declared. Apply runs report it; only a destroy run removes it.
	ActionDestroy ActionType = "destroy"
)

// Action is one planned step.
type Action struct {
	ResourceID string
	Kind       resource.Kind
	Type       ActionType
	Reason     string
}

// Plan is the ordered diff between the desired document and recorded state.
// Computing a plan never calls the external provider.
type Plan struct {
	// Actions follow graph order; destroy entries come last.
	Actions []Action
}

// Changes reports whether applying the plan would touch the provider.
func (p *Plan) Changes() bool {
	for _, a := range p.Actions {
		if a.Type != ActionNoop && a.Type != ActionDestroy {
			return true
		}
	}
	return false
}

// Counts tallies actions by type.
func (p *Plan) Counts() map[ActionType]int {
	out := make(map[ActionType]int)
	for _, a := range p.Actions {
		out[a.Type]++
	}
	return out
}

// validate checks every declared resource and builds the dependency graph.
// Any problem, including a cycle, surfaces as *ValidationError before any
// external call is possible.
func validate(desired []*resource.Resource) (*graph.Graph, error) {
	var issues []string
	for _, r := range desired {
		if err := r.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("resource %q: %v", r.ID, err))
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	g, err := graph.Build(desired)
	if err != nil {
		var cycle *graph.CycleError
		if errors.As(err, &cycle) {
			return nil, &ValidationError{Issues: []string{cycle.Error()}}
		}
		return nil, &ValidationError{Issues: []string{err.Error()}}
	}
	return g, nil
}

// Plan computes the diff for the desired document without taking the lock or
// calling the provider. Drift is detected by comparing recorded spec hashes.
func (p *Provisioner) Plan(ctx context.Context, desired []*resource.Resource) (*Plan, error) {
	g, err := validate(desired)
	if err != nil {
		return nil, err
	}

	current, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	recorded := make(map[string]*resource.Resource, len(current))
	for _, r := range current {
		recorded[r.ID] = r
	}

	plan := &Plan{}
	for _, id := range g.Order() {
		r, _ := g.Resource(id)
		action, err := diffOne(r, recorded[id])
		if err != nil {
			return nil, err
		}
		plan.Actions = append(plan.Actions, action)
	}

	// Recorded resources no longer declared are flagged for the next destroy
	// run; apply never removes them.
	declared := make(map[string]bool, g.Len())
	for _, id := range g.Order() {
		declared[id] = true
	}
	for _, r := range current {
		if !declared[r.ID] {
			plan.Actions = append(plan.Actions, Action{
				ResourceID: r.ID,
				Kind:       r.Kind,
				Type:       ActionDestroy,
				Reason:     "no longer declared",
			})
		}
	}
	return plan, nil
}

func diffOne(desired, rec *resource.Resource) (Action, error) {
	a := Action{ResourceID: desired.ID, Kind: desired.Kind}

	hash, err := resource.HashSpec(desired.Spec)
	if err != nil {
		return a, fmt.Errorf("resource %q: %w", desired.ID, err)
	}

	switch {
	case rec == nil || rec.Status == resource.StatusAbsent:
		a.Type = ActionCreate
		a.Reason = "not recorded in state"
	case rec.Status != resource.StatusReady:
		a.Type = ActionCreate
		a.Reason = fmt.Sprintf("previous run left status %s", rec.Status)
	case rec.SpecHash != hash:
		if desired.Kind.InPlaceUpdatable() {
			a.Type = ActionUpdate
			a.Reason = "spec changed"
		} else {
			a.Type = ActionReplace
			a.Reason = "spec changed; kind does not update in place"
		}
	default:
		a.Type = ActionNoop
		a.Reason = "up to date"
	}
	return a, nil
}
