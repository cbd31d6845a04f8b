// Package fake provides a scriptable in-memory provider for tests. It records
// every call and can inject failures and delayed readiness per resource.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/resource"
)

// Call is one recorded provider invocation.
type Call struct {
	Op         string
	ResourceID string
}

// entry tracks one provisioned resource inside the fake.
type entry struct {
	handle        string
	describesLeft int
	updateCount   int
}

// Provider is an in-memory cloud.Provider.
type Provider struct {
	mu    sync.Mutex
	calls []Call
	seq   int
	live  map[string]*entry

	// failures maps "op/resourceID" to the error each matching call returns.
	failures map[string]error

	// notReadyPolls maps resource id to the number of Describe calls that
	// report not-ready before the resource becomes Ready.
	notReadyPolls map[string]int

	// deleteHandles remembers the handle each deleted resource carried, so
	// tests can assert identity flowed through to deletion.
	deleteHandles map[string]string
}

// New creates an empty fake provider.
func New() *Provider {
	return &Provider{
		live:          make(map[string]*entry),
		failures:      make(map[string]error),
		notReadyPolls: make(map[string]int),
		deleteHandles: make(map[string]string),
	}
}

// FailWith makes every op call for resourceID return err. Use the op names
// "create", "describe", "update", "delete".
func (p *Provider) FailWith(op, resourceID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op+"/"+resourceID] = err
}

// ClearFailure removes an injected failure.
func (p *Provider) ClearFailure(op, resourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, op+"/"+resourceID)
}

// DelayReadiness makes the first n Describe calls after create report
// not-ready, modeling eventual consistency.
func (p *Provider) DelayReadiness(resourceID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notReadyPolls[resourceID] = n
}

// Calls returns the recorded invocations in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsFor returns how many times op was invoked for resourceID.
func (p *Provider) CallsFor(op, resourceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op && c.ResourceID == resourceID {
			n++
		}
	}
	return n
}

// Exists reports whether the fake currently holds the resource.
func (p *Provider) Exists(resourceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[resourceID]
	return ok
}

// UpdateCount returns how many updates were applied to resourceID.
func (p *Provider) UpdateCount(resourceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.live[resourceID]
	if !ok {
		return 0
	}
	return e.updateCount
}

func (p *Provider) record(op, id string) error {
	p.calls = append(p.calls, Call{Op: op, ResourceID: id})
	if err, ok := p.failures[op+"/"+id]; ok {
		return err
	}
	return nil
}

// Create implements cloud.Provider.
func (p *Provider) Create(_ context.Context, r *resource.Resource) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("create", r.ID); err != nil {
		return "", err
	}
	if _, ok := p.live[r.ID]; ok {
		return "", cloud.FatalError("create", r.ID, fmt.Errorf("already exists"))
	}
	p.seq++
	e := &entry{
		handle:        fmt.Sprintf("%s-%04d", r.Kind, p.seq),
		describesLeft: p.notReadyPolls[r.ID],
	}
	p.live[r.ID] = e
	return e.handle, nil
}

// Describe implements cloud.Provider.
func (p *Provider) Describe(_ context.Context, r *resource.Resource) (cloud.Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("describe", r.ID); err != nil {
		return cloud.Observation{}, err
	}
	e, ok := p.live[r.ID]
	if !ok {
		return cloud.Observation{Exists: false}, nil
	}
	if e.describesLeft > 0 {
		e.describesLeft--
		return cloud.Observation{Exists: true, Ready: false, Handle: e.handle, Detail: "provisioning"}, nil
	}
	return cloud.Observation{Exists: true, Ready: true, Handle: e.handle, Detail: "running"}, nil
}

// Update implements cloud.Provider.
func (p *Provider) Update(_ context.Context, r *resource.Resource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("update", r.ID); err != nil {
		return err
	}
	e, ok := p.live[r.ID]
	if !ok {
		return cloud.FatalError("update", r.ID, fmt.Errorf("does not exist"))
	}
	e.updateCount++
	return nil
}

// Delete implements cloud.Provider.
func (p *Provider) Delete(_ context.Context, r *resource.Resource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("delete", r.ID); err != nil {
		return err
	}
	p.deleteHandles[r.ID] = r.ProviderHandle
	delete(p.live, r.ID)
	return nil
}

// DeletedHandle returns the provider handle the resource carried when it was
// deleted, or "" if it never was.
func (p *Provider) DeletedHandle(resourceID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deleteHandles[resourceID]
}
