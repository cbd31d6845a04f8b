// Package cloud defines the vendor-neutral provider capability the
// provisioner converges against, plus the error classification that decides
// what gets retried. Concrete adapters live in subpackages: hcloud for the
// infrastructure kinds, kube for in-cluster kinds, fake for tests.
package cloud

import (
	"context"
	"errors"

	"github.com/cloudkiln/kiln/internal/resource"
)

// Observation is the provider's view of one resource.
type Observation struct {
	// Exists reports whether the provider knows the resource at all.
	Exists bool
	// Ready reports the kind-specific readiness signal.
	Ready bool
	// Handle is the provider-assigned identity of the observed resource,
	// empty when it does not exist. Adoption of pre-existing external state
	// depends on it.
	Handle string
	// Detail is the provider's human-readable status.
	Detail string
}

// Provider executes external calls for one resource at a time. Adapters map
// these four verbs onto whatever call shapes their vendor exposes.
type Provider interface {
	// Create provisions the resource and returns the provider-assigned
	// handle. Readiness may lag; the caller polls Describe.
	Create(ctx context.Context, r *resource.Resource) (handle string, err error)

	// Describe reports existence and readiness for the resource.
	Describe(ctx context.Context, r *resource.Resource) (Observation, error)

	// Update applies an in-place spec change to an existing resource.
	Update(ctx context.Context, r *resource.Resource) error

	// Delete removes the resource. Deleting an absent resource is not an
	// error; destroy runs must be idempotent.
	Delete(ctx context.Context, r *resource.Resource) error
}

// Unconfigured returns a provider whose every call fails fatally with the
// given reason. It fills a Router slot when the credentials for that half of
// the fleet are absent, so the failure names the missing configuration
// instead of panicking.
func Unconfigured(reason string) Provider {
	return unconfigured{reason: reason}
}

type unconfigured struct {
	reason string
}

func (u unconfigured) Create(_ context.Context, r *resource.Resource) (string, error) {
	return "", FatalError("create", r.ID, errors.New(u.reason))
}

func (u unconfigured) Describe(_ context.Context, r *resource.Resource) (Observation, error) {
	return Observation{}, FatalError("describe", r.ID, errors.New(u.reason))
}

func (u unconfigured) Update(_ context.Context, r *resource.Resource) error {
	return FatalError("update", r.ID, errors.New(u.reason))
}

func (u unconfigured) Delete(_ context.Context, r *resource.Resource) error {
	return FatalError("delete", r.ID, errors.New(u.reason))
}

// Router dispatches per resource kind: infrastructure kinds go to the cloud
// adapter, in-cluster kinds to the cluster adapter.
type Router struct {
	Infra   Provider
	Cluster Provider
}

func (r *Router) pick(res *resource.Resource) Provider {
	if res.Kind.InfraKind() {
		return r.Infra
	}
	return r.Cluster
}

// Create implements Provider.
func (r *Router) Create(ctx context.Context, res *resource.Resource) (string, error) {
	return r.pick(res).Create(ctx, res)
}

// Describe implements Provider.
func (r *Router) Describe(ctx context.Context, res *resource.Resource) (Observation, error) {
	return r.pick(res).Describe(ctx, res)
}

// Update implements Provider.
func (r *Router) Update(ctx context.Context, res *resource.Resource) error {
	return r.pick(res).Update(ctx, res)
}

// Delete implements Provider.
func (r *Router) Delete(ctx context.Context, res *resource.Resource) error {
	return r.pick(res).Delete(ctx, res)
}
