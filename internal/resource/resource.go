// Package resource defines the declarative resource model: the closed set of
// resource kinds, their per-kind specs, and the status lifecycle every
// resource moves through during convergence.
package resource

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Kind identifies a resource type. The set is closed: the document loader
// rejects any kind not listed here before graph construction.
type Kind string

const (
	KindNetwork         Kind = "Network"
	KindSubnet          Kind = "Subnet"
	KindNatGateway      Kind = "NatGateway"
	KindRouteTable      Kind = "RouteTable"
	KindCluster         Kind = "Cluster"
	KindNodeGroup       Kind = "NodeGroup"
	KindAddon           Kind = "Addon"
	KindNamespace       Kind = "Namespace"
	KindSecretRef       Kind = "SecretRef"
	KindMonitoringStack Kind = "MonitoringStack"
)

// Kinds lists every valid kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindNetwork, KindSubnet, KindNatGateway, KindRouteTable,
		KindCluster, KindNodeGroup, KindAddon, KindNamespace,
		KindSecretRef, KindMonitoringStack,
	}
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// InfraKind reports whether the kind is provisioned against the cloud
// provider API. Non-infra kinds are realized inside the cluster and require
// the Cluster resource to be Ready.
func (k Kind) InfraKind() bool {
	switch k {
	case KindNetwork, KindSubnet, KindNatGateway, KindRouteTable, KindCluster, KindNodeGroup:
		return true
	}
	return false
}

// InPlaceUpdatable reports whether a spec change can be applied to the live
// resource. Kinds not listed here are replaced: destroyed and recreated with
// a new provider handle.
func (k Kind) InPlaceUpdatable() bool {
	switch k {
	case KindRouteTable, KindNodeGroup, KindAddon, KindNamespace, KindSecretRef, KindMonitoringStack:
		return true
	}
	return false
}

// Status is the observed lifecycle state of a resource.
type Status string

const (
	// StatusAbsent means the resource is declared but does not exist yet.
	StatusAbsent Status = "Absent"
	// StatusPlanned means the resource was scheduled this run but not
	// attempted, usually because an upstream dependency failed.
	StatusPlanned Status = "Planned"
	// StatusCreating means the external create call succeeded and the
	// resource is being polled for readiness.
	StatusCreating Status = "Creating"
	// StatusReady means the provider reports the resource as usable.
	// A resource may be Ready only when all its dependencies are Ready.
	StatusReady Status = "Ready"
	// StatusDegraded means the readiness poll timed out. Degraded blocks
	// all dependents and is reported, never silently retried.
	StatusDegraded Status = "Degraded"
	// StatusDestroying means a destroy run is removing the resource.
	StatusDestroying Status = "Destroying"
	// StatusError means a non-transient provider error occurred.
	StatusError Status = "Error"
)

// Resource is one declared unit of infrastructure together with its
// last-observed state.
type Resource struct {
	ID        string   `json:"id"`
	Kind      Kind     `json:"kind"`
	Spec      Spec     `json:"-"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Status    Status   `json:"status"`

	// ProviderHandle is the provider-assigned identity, set exactly once at
	// the Creating -> Ready transition. Replacement requires destroy and
	// recreate, which produces a new handle.
	ProviderHandle string `json:"providerHandle,omitempty"`

	// SpecHash is the digest of the spec as of the last successful
	// create/update, used for drift detection between runs.
	SpecHash uint64 `json:"specHash,omitempty"`

	// StatusDetail carries the provider's explanation for Degraded or Error.
	StatusDetail string `json:"statusDetail,omitempty"`

	// UpdatedAt is when the status last changed.
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a deep-enough copy for handing out of a store: callers may
// mutate the returned value without affecting the stored one. Spec values are
// shared because specs are immutable once loaded.
func (r *Resource) Clone() *Resource {
	cp := *r
	cp.DependsOn = append([]string(nil), r.DependsOn...)
	return &cp
}

// SetStatus records a status transition with its timestamp and detail.
func (r *Resource) SetStatus(s Status, detail string) {
	r.Status = s
	r.StatusDetail = detail
	r.UpdatedAt = time.Now().UTC()
}

// Validate checks the resource envelope and its spec. Dependency references
// are checked at graph construction, not here.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("resource id must not be empty")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("resource %q: unknown kind %q", r.ID, r.Kind)
	}
	if r.Spec == nil {
		return fmt.Errorf("resource %q: missing spec", r.ID)
	}
	if r.Spec.Kind() != r.Kind {
		return fmt.Errorf("resource %q: spec is for kind %q, declared kind is %q", r.ID, r.Spec.Kind(), r.Kind)
	}
	if err := r.Spec.Validate(); err != nil {
		return fmt.Errorf("resource %q: %w", r.ID, err)
	}
	for _, dep := range r.DependsOn {
		if dep == r.ID {
			return fmt.Errorf("resource %q: depends on itself", r.ID)
		}
	}
	return nil
}

// resourceJSON is the persisted wire form. Spec is stored as a kind-tagged
// raw message so each store backend stays schema-agnostic.
type resourceJSON struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Spec           json.RawMessage `json:"spec,omitempty"`
	DependsOn      []string        `json:"dependsOn,omitempty"`
	Status         Status          `json:"status"`
	ProviderHandle string          `json:"providerHandle,omitempty"`
	SpecHash       uint64          `json:"specHash,omitempty"`
	StatusDetail   string          `json:"statusDetail,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt,omitempty"`
}

// MarshalJSON encodes the resource including its kind-specific spec.
func (r *Resource) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if r.Spec != nil {
		data, err := json.Marshal(r.Spec)
		if err != nil {
			return nil, fmt.Errorf("marshal spec of %q: %w", r.ID, err)
		}
		raw = data
	}
	return json.Marshal(resourceJSON{
		ID:             r.ID,
		Kind:           r.Kind,
		Spec:           raw,
		DependsOn:      r.DependsOn,
		Status:         r.Status,
		ProviderHandle: r.ProviderHandle,
		SpecHash:       r.SpecHash,
		StatusDetail:   r.StatusDetail,
		UpdatedAt:      r.UpdatedAt,
	})
}

// UnmarshalJSON decodes the resource, dispatching the spec by kind.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var wire resourceJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.ID = wire.ID
	r.Kind = wire.Kind
	r.DependsOn = wire.DependsOn
	r.Status = wire.Status
	r.ProviderHandle = wire.ProviderHandle
	r.SpecHash = wire.SpecHash
	r.StatusDetail = wire.StatusDetail
	r.UpdatedAt = wire.UpdatedAt
	if len(wire.Spec) == 0 {
		r.Spec = nil
		return nil
	}
	spec, err := UnmarshalSpec(wire.Kind, wire.Spec)
	if err != nil {
		return fmt.Errorf("unmarshal spec of %q: %w", wire.ID, err)
	}
	r.Spec = spec
	return nil
}

// SortByID orders resources lexicographically by id, in place. Stores and
// planners use it so snapshots and plans are reproducible.
func SortByID(rs []*Resource) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
