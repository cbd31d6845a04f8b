// Package hcloud adapts the vendor-neutral provider capability onto the
// Hetzner Cloud API for the infrastructure kinds: Network, Subnet,
// NatGateway, RouteTable, Cluster, NodeGroup.
package hcloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/resource"
)

// labelManagedBy marks every resource this tool owns; labelResource carries
// the declared resource id so lookups never depend on provider-side naming.
const (
	labelManagedBy = "kiln"
	labelResource  = "kiln-resource"
	labelRole      = "kiln-role"
)

// Adapter implements cloud.Provider against Hetzner Cloud.
type Adapter struct {
	client *hcloud.Client
}

// New creates an adapter authenticated with the given API token.
func New(token, version string) *Adapter {
	return &Adapter{
		client: hcloud.NewClient(
			hcloud.WithToken(token),
			hcloud.WithApplication("kiln", version),
		),
	}
}

func managedLabels(id string) map[string]string {
	return map[string]string{
		"managed-by":  labelManagedBy,
		labelResource: id,
	}
}

func selector(id string) string {
	return fmt.Sprintf("%s=%s", labelResource, id)
}

// Create implements cloud.Provider.
func (a *Adapter) Create(ctx context.Context, r *resource.Resource) (string, error) {
	var (
		handle string
		err    error
	)
	switch spec := r.Spec.(type) {
	case *resource.NetworkSpec:
		handle, err = a.createNetwork(ctx, r.ID, spec)
	case *resource.SubnetSpec:
		handle, err = a.createSubnet(ctx, r, spec)
	case *resource.RouteTableSpec:
		handle, err = a.createRoutes(ctx, r, spec)
	case *resource.NatGatewaySpec:
		handle, err = a.createNatGateway(ctx, r, spec)
	case *resource.ClusterSpec:
		handle, err = a.createCluster(ctx, r, spec)
	case *resource.NodeGroupSpec:
		handle, err = a.createNodeGroup(ctx, r, spec)
	default:
		return "", cloud.FatalError("create", r.ID, fmt.Errorf("kind %s is not an infrastructure kind", r.Kind))
	}
	if err != nil {
		return "", classify("create", r.ID, err)
	}
	return handle, nil
}

// Describe implements cloud.Provider.
func (a *Adapter) Describe(ctx context.Context, r *resource.Resource) (cloud.Observation, error) {
	var (
		obs cloud.Observation
		err error
	)
	switch r.Kind {
	case resource.KindNetwork:
		obs, err = a.describeNetwork(ctx, r.ID)
	case resource.KindSubnet, resource.KindRouteTable:
		obs, err = a.describeNetworkAttachment(ctx, r)
	case resource.KindNatGateway:
		obs, err = a.describeServers(ctx, r.ID, 1)
	case resource.KindCluster:
		obs, err = a.describeCluster(ctx, r)
	case resource.KindNodeGroup:
		spec := r.Spec.(*resource.NodeGroupSpec)
		obs, err = a.describeServers(ctx, r.ID, spec.Count)
		if err == nil && obs.Exists {
			// Node groups are identified as a group, not by their first
			// server.
			obs.Handle = "group/" + r.ID
		}
	default:
		return cloud.Observation{}, cloud.FatalError("describe", r.ID, fmt.Errorf("kind %s is not an infrastructure kind", r.Kind))
	}
	if err != nil {
		return cloud.Observation{}, classify("describe", r.ID, err)
	}
	return obs, nil
}

// Update implements cloud.Provider.
func (a *Adapter) Update(ctx context.Context, r *resource.Resource) error {
	var err error
	switch spec := r.Spec.(type) {
	case *resource.RouteTableSpec:
		err = a.updateRoutes(ctx, r, spec)
	case *resource.NodeGroupSpec:
		err = a.scaleNodeGroup(ctx, r, spec)
	default:
		// The remaining infrastructure kinds have no supported in-place
		// update; spec drift on them requires destroy and recreate.
		err = fmt.Errorf("kind %s does not support in-place update", r.Kind)
	}
	if err != nil {
		return classify("update", r.ID, err)
	}
	return nil
}

// Delete implements cloud.Provider.
func (a *Adapter) Delete(ctx context.Context, r *resource.Resource) error {
	var err error
	switch r.Kind {
	case resource.KindNetwork:
		err = a.deleteNetwork(ctx, r.ID)
	case resource.KindSubnet:
		err = a.deleteSubnet(ctx, r)
	case resource.KindRouteTable:
		err = a.deleteRoutes(ctx, r)
	case resource.KindNatGateway, resource.KindNodeGroup:
		err = a.deleteServers(ctx, r.ID)
	case resource.KindCluster:
		err = a.deleteCluster(ctx, r)
	default:
		return cloud.FatalError("delete", r.ID, fmt.Errorf("kind %s is not an infrastructure kind", r.Kind))
	}
	if err != nil {
		return classify("delete", r.ID, err)
	}
	return nil
}

// classify maps Hetzner error codes onto the transient/fatal split the
// provisioner retries on.
func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var alreadyClassified *cloud.Error
	if errors.As(err, &alreadyClassified) {
		return err
	}
	if isTransientCode(err) {
		return cloud.TransientError(op, id, err)
	}
	return cloud.FatalError(op, id, err)
}

// isTransientCode covers throttling, resource locks during long-running
// actions, and conflicts from concurrent mutation.
func isTransientCode(err error) bool {
	var hcErr hcloud.Error
	if !errors.As(err, &hcErr) {
		return false
	}
	switch hcErr.Code {
	case hcloud.ErrorCodeRateLimitExceeded,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceUnavailable,
		hcloud.ErrorCodeServiceError:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	var hcErr hcloud.Error
	return errors.As(err, &hcErr) && hcErr.Code == hcloud.ErrorCodeNotFound
}

// parentNetwork resolves the network a subnet/route/server attaches to by
// scanning the resource's dependencies for a managed network.
func (a *Adapter) parentNetwork(ctx context.Context, r *resource.Resource) (*hcloud.Network, error) {
	for _, dep := range r.DependsOn {
		nets, err := a.client.Network.AllWithOpts(ctx, hcloud.NetworkListOpts{
			ListOpts: hcloud.ListOpts{LabelSelector: selector(dep)},
		})
		if err != nil {
			return nil, err
		}
		if len(nets) > 0 {
			return nets[0], nil
		}
	}
	return nil, fmt.Errorf("resource %q has no provisioned network among its dependencies", r.ID)
}
