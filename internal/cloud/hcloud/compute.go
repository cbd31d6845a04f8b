package hcloud

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/resource"
)

const (
	natGatewayServerType = "cx22"
	controlPlaneImage    = "debian-12"
	natGatewayUserData   = "#cloud-config\nruncmd:\n  - sysctl -w net.ipv4.ip_forward=1\n"
)

func (a *Adapter) createNatGateway(ctx context.Context, r *resource.Resource, spec *resource.NatGatewaySpec) (string, error) {
	labels := managedLabels(r.ID)
	labels[labelRole] = "nat-gateway"

	serverType, _, err := a.client.ServerType.Get(ctx, natGatewayServerType)
	if err != nil {
		return "", err
	}
	image, _, err := a.client.Image.GetByNameAndArchitecture(ctx, controlPlaneImage, hcloud.ArchitectureX86)
	if err != nil {
		return "", err
	}
	location, _, err := a.client.Location.Get(ctx, spec.Location)
	if err != nil {
		return "", err
	}

	result, _, err := a.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       r.ID,
		ServerType: serverType,
		Image:      image,
		Location:   location,
		Labels:     labels,
		UserData:   natGatewayUserData,
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(result.Server.ID, 10), nil
}

// createCluster provisions the control plane: a load balancer fronting
// ControlPlaneCount servers in a spread placement group. The returned handle
// is the load balancer id, the cluster's stable identity.
func (a *Adapter) createCluster(ctx context.Context, r *resource.Resource, spec *resource.ClusterSpec) (string, error) {
	labels := managedLabels(r.ID)
	labels[labelRole] = "control-plane"

	pg, _, err := a.client.PlacementGroup.Create(ctx, hcloud.PlacementGroupCreateOpts{
		Name:   r.ID + "-control-plane",
		Type:   hcloud.PlacementGroupTypeSpread,
		Labels: labels,
	})
	if err != nil {
		return "", err
	}

	lbType, _, err := a.client.LoadBalancerType.Get(ctx, "lb11")
	if err != nil {
		return "", err
	}
	location, _, err := a.client.Location.Get(ctx, spec.Location)
	if err != nil {
		return "", err
	}
	lb, _, err := a.client.LoadBalancer.Create(ctx, hcloud.LoadBalancerCreateOpts{
		Name:             r.ID,
		LoadBalancerType: lbType,
		Location:         location,
		Labels:           labels,
	})
	if err != nil {
		return "", err
	}

	for i := 0; i < spec.ControlPlaneCount; i++ {
		if err := a.createClusterServer(ctx, r, spec, pg.PlacementGroup, i); err != nil {
			return "", err
		}
	}
	return strconv.FormatInt(lb.LoadBalancer.ID, 10), nil
}

func (a *Adapter) createClusterServer(ctx context.Context, r *resource.Resource, spec *resource.ClusterSpec, pg *hcloud.PlacementGroup, index int) error {
	labels := managedLabels(r.ID)
	labels[labelRole] = "control-plane"

	serverType, _, err := a.client.ServerType.Get(ctx, "cx32")
	if err != nil {
		return err
	}
	image, _, err := a.client.Image.GetByNameAndArchitecture(ctx, controlPlaneImage, hcloud.ArchitectureX86)
	if err != nil {
		return err
	}
	location, _, err := a.client.Location.Get(ctx, spec.Location)
	if err != nil {
		return err
	}
	_, _, err = a.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:           fmt.Sprintf("%s-cp-%d", r.ID, index+1),
		ServerType:     serverType,
		Image:          image,
		Location:       location,
		Labels:         labels,
		PlacementGroup: pg,
	})
	return err
}

func (a *Adapter) describeCluster(ctx context.Context, r *resource.Resource) (cloud.Observation, error) {
	spec := r.Spec.(*resource.ClusterSpec)

	lbs, err := a.client.LoadBalancer.AllWithOpts(ctx, hcloud.LoadBalancerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(r.ID)},
	})
	if err != nil {
		return cloud.Observation{}, err
	}
	if len(lbs) == 0 {
		return cloud.Observation{Exists: false}, nil
	}

	obs, err := a.describeServers(ctx, r.ID, spec.ControlPlaneCount)
	if err != nil {
		return cloud.Observation{}, err
	}
	if !obs.Exists || !obs.Ready {
		return obs, nil
	}
	return cloud.Observation{
		Exists: true,
		Ready:  true,
		Handle: strconv.FormatInt(lbs[0].ID, 10),
		Detail: "control plane running",
	}, nil
}

// describeServers reports readiness for label-owned server groups: the group
// is ready when the expected number of servers all run.
func (a *Adapter) describeServers(ctx context.Context, id string, want int) (cloud.Observation, error) {
	servers, err := a.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(id)},
	})
	if err != nil {
		return cloud.Observation{}, err
	}
	if len(servers) == 0 {
		return cloud.Observation{Exists: false}, nil
	}
	running := 0
	for _, s := range servers {
		if s.Status == hcloud.ServerStatusRunning {
			running++
		}
	}
	if len(servers) < want || running < want {
		return cloud.Observation{
			Exists: true,
			Ready:  false,
			Detail: fmt.Sprintf("%d/%d servers running", running, want),
		}, nil
	}
	// A single-server group's handle is the server id, matching what create
	// returned for the NAT gateway kind.
	return cloud.Observation{
		Exists: true,
		Ready:  true,
		Handle: strconv.FormatInt(servers[0].ID, 10),
		Detail: fmt.Sprintf("%d servers running", running),
	}, nil
}

func (a *Adapter) createNodeGroup(ctx context.Context, r *resource.Resource, spec *resource.NodeGroupSpec) (string, error) {
	for i := 0; i < spec.Count; i++ {
		if err := a.createWorker(ctx, r, spec, i+1); err != nil {
			return "", err
		}
	}
	return "group/" + r.ID, nil
}

func (a *Adapter) createWorker(ctx context.Context, r *resource.Resource, spec *resource.NodeGroupSpec, index int) error {
	labels := managedLabels(r.ID)
	labels[labelRole] = "worker"

	serverType, _, err := a.client.ServerType.Get(ctx, spec.InstanceType)
	if err != nil {
		return err
	}
	image, _, err := a.client.Image.GetByNameAndArchitecture(ctx, controlPlaneImage, hcloud.ArchitectureX86)
	if err != nil {
		return err
	}
	location, _, err := a.client.Location.Get(ctx, spec.Location)
	if err != nil {
		return err
	}
	_, _, err = a.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       fmt.Sprintf("%s-worker-%d", r.ID, index),
		ServerType: serverType,
		Image:      image,
		Location:   location,
		Labels:     labels,
	})
	return err
}

// scaleNodeGroup converges the worker count: surplus servers are removed
// newest-first, missing ones are created with the next free index.
func (a *Adapter) scaleNodeGroup(ctx context.Context, r *resource.Resource, spec *resource.NodeGroupSpec) error {
	servers, err := a.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(r.ID)},
	})
	if err != nil {
		return err
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })

	for len(servers) > spec.Count {
		last := servers[len(servers)-1]
		if _, _, err := a.client.Server.DeleteWithResult(ctx, last); err != nil && !isNotFound(err) {
			return err
		}
		servers = servers[:len(servers)-1]
	}
	for i := len(servers); i < spec.Count; i++ {
		if err := a.createWorker(ctx, r, spec, i+1); err != nil {
			return err
		}
	}
	return nil
}

// deleteServers removes every server owned by the resource id.
func (a *Adapter) deleteServers(ctx context.Context, id string) error {
	servers, err := a.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(id)},
	})
	if err != nil {
		return err
	}
	for _, s := range servers {
		if _, _, err := a.client.Server.DeleteWithResult(ctx, s); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

// deleteCluster removes servers, the load balancer, and the placement group.
func (a *Adapter) deleteCluster(ctx context.Context, r *resource.Resource) error {
	if err := a.deleteServers(ctx, r.ID); err != nil {
		return err
	}
	lbs, err := a.client.LoadBalancer.AllWithOpts(ctx, hcloud.LoadBalancerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(r.ID)},
	})
	if err != nil {
		return err
	}
	for _, lb := range lbs {
		if _, err := a.client.LoadBalancer.Delete(ctx, lb); err != nil && !isNotFound(err) {
			return err
		}
	}
	pgs, err := a.client.PlacementGroup.AllWithOpts(ctx, hcloud.PlacementGroupListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(r.ID)},
	})
	if err != nil {
		return err
	}
	for _, pg := range pgs {
		if _, err := a.client.PlacementGroup.Delete(ctx, pg); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}
