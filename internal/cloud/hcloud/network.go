package hcloud

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/resource"
)

func (a *Adapter) createNetwork(ctx context.Context, id string, spec *resource.NetworkSpec) (string, error) {
	_, ipNet, err := net.ParseCIDR(spec.CIDR)
	if err != nil {
		return "", fmt.Errorf("network cidr %q: %w", spec.CIDR, err)
	}
	network, _, err := a.client.Network.Create(ctx, hcloud.NetworkCreateOpts{
		Name:    id,
		IPRange: ipNet,
		Labels:  managedLabels(id),
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(network.ID, 10), nil
}

func (a *Adapter) describeNetwork(ctx context.Context, id string) (cloud.Observation, error) {
	nets, err := a.client.Network.AllWithOpts(ctx, hcloud.NetworkListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(id)},
	})
	if err != nil {
		return cloud.Observation{}, err
	}
	if len(nets) == 0 {
		return cloud.Observation{Exists: false}, nil
	}
	// Networks have no async provisioning phase; existing means usable.
	return cloud.Observation{
		Exists: true,
		Ready:  true,
		Handle: strconv.FormatInt(nets[0].ID, 10),
		Detail: "network active",
	}, nil
}

func (a *Adapter) deleteNetwork(ctx context.Context, id string) error {
	nets, err := a.client.Network.AllWithOpts(ctx, hcloud.NetworkListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: selector(id)},
	})
	if err != nil {
		return err
	}
	for _, n := range nets {
		if _, err := a.client.Network.Delete(ctx, n); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

func (a *Adapter) createSubnet(ctx context.Context, r *resource.Resource, spec *resource.SubnetSpec) (string, error) {
	network, err := a.parentNetwork(ctx, r)
	if err != nil {
		return "", err
	}
	_, ipNet, err := net.ParseCIDR(spec.CIDR)
	if err != nil {
		return "", fmt.Errorf("subnet cidr %q: %w", spec.CIDR, err)
	}
	action, _, err := a.client.Network.AddSubnet(ctx, network, hcloud.NetworkAddSubnetOpts{
		Subnet: hcloud.NetworkSubnet{
			Type:        hcloud.NetworkSubnetTypeCloud,
			IPRange:     ipNet,
			NetworkZone: hcloud.NetworkZone(spec.Zone),
		},
	})
	if err != nil {
		return "", err
	}
	if err := a.client.Action.WaitFor(ctx, action); err != nil {
		return "", err
	}
	// Subnets have no id of their own; the handle is network id + range.
	return fmt.Sprintf("%d/%s", network.ID, spec.CIDR), nil
}

func (a *Adapter) deleteSubnet(ctx context.Context, r *resource.Resource) error {
	network, err := a.parentNetwork(ctx, r)
	if err != nil {
		// Parent already gone takes the subnet with it.
		return nil
	}
	spec := r.Spec.(*resource.SubnetSpec)
	_, ipNet, err := net.ParseCIDR(spec.CIDR)
	if err != nil {
		return err
	}
	action, _, err := a.client.Network.DeleteSubnet(ctx, network, hcloud.NetworkDeleteSubnetOpts{
		Subnet: hcloud.NetworkSubnet{IPRange: ipNet},
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return a.client.Action.WaitFor(ctx, action)
}

// describeNetworkAttachment covers subnets and route tables: both live on the
// parent network object.
func (a *Adapter) describeNetworkAttachment(ctx context.Context, r *resource.Resource) (cloud.Observation, error) {
	network, err := a.parentNetwork(ctx, r)
	if err != nil {
		return cloud.Observation{Exists: false}, nil
	}
	switch spec := r.Spec.(type) {
	case *resource.SubnetSpec:
		for _, sn := range network.Subnets {
			if sn.IPRange != nil && sn.IPRange.String() == spec.CIDR {
				return cloud.Observation{
					Exists: true,
					Ready:  true,
					Handle: fmt.Sprintf("%d/%s", network.ID, spec.CIDR),
					Detail: "subnet attached",
				}, nil
			}
		}
	case *resource.RouteTableSpec:
		have := make(map[string]bool, len(network.Routes))
		for _, rt := range network.Routes {
			if rt.Destination != nil {
				have[rt.Destination.String()+"@"+rt.Gateway.String()] = true
			}
		}
		for _, want := range spec.Routes {
			if !have[want.Destination+"@"+want.Gateway] {
				return cloud.Observation{Exists: false}, nil
			}
		}
		return cloud.Observation{
			Exists: true,
			Ready:  true,
			Handle: fmt.Sprintf("%d/routes", network.ID),
			Detail: "routes attached",
		}, nil
	}
	return cloud.Observation{Exists: false}, nil
}

func (a *Adapter) createRoutes(ctx context.Context, r *resource.Resource, spec *resource.RouteTableSpec) (string, error) {
	network, err := a.parentNetwork(ctx, r)
	if err != nil {
		return "", err
	}
	for _, rt := range spec.Routes {
		if err := a.addRoute(ctx, network, rt); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%d/routes", network.ID), nil
}

func (a *Adapter) addRoute(ctx context.Context, network *hcloud.Network, rt resource.Route) error {
	_, destNet, err := net.ParseCIDR(rt.Destination)
	if err != nil {
		return fmt.Errorf("route destination %q: %w", rt.Destination, err)
	}
	action, _, err := a.client.Network.AddRoute(ctx, network, hcloud.NetworkAddRouteOpts{
		Route: hcloud.NetworkRoute{
			Destination: destNet,
			Gateway:     net.ParseIP(rt.Gateway),
		},
	})
	if err != nil {
		return err
	}
	return a.client.Action.WaitFor(ctx, action)
}

// updateRoutes reconciles the declared route set: remove what is no longer
// declared, add what is missing.
func (a *Adapter) updateRoutes(ctx context.Context, r *resource.Resource, spec *resource.RouteTableSpec) error {
	network, err := a.parentNetwork(ctx, r)
	if err != nil {
		return err
	}
	want := make(map[string]resource.Route, len(spec.Routes))
	for _, rt := range spec.Routes {
		want[rt.Destination+"@"+rt.Gateway] = rt
	}
	for _, existing := range network.Routes {
		if existing.Destination == nil {
			continue
		}
		key := existing.Destination.String() + "@" + existing.Gateway.String()
		if _, keep := want[key]; keep {
			delete(want, key)
			continue
		}
		action, _, err := a.client.Network.DeleteRoute(ctx, network, hcloud.NetworkDeleteRouteOpts{
			Route: existing,
		})
		if err != nil {
			return err
		}
		if err := a.client.Action.WaitFor(ctx, action); err != nil {
			return err
		}
	}
	for _, rt := range want {
		if err := a.addRoute(ctx, network, rt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) deleteRoutes(ctx context.Context, r *resource.Resource) error {
	network, err := a.parentNetwork(ctx, r)
	if err != nil {
		return nil
	}
	spec := r.Spec.(*resource.RouteTableSpec)
	declared := make(map[string]bool, len(spec.Routes))
	for _, rt := range spec.Routes {
		declared[rt.Destination+"@"+rt.Gateway] = true
	}
	for _, existing := range network.Routes {
		if existing.Destination == nil || !declared[existing.Destination.String()+"@"+existing.Gateway.String()] {
			continue
		}
		action, _, err := a.client.Network.DeleteRoute(ctx, network, hcloud.NetworkDeleteRouteOpts{
			Route: existing,
		})
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		if err := a.client.Action.WaitFor(ctx, action); err != nil {
			return err
		}
	}
	return nil
}
