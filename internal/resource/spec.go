package resource

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/cespare/xxhash/v2"
)

// Spec is the desired configuration of a resource. Each kind has exactly one
// concrete spec type; the field set per kind is closed and validated before
// any graph construction or provider call.
type Spec interface {
	// Kind returns the kind this spec configures.
	Kind() Kind

	// Validate checks the spec's own fields. Cross-resource references are
	// validated by the graph builder.
	Validate() error
}

// NetworkSpec declares a private network.
type NetworkSpec struct {
	CIDR string `json:"cidr" yaml:"cidr" mapstructure:"cidr"`
	Zone string `json:"zone" yaml:"zone" mapstructure:"zone"`
}

func (s *NetworkSpec) Kind() Kind { return KindNetwork }

func (s *NetworkSpec) Validate() error {
	if err := validCIDR(s.CIDR); err != nil {
		return fmt.Errorf("network cidr: %w", err)
	}
	if s.Zone == "" {
		return fmt.Errorf("network zone is required")
	}
	return nil
}

// SubnetSpec declares a subnet inside a network.
type SubnetSpec struct {
	CIDR string `json:"cidr" yaml:"cidr" mapstructure:"cidr"`
	Zone string `json:"zone" yaml:"zone" mapstructure:"zone"`
}

func (s *SubnetSpec) Kind() Kind { return KindSubnet }

func (s *SubnetSpec) Validate() error {
	if err := validCIDR(s.CIDR); err != nil {
		return fmt.Errorf("subnet cidr: %w", err)
	}
	if s.Zone == "" {
		return fmt.Errorf("subnet zone is required")
	}
	return nil
}

// NatGatewaySpec declares an egress gateway for instances without public IPs.
type NatGatewaySpec struct {
	// Location is the provider location to place the gateway in.
	Location string `json:"location" yaml:"location" mapstructure:"location"`
}

func (s *NatGatewaySpec) Kind() Kind { return KindNatGateway }

func (s *NatGatewaySpec) Validate() error {
	if s.Location == "" {
		return fmt.Errorf("nat gateway location is required")
	}
	return nil
}

// RouteTableSpec declares routes attached to a network.
type RouteTableSpec struct {
	Routes []Route `json:"routes" yaml:"routes" mapstructure:"routes"`
}

// Route is one destination/gateway pair.
type Route struct {
	Destination string `json:"destination" yaml:"destination" mapstructure:"destination"`
	Gateway     string `json:"gateway" yaml:"gateway" mapstructure:"gateway"`
}

func (s *RouteTableSpec) Kind() Kind { return KindRouteTable }

func (s *RouteTableSpec) Validate() error {
	if len(s.Routes) == 0 {
		return fmt.Errorf("route table requires at least one route")
	}
	for i, rt := range s.Routes {
		if err := validCIDR(rt.Destination); err != nil {
			return fmt.Errorf("route %d destination: %w", i, err)
		}
		if net.ParseIP(rt.Gateway) == nil {
			return fmt.Errorf("route %d gateway: %q is not an IP address", i, rt.Gateway)
		}
	}
	return nil
}

// ClusterSpec declares the managed container cluster control plane.
type ClusterSpec struct {
	Version           string `json:"version" yaml:"version" mapstructure:"version"`
	Location          string `json:"location" yaml:"location" mapstructure:"location"`
	ControlPlaneCount int    `json:"controlPlaneCount" yaml:"control_plane_count" mapstructure:"control_plane_count"`
}

func (s *ClusterSpec) Kind() Kind { return KindCluster }

func (s *ClusterSpec) Validate() error {
	if s.Version == "" {
		return fmt.Errorf("cluster version is required")
	}
	if s.Location == "" {
		return fmt.Errorf("cluster location is required")
	}
	if s.ControlPlaneCount < 1 {
		return fmt.Errorf("cluster control_plane_count must be at least 1, got %d", s.ControlPlaneCount)
	}
	return nil
}

// NodeGroupSpec declares a group of worker nodes joined to the cluster.
type NodeGroupSpec struct {
	InstanceType string `json:"instanceType" yaml:"instance_type" mapstructure:"instance_type"`
	Count        int    `json:"count" yaml:"count" mapstructure:"count"`
	Location     string `json:"location" yaml:"location" mapstructure:"location"`
}

func (s *NodeGroupSpec) Kind() Kind { return KindNodeGroup }

func (s *NodeGroupSpec) Validate() error {
	if s.InstanceType == "" {
		return fmt.Errorf("node group instance_type is required")
	}
	if s.Count < 1 {
		return fmt.Errorf("node group count must be at least 1, got %d", s.Count)
	}
	return nil
}

// AddonSpec declares a cluster addon installed from a chart.
type AddonSpec struct {
	Chart      string         `json:"chart" yaml:"chart" mapstructure:"chart"`
	Repository string         `json:"repository" yaml:"repository" mapstructure:"repository"`
	Version    string         `json:"version" yaml:"version" mapstructure:"version"`
	Namespace  string         `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Values     map[string]any `json:"values,omitempty" yaml:"values" mapstructure:"values"`
}

func (s *AddonSpec) Kind() Kind { return KindAddon }

func (s *AddonSpec) Validate() error {
	if s.Chart == "" {
		return fmt.Errorf("addon chart is required")
	}
	if s.Namespace == "" {
		return fmt.Errorf("addon namespace is required")
	}
	return nil
}

// NamespaceSpec declares a cluster namespace.
type NamespaceSpec struct {
	Labels map[string]string `json:"labels,omitempty" yaml:"labels" mapstructure:"labels"`
}

func (s *NamespaceSpec) Kind() Kind { return KindNamespace }

func (s *NamespaceSpec) Validate() error { return nil }

// SecretRefSpec declares an opaque reference to an externally managed secret.
// Only the reference is handled; the secret value is never read or logged.
type SecretRefSpec struct {
	// Name is the external secret identifier handed to the workload runtime.
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// Namespace is the cluster namespace the reference is projected into.
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	// EnvVar is the environment variable name the workload reads it from.
	EnvVar string `json:"envVar" yaml:"env_var" mapstructure:"env_var"`
}

func (s *SecretRefSpec) Kind() Kind { return KindSecretRef }

func (s *SecretRefSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("secret ref name is required")
	}
	if s.Namespace == "" {
		return fmt.Errorf("secret ref namespace is required")
	}
	return nil
}

// MonitoringStackSpec declares the observability stack as an ordinary chart
// install. The monitoring package expands the document's monitoring stanza
// into resources carrying this spec.
type MonitoringStackSpec struct {
	Chart      string         `json:"chart" yaml:"chart" mapstructure:"chart"`
	Repository string         `json:"repository" yaml:"repository" mapstructure:"repository"`
	Version    string         `json:"version" yaml:"version" mapstructure:"version"`
	Namespace  string         `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	Values     map[string]any `json:"values,omitempty" yaml:"values" mapstructure:"values"`
}

func (s *MonitoringStackSpec) Kind() Kind { return KindMonitoringStack }

func (s *MonitoringStackSpec) Validate() error {
	if s.Chart == "" {
		return fmt.Errorf("monitoring stack chart is required")
	}
	if s.Namespace == "" {
		return fmt.Errorf("monitoring stack namespace is required")
	}
	return nil
}

// NewSpec returns the zero spec value for a kind, used by document and state
// decoders to dispatch into the closed schema.
func NewSpec(k Kind) (Spec, error) {
	switch k {
	case KindNetwork:
		return &NetworkSpec{}, nil
	case KindSubnet:
		return &SubnetSpec{}, nil
	case KindNatGateway:
		return &NatGatewaySpec{}, nil
	case KindRouteTable:
		return &RouteTableSpec{}, nil
	case KindCluster:
		return &ClusterSpec{}, nil
	case KindNodeGroup:
		return &NodeGroupSpec{}, nil
	case KindAddon:
		return &AddonSpec{}, nil
	case KindNamespace:
		return &NamespaceSpec{}, nil
	case KindSecretRef:
		return &SecretRefSpec{}, nil
	case KindMonitoringStack:
		return &MonitoringStackSpec{}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", k)
}

// UnmarshalSpec decodes a kind-tagged raw spec into its concrete type.
func UnmarshalSpec(k Kind, data []byte) (Spec, error) {
	spec, err := NewSpec(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// HashSpec computes the drift-detection digest of a spec. JSON encoding of
// the concrete struct is deterministic, so equal specs hash equal.
func HashSpec(s Spec) (uint64, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("hash spec: %w", err)
	}
	return xxhash.Sum64(data), nil
}

func validCIDR(cidr string) error {
	if cidr == "" {
		return fmt.Errorf("cidr is required")
	}
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return fmt.Errorf("invalid cidr %q: %w", cidr, err)
	}
	return nil
}
