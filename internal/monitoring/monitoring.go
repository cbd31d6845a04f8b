// Package monitoring expands the optional monitoring block of a desired-state
// document into concrete resources: a namespace plus a kube-prometheus-stack
// release pinned behind the cluster it observes.
package monitoring

import (
	"fmt"

	"github.com/cloudkiln/kiln/internal/config"
	"github.com/cloudkiln/kiln/internal/resource"
)

const (
	// DefaultChart is the upstream chart bundling Prometheus, Grafana,
	// Alertmanager and the exporters they scrape.
	DefaultChart = "kube-prometheus-stack"

	// DefaultRepository hosts the prometheus-community charts.
	DefaultRepository = "https://prometheus-community.github.io/helm-charts"

	// DefaultNamespace is where the stack lands unless the document says
	// otherwise.
	DefaultNamespace = "monitoring"

	namespaceResourceID = "monitoring-namespace"
	stackResourceID     = "monitoring-stack"
)

// Expand appends monitoring resources to the declared set. The stack depends
// on the declared cluster so it is never installed before a kubeconfig can
// exist. A disabled or absent monitoring block returns the input unchanged.
func Expand(declared []*resource.Resource, cfg *config.MonitoringConfig) ([]*resource.Resource, error) {
	if cfg == nil || !cfg.Enabled {
		return declared, nil
	}

	clusterID := ""
	for _, r := range declared {
		if r.Kind == resource.KindCluster {
			clusterID = r.ID
			break
		}
	}
	if clusterID == "" {
		return nil, fmt.Errorf("monitoring is enabled but no Cluster resource is declared")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	ns := &resource.Resource{
		ID:        namespaceResourceID,
		Kind:      resource.KindNamespace,
		DependsOn: []string{clusterID},
		Spec: &resource.NamespaceSpec{
			Labels: map[string]string{"kiln.io/component": "monitoring"},
		},
	}

	stack := &resource.Resource{
		ID:        stackResourceID,
		Kind:      resource.KindMonitoringStack,
		DependsOn: []string{clusterID, namespaceResourceID},
		Spec: &resource.MonitoringStackSpec{
			Chart:      DefaultChart,
			Repository: DefaultRepository,
			Version:    cfg.ChartVersion,
			Namespace:  namespace,
			Values:     mergeValues(defaultValues(), cfg.Values),
		},
	}

	return append(declared, ns, stack), nil
}

// defaultValues tunes the chart for a small managed cluster: scrape every
// ServiceMonitor regardless of release labels and keep the resource
// footprint modest.
func defaultValues() map[string]any {
	return map[string]any{
		"defaultRules": map[string]any{
			"create": true,
		},
		"prometheus": map[string]any{
			"prometheusSpec": map[string]any{
				"retention": "15d",
				"serviceMonitorSelectorNilUsesHelmValues": false,
				"podMonitorSelectorNilUsesHelmValues":     false,
				"ruleSelectorNilUsesHelmValues":           false,
				"resources": map[string]any{
					"requests": map[string]any{"cpu": "250m", "memory": "512Mi"},
					"limits":   map[string]any{"memory": "2Gi"},
				},
			},
		},
		"grafana": map[string]any{
			"enabled": true,
			"testFramework": map[string]any{
				"enabled": false,
			},
			"sidecar": map[string]any{
				"dashboards":  map[string]any{"enabled": true},
				"datasources": map[string]any{"enabled": true},
			},
		},
		"alertmanager": map[string]any{
			"enabled": true,
		},
		"nodeExporter": map[string]any{
			"enabled": true,
		},
		"kubeStateMetrics": map[string]any{
			"enabled": true,
		},
	}
}

// mergeValues overlays user values onto the defaults. Maps merge recursively,
// anything else from the overlay replaces the default wholesale.
func mergeValues(base, overlay map[string]any) map[string]any {
	if len(overlay) == 0 {
		return base
	}
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if baseMap, ok := out[k].(map[string]any); ok {
			if overlayMap, ok := v.(map[string]any); ok {
				out[k] = mergeValues(baseMap, overlayMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}
