// Package kube adapts the in-cluster resource kinds onto the cluster API:
// namespaces and secret references through client-go, addon and monitoring
// charts through Helm releases.
package kube

import (
	"context"
	"fmt"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/kube"
	"github.com/cloudkiln/kiln/internal/resource"
)

// Releases is the Helm surface the adapter needs. *kube.HelmClient satisfies
// it; tests swap in a recorder.
type Releases interface {
	InstallOrUpgrade(ctx context.Context, releaseName, namespace, repoURL, chartName, version string, values map[string]any) error
	ReleaseStatus(releaseName, namespace string) (exists, deployed bool, err error)
	Uninstall(releaseName, namespace string) error
}

// Adapter implements cloud.Provider for the non-infrastructure kinds. It only
// makes sense once the cluster resource is Ready and a kubeconfig exists.
type Adapter struct {
	client   *kube.Client
	releases Releases
}

// New builds the adapter from an API client and a Helm client.
func New(client *kube.Client, releases Releases) *Adapter {
	return &Adapter{client: client, releases: releases}
}

// Create implements cloud.Provider.
func (a *Adapter) Create(ctx context.Context, r *resource.Resource) (string, error) {
	switch spec := r.Spec.(type) {
	case *resource.NamespaceSpec:
		if err := a.client.EnsureNamespace(ctx, r.ID, spec.Labels); err != nil {
			return "", a.classify("create", r.ID, err)
		}
		return r.ID, nil
	case *resource.SecretRefSpec:
		// Only the reference is projected; the secret value stays with the
		// external manager and is never read here.
		if err := a.client.ProjectSecretRef(ctx, spec.Namespace, spec.EnvVar, spec.Name); err != nil {
			return "", a.classify("create", r.ID, err)
		}
		return spec.Namespace + "/" + spec.EnvVar, nil
	case *resource.AddonSpec:
		if err := a.releases.InstallOrUpgrade(ctx, r.ID, spec.Namespace, spec.Repository, spec.Chart, spec.Version, spec.Values); err != nil {
			return "", a.classify("create", r.ID, err)
		}
		return releaseHandle(r.ID, spec.Namespace), nil
	case *resource.MonitoringStackSpec:
		if err := a.releases.InstallOrUpgrade(ctx, r.ID, spec.Namespace, spec.Repository, spec.Chart, spec.Version, spec.Values); err != nil {
			return "", a.classify("create", r.ID, err)
		}
		return releaseHandle(r.ID, spec.Namespace), nil
	default:
		return "", cloud.FatalError("create", r.ID, fmt.Errorf("unsupported kind %s", r.Kind))
	}
}

// Describe implements cloud.Provider.
func (a *Adapter) Describe(ctx context.Context, r *resource.Resource) (cloud.Observation, error) {
	switch spec := r.Spec.(type) {
	case *resource.NamespaceSpec:
		active, err := a.client.NamespaceActive(ctx, r.ID)
		if err != nil {
			return cloud.Observation{}, a.classify("describe", r.ID, err)
		}
		if !active {
			return cloud.Observation{Detail: "namespace absent"}, nil
		}
		return cloud.Observation{Exists: true, Ready: true, Handle: r.ID, Detail: "namespace active"}, nil
	case *resource.SecretRefSpec:
		projected, secretPresent, err := a.client.SecretRefProjected(ctx, spec.Namespace, spec.EnvVar, spec.Name)
		if err != nil {
			return cloud.Observation{}, a.classify("describe", r.ID, err)
		}
		handle := spec.Namespace + "/" + spec.EnvVar
		switch {
		case !projected:
			return cloud.Observation{Detail: "reference not projected"}, nil
		case !secretPresent:
			return cloud.Observation{Exists: true, Handle: handle, Detail: "referenced secret not present"}, nil
		default:
			return cloud.Observation{Exists: true, Ready: true, Handle: handle, Detail: "reference projected"}, nil
		}
	case *resource.AddonSpec:
		return a.describeRelease(r.ID, spec.Namespace)
	case *resource.MonitoringStackSpec:
		return a.describeRelease(r.ID, spec.Namespace)
	default:
		return cloud.Observation{}, cloud.FatalError("describe", r.ID, fmt.Errorf("unsupported kind %s", r.Kind))
	}
}

func (a *Adapter) describeRelease(id, namespace string) (cloud.Observation, error) {
	exists, deployed, err := a.releases.ReleaseStatus(id, namespace)
	if err != nil {
		return cloud.Observation{}, a.classify("describe", id, err)
	}
	if !exists {
		return cloud.Observation{Detail: "release absent"}, nil
	}
	if !deployed {
		return cloud.Observation{Exists: true, Handle: releaseHandle(id, namespace), Detail: "release not yet deployed"}, nil
	}
	return cloud.Observation{Exists: true, Ready: true, Handle: releaseHandle(id, namespace), Detail: "release deployed"}, nil
}

// Update implements cloud.Provider. Namespaces re-apply labels, secret
// references re-project, charts upgrade in place.
func (a *Adapter) Update(ctx context.Context, r *resource.Resource) error {
	switch spec := r.Spec.(type) {
	case *resource.NamespaceSpec:
		if err := a.client.EnsureNamespace(ctx, r.ID, spec.Labels); err != nil {
			return a.classify("update", r.ID, err)
		}
		return nil
	case *resource.SecretRefSpec:
		if err := a.client.ProjectSecretRef(ctx, spec.Namespace, spec.EnvVar, spec.Name); err != nil {
			return a.classify("update", r.ID, err)
		}
		return nil
	case *resource.AddonSpec:
		if err := a.releases.InstallOrUpgrade(ctx, r.ID, spec.Namespace, spec.Repository, spec.Chart, spec.Version, spec.Values); err != nil {
			return a.classify("update", r.ID, err)
		}
		return nil
	case *resource.MonitoringStackSpec:
		if err := a.releases.InstallOrUpgrade(ctx, r.ID, spec.Namespace, spec.Repository, spec.Chart, spec.Version, spec.Values); err != nil {
			return a.classify("update", r.ID, err)
		}
		return nil
	default:
		return cloud.FatalError("update", r.ID, fmt.Errorf("unsupported kind %s", r.Kind))
	}
}

// Delete implements cloud.Provider. Absent targets are not errors.
func (a *Adapter) Delete(ctx context.Context, r *resource.Resource) error {
	switch spec := r.Spec.(type) {
	case *resource.NamespaceSpec:
		if err := a.client.DeleteNamespace(ctx, r.ID); err != nil {
			return a.classify("delete", r.ID, err)
		}
		return nil
	case *resource.SecretRefSpec:
		if err := a.client.RemoveSecretRef(ctx, spec.Namespace, spec.EnvVar); err != nil {
			return a.classify("delete", r.ID, err)
		}
		return nil
	case *resource.AddonSpec:
		if err := a.releases.Uninstall(r.ID, spec.Namespace); err != nil {
			return a.classify("delete", r.ID, err)
		}
		return nil
	case *resource.MonitoringStackSpec:
		if err := a.releases.Uninstall(r.ID, spec.Namespace); err != nil {
			return a.classify("delete", r.ID, err)
		}
		return nil
	default:
		return cloud.FatalError("delete", r.ID, fmt.Errorf("unsupported kind %s", r.Kind))
	}
}

func (a *Adapter) classify(op, id string, err error) error {
	if kube.IsRetryable(err) {
		return cloud.TransientError(op, id, err)
	}
	return cloud.FatalError(op, id, err)
}

func releaseHandle(name, namespace string) string {
	return namespace + "/" + name
}
