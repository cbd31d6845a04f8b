package kube

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/kube"
	"github.com/cloudkiln/kiln/internal/resource"
)

// fakeReleases records Helm calls without touching a cluster.
type fakeReleases struct {
	installed map[string]bool
	deployed  map[string]bool
	failWith  error
}

func newFakeReleases() *fakeReleases {
	return &fakeReleases{installed: map[string]bool{}, deployed: map[string]bool{}}
}

func (f *fakeReleases) key(name, namespace string) string { return namespace + "/" + name }

func (f *fakeReleases) InstallOrUpgrade(_ context.Context, releaseName, namespace, _, _, _ string, _ map[string]any) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.installed[f.key(releaseName, namespace)] = true
	f.deployed[f.key(releaseName, namespace)] = true
	return nil
}

func (f *fakeReleases) ReleaseStatus(releaseName, namespace string) (bool, bool, error) {
	if f.failWith != nil {
		return false, false, f.failWith
	}
	k := f.key(releaseName, namespace)
	return f.installed[k], f.deployed[k], nil
}

func (f *fakeReleases) Uninstall(releaseName, namespace string) error {
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.installed, f.key(releaseName, namespace))
	delete(f.deployed, f.key(releaseName, namespace))
	return nil
}

func newTestAdapter() (*Adapter, *k8sfake.Clientset, *fakeReleases) {
	cs := k8sfake.NewSimpleClientset()
	releases := newFakeReleases()
	return New(kube.NewWithClientset(cs), releases), cs, releases
}

func namespaceResource(t *testing.T, id string, labels map[string]string) *resource.Resource {
	t.Helper()
	return &resource.Resource{ID: id, Kind: resource.KindNamespace, Spec: &resource.NamespaceSpec{Labels: labels}}
}

func TestNamespaceLifecycle(t *testing.T) {
	adapter, _, _ := newTestAdapter()
	ctx := context.Background()
	res := namespaceResource(t, "workloads", map[string]string{"team": "platform"})

	obs, err := adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.False(t, obs.Exists)

	handle, err := adapter.Create(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, "workloads", handle)

	obs, err = adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	assert.True(t, obs.Ready)

	require.NoError(t, adapter.Delete(ctx, res))
	obs, err = adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestDeleteAbsentNamespaceIsNoError(t *testing.T) {
	adapter, _, _ := newTestAdapter()
	res := namespaceResource(t, "never-created", nil)
	assert.NoError(t, adapter.Delete(context.Background(), res))
}

func TestSecretRefProjection(t *testing.T) {
	adapter, cs, _ := newTestAdapter()
	ctx := context.Background()

	nsRes := namespaceResource(t, "apps", nil)
	_, err := adapter.Create(ctx, nsRes)
	require.NoError(t, err)

	res := &resource.Resource{
		ID:   "db-credentials",
		Kind: resource.KindSecretRef,
		Spec: &resource.SecretRefSpec{Name: "postgres-creds", Namespace: "apps", EnvVar: "DATABASE_URL"},
	}

	handle, err := adapter.Create(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, "apps/DATABASE_URL", handle)

	// Projected but the externally managed secret does not exist yet.
	obs, err := adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	assert.False(t, obs.Ready)

	_, err = cs.CoreV1().Secrets("apps").Create(ctx, &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "postgres-creds", Namespace: "apps"},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	obs, err = adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.True(t, obs.Ready)

	require.NoError(t, adapter.Delete(ctx, res))
	obs, err = adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestAddonRelease(t *testing.T) {
	adapter, _, releases := newTestAdapter()
	ctx := context.Background()

	res := &resource.Resource{
		ID:   "ingress-nginx",
		Kind: resource.KindAddon,
		Spec: &resource.AddonSpec{
			Chart:      "ingress-nginx",
			Repository: "https://kubernetes.github.io/ingress-nginx",
			Version:    "4.11.3",
			Namespace:  "ingress",
		},
	}

	handle, err := adapter.Create(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, "ingress/ingress-nginx", handle)

	obs, err := adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	assert.True(t, obs.Ready)

	// Deployed flag cleared simulates a release still rolling out.
	releases.deployed["ingress/ingress-nginx"] = false
	obs, err = adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.True(t, obs.Exists)
	assert.False(t, obs.Ready)

	require.NoError(t, adapter.Delete(ctx, res))
	obs, err = adapter.Describe(ctx, res)
	require.NoError(t, err)
	assert.False(t, obs.Exists)
}

func TestMonitoringStackUsesReleases(t *testing.T) {
	adapter, _, releases := newTestAdapter()
	res := &resource.Resource{
		ID:   "monitoring",
		Kind: resource.KindMonitoringStack,
		Spec: &resource.MonitoringStackSpec{
			Chart:      "kube-prometheus-stack",
			Repository: "https://prometheus-community.github.io/helm-charts",
			Version:    "65.1.0",
			Namespace:  "monitoring",
		},
	}

	_, err := adapter.Create(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, releases.installed["monitoring/monitoring"])
}

func TestReleaseErrorsAreFatalByDefault(t *testing.T) {
	adapter, _, releases := newTestAdapter()
	releases.failWith = errors.New("chart not found")

	res := &resource.Resource{
		ID:   "broken",
		Kind: resource.KindAddon,
		Spec: &resource.AddonSpec{Chart: "x", Repository: "https://example.com", Version: "1.0.0", Namespace: "default"},
	}

	_, err := adapter.Create(context.Background(), res)
	require.Error(t, err)
	assert.False(t, cloud.IsTransient(err))
}

func TestUnsupportedKindRejected(t *testing.T) {
	adapter, _, _ := newTestAdapter()
	res := &resource.Resource{ID: "net", Kind: resource.KindNetwork, Spec: &resource.NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"}}

	_, err := adapter.Create(context.Background(), res)
	require.Error(t, err)
	assert.False(t, cloud.IsTransient(err))
}
