package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkiln/kiln/internal/resource"
)

const sampleDocument = `
name: demo
resources:
  - id: net
    kind: Network
    spec:
      cidr: 10.0.0.0/16
      zone: eu-central
  - id: subnet
    kind: Subnet
    depends_on: [net]
    spec:
      cidr: 10.0.1.0/24
      zone: eu-central
  - id: cluster
    kind: Cluster
    depends_on: [subnet]
    spec:
      version: "1.31"
      location: nbg1
      control_plane_count: 3
  - id: workers
    kind: NodeGroup
    depends_on: [cluster]
    spec:
      instance_type: cx32
      count: 3
      location: nbg1
deployment:
  image: app:v2
  replicas: 3
  namespace: apps
  app_name: demo
  health_query: 'sum(rate(errors{revision="$revision"}[1m]))'
settings:
  lock_ttl: 10m
  verification_window: 90s
  error_threshold: 0.02
`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)
	assert.Equal(t, "demo", doc.Name)
	require.Len(t, doc.Resources, 4)
	require.NotNil(t, doc.Deployment)
	assert.Equal(t, "app:v2", doc.Deployment.Image)
	assert.Equal(t, 10*time.Minute, doc.Settings.LockTTL)
}

func TestBuildResourcesDecodesTypedSpecs(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	resources, err := doc.BuildResources()
	require.NoError(t, err)
	require.Len(t, resources, 4)

	net := resources[0]
	assert.Equal(t, resource.KindNetwork, net.Kind)
	spec, ok := net.Spec.(*resource.NetworkSpec)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/16", spec.CIDR)

	workers := resources[3]
	ng, ok := workers.Spec.(*resource.NodeGroupSpec)
	require.True(t, ok)
	assert.Equal(t, 3, ng.Count)
	assert.Equal(t, []string{"cluster"}, workers.DependsOn)
}

func TestParseDocumentRejectsUnknownKind(t *testing.T) {
	_, err := ParseDocument([]byte(`
name: demo
resources:
  - id: thing
    kind: Volume
    spec: {}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestBuildResourcesRejectsUnknownSpecField(t *testing.T) {
	doc, err := ParseDocument([]byte(`
name: demo
resources:
  - id: net
    kind: Network
    spec:
      cidr: 10.0.0.0/16
      zone: eu-central
      flux_capacitor: true
`))
	require.NoError(t, err)

	_, err = doc.BuildResources()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flux_capacitor")
}

func TestParseDocumentRejectsDuplicateIDs(t *testing.T) {
	_, err := ParseDocument([]byte(`
name: demo
resources:
  - id: net
    kind: Network
    spec: {cidr: 10.0.0.0/16, zone: eu-central}
  - id: net
    kind: Network
    spec: {cidr: 10.1.0.0/16, zone: eu-central}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseDocumentRejectsBadDeployment(t *testing.T) {
	for _, doc := range []string{
		"name: demo\ndeployment:\n  replicas: 3\n  namespace: apps\n",
		"name: demo\ndeployment:\n  image: app:v1\n  replicas: 0\n  namespace: apps\n",
		"name: demo\ndeployment:\n  image: app:v1\n  replicas: 3\n",
	} {
		_, err := ParseDocument([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestSettingsFallBackToDefaults(t *testing.T) {
	doc, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	ps := doc.ProvisionSettings()
	assert.Equal(t, 10*time.Minute, ps.LockTTL, "document value wins")
	assert.NotZero(t, ps.PollTimeout, "unset fields take defaults")

	rs := doc.RolloutSettings()
	assert.Equal(t, 90*time.Second, rs.VerificationWindow)
	assert.Equal(t, 0.02, rs.ErrorThreshold)
	assert.NotZero(t, rs.ReadinessTimeout)
}
