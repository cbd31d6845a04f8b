package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid(), "kind %s should be valid", k)
	}
	assert.False(t, Kind("Volume").Valid())
	assert.False(t, Kind("").Valid())
}

func TestInfraKind(t *testing.T) {
	assert.True(t, KindNetwork.InfraKind())
	assert.True(t, KindNodeGroup.InfraKind())
	assert.False(t, KindNamespace.InfraKind())
	assert.False(t, KindMonitoringStack.InfraKind())
}

func TestResourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		res     Resource
		wantErr string
	}{
		{
			name: "valid network",
			res: Resource{
				ID:   "net",
				Kind: KindNetwork,
				Spec: &NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"},
			},
		},
		{
			name:    "empty id",
			res:     Resource{Kind: KindNetwork, Spec: &NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"}},
			wantErr: "id must not be empty",
		},
		{
			name:    "unknown kind",
			res:     Resource{ID: "x", Kind: "Volume", Spec: &NetworkSpec{}},
			wantErr: "unknown kind",
		},
		{
			name:    "missing spec",
			res:     Resource{ID: "x", Kind: KindNetwork},
			wantErr: "missing spec",
		},
		{
			name:    "kind mismatch",
			res:     Resource{ID: "x", Kind: KindSubnet, Spec: &NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"}},
			wantErr: "spec is for kind",
		},
		{
			name: "self dependency",
			res: Resource{
				ID:        "net",
				Kind:      KindNetwork,
				Spec:      &NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"},
				DependsOn: []string{"net"},
			},
			wantErr: "depends on itself",
		},
		{
			name:    "invalid spec",
			res:     Resource{ID: "net", Kind: KindNetwork, Spec: &NetworkSpec{CIDR: "not-a-cidr", Zone: "eu-central"}},
			wantErr: "invalid cidr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResourceJSONRoundTrip(t *testing.T) {
	orig := &Resource{
		ID:   "workers",
		Kind: KindNodeGroup,
		Spec: &NodeGroupSpec{InstanceType: "cx32", Count: 3, Location: "fsn1"},
		DependsOn: []string{
			"cluster",
		},
		Status:         StatusReady,
		ProviderHandle: "ng-1234",
		SpecHash:       42,
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var got Resource
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.Kind, got.Kind)
	assert.Equal(t, orig.DependsOn, got.DependsOn)
	assert.Equal(t, orig.Status, got.Status)
	assert.Equal(t, orig.ProviderHandle, got.ProviderHandle)
	assert.Equal(t, orig.SpecHash, got.SpecHash)

	spec, ok := got.Spec.(*NodeGroupSpec)
	require.True(t, ok, "spec should decode to NodeGroupSpec")
	assert.Equal(t, 3, spec.Count)
	assert.Equal(t, "cx32", spec.InstanceType)
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &Resource{
		ID:        "subnet",
		Kind:      KindSubnet,
		Spec:      &SubnetSpec{CIDR: "10.0.1.0/24", Zone: "eu-central"},
		DependsOn: []string{"net"},
		Status:    StatusReady,
	}

	cp := orig.Clone()
	cp.Status = StatusError
	cp.DependsOn[0] = "other"

	assert.Equal(t, StatusReady, orig.Status)
	assert.Equal(t, "net", orig.DependsOn[0])
}

func TestHashSpecStable(t *testing.T) {
	a := &ClusterSpec{Version: "1.31", Location: "nbg1", ControlPlaneCount: 3}
	b := &ClusterSpec{Version: "1.31", Location: "nbg1", ControlPlaneCount: 3}

	ha, err := HashSpec(a)
	require.NoError(t, err)
	hb, err := HashSpec(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.ControlPlaneCount = 5
	hb2, err := HashSpec(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb2, "changed spec must change hash")
}

func TestNewSpecCoversAllKinds(t *testing.T) {
	for _, k := range Kinds() {
		spec, err := NewSpec(k)
		require.NoError(t, err, "kind %s", k)
		assert.Equal(t, k, spec.Kind())
	}
	_, err := NewSpec("Volume")
	assert.Error(t, err)
}
