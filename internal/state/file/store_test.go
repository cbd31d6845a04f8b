package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "kiln.state.json"))
	require.NoError(t, err)
	return s
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestStatePersistsAcrossStoreInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiln.state.json")

	s1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, &resource.Resource{
		ID:             "cluster",
		Kind:           resource.KindCluster,
		Spec:           &resource.ClusterSpec{Version: "1.31", Location: "nbg1", ControlPlaneCount: 3},
		Status:         resource.StatusReady,
		ProviderHandle: "cl-99",
	}))
	require.NoError(t, s1.PutRevision(ctx, &rollout.Revision{Number: 1, Image: "app:v1", Replicas: 3, Status: rollout.StatusLive}))

	// A fresh store over the same path sees the same state.
	s2, err := New(path)
	require.NoError(t, err)

	got, err := s2.Get(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, "cl-99", got.ProviderHandle)
	spec, ok := got.Spec.(*resource.ClusterSpec)
	require.True(t, ok)
	assert.Equal(t, 3, spec.ControlPlaneCount)

	rev, err := s2.Revision(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rollout.StatusLive, rev.Status)
}

func TestLockSurvivesProcessBoundary(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiln.state.json")

	s1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s1.AcquireLock(ctx, "run-1", time.Minute))

	s2, err := New(path)
	require.NoError(t, err)
	assert.ErrorIs(t, s2.AcquireLock(ctx, "run-2", time.Minute), state.ErrLockConflict)
	assert.ErrorIs(t, s2.ReleaseLock(ctx, "run-2"), state.ErrNotHolder)

	cleared, err := s2.ForceUnlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-1", cleared.HolderID)
	require.NoError(t, s2.AcquireLock(ctx, "run-2", time.Minute))
}

func TestListOrderedAndEmptyAfterDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Put(ctx, &resource.Resource{
			ID:   id,
			Kind: resource.KindNamespace,
			Spec: &resource.NamespaceSpec{},
		}))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Delete(ctx, id))
	}
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGuardFileRemovedAfterWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiln.state.json")
	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, &resource.Resource{
		ID:   "net",
		Kind: resource.KindNetwork,
		Spec: &resource.NetworkSpec{CIDR: "10.0.0.0/16", Zone: "eu-central"},
	}))

	_, err = os.Stat(path + guardSuffix)
	assert.True(t, os.IsNotExist(err), "guard file must not linger")
}

func TestCorruptStateFileSurfacesError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiln.state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := New(path)
	require.NoError(t, err)
	_, err = s.List(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode state file")
}
