package rollout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state/memory"
)

// fakeInstance is one instance inside the fake pool.
type fakeInstance struct {
	revision   int
	readyPolls int // Ready calls left before the instance reports ready
	ready      bool
}

// fakePool tracks instances in memory and records the minimum number of
// ready instances observed across every mutation, which is the signal the
// zero-downtime property is asserted on.
type fakePool struct {
	mu         sync.Mutex
	seq        int
	instances  map[string]*fakeInstance
	minServing int
	startErr   map[int]error // revision -> error injected on Start
	readyDelay int           // readyPolls for newly started instances
}

func newFakePool() *fakePool {
	return &fakePool{
		instances:  make(map[string]*fakeInstance),
		startErr:   make(map[int]error),
		minServing: -1,
	}
}

func (f *fakePool) Start(_ context.Context, rev *rollout.Revision) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[rev.Number]; err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("%s-%d", rev.Image, f.seq)
	f.instances[id] = &fakeInstance{revision: rev.Number, readyPolls: f.readyDelay}
	return id, nil
}

func (f *fakePool) Ready(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return false, errors.New("unknown instance " + id)
	}
	if inst.readyPolls > 0 {
		inst.readyPolls--
		return false, nil
	}
	inst.ready = true
	f.observeLocked()
	return true, nil
}

func (f *fakePool) Retire(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
	f.observeLocked()
	return nil
}

func (f *fakePool) Serving(_ context.Context) (map[int][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int][]string)
	for id, inst := range f.instances {
		out[inst.revision] = append(out[inst.revision], id)
	}
	return out, nil
}

// observeLocked records the current ready count into the running minimum.
func (f *fakePool) observeLocked() {
	n := 0
	for _, inst := range f.instances {
		if inst.ready {
			n++
		}
	}
	if f.minServing < 0 || n < f.minServing {
		f.minServing = n
	}
}

// resetMin starts a fresh minimum-serving observation from the current state.
func (f *fakePool) resetMin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minServing = -1
	f.observeLocked()
}

func (f *fakePool) servingCount(revision int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, inst := range f.instances {
		if inst.revision == revision && inst.ready {
			n++
		}
	}
	return n
}

// fakeHealth returns a configurable error rate per revision.
type fakeHealth struct {
	mu    sync.Mutex
	rates map[int]float64
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{rates: make(map[int]float64)}
}

func (f *fakeHealth) set(revision int, rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates[revision] = rate
}

func (f *fakeHealth) ErrorRate(_ context.Context, revision int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rates[revision], nil
}

func testSettings() rollout.Settings {
	return rollout.Settings{
		VerificationWindow: 60 * time.Millisecond,
		ErrorThreshold:     0.05,
		SampleInterval:     10 * time.Millisecond,
		ReadinessTimeout:   300 * time.Millisecond,
		ReadinessInterval:  5 * time.Millisecond,
		StartConcurrency:   4,
		RetainedRevisions:  2,
	}
}

func newTestController(t *testing.T) (*rollout.Controller, *fakePool, *fakeHealth, rollout.RevisionStore) {
	t.Helper()
	store := memory.New()
	instances := newFakePool()
	health := newFakeHealth()
	return rollout.NewController(store, instances, health, testSettings()), instances, health, store
}

func TestFirstDeployGoesLive(t *testing.T) {
	c, instances, _, _ := newTestController(t)

	rev, err := c.Deploy(context.Background(), "app:v1", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rev.Number)
	assert.Equal(t, rollout.StatusLive, rev.Status)
	assert.Equal(t, 3, instances.servingCount(1))

	live, err := c.Live(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app:v1", live.Image)
}

func TestDeployNeverDipsBelowPriorSteadyState(t *testing.T) {
	c, instances, _, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, "app:v1", 3)
	require.NoError(t, err)
	instances.resetMin()

	rev, err := c.Deploy(ctx, "app:v2", 3)
	require.NoError(t, err)
	assert.Equal(t, rollout.StatusLive, rev.Status)

	assert.GreaterOrEqual(t, instances.minServing, 3,
		"ready instance count dipped below the prior steady state")
	assert.Equal(t, 3, instances.servingCount(2))
	assert.Zero(t, instances.servingCount(1), "previous revision fully retired after promotion")
}

func TestPromotionDemotesPreviousLive(t *testing.T) {
	c, _, _, store := newTestController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, "app:v1", 2)
	require.NoError(t, err)
	_, err = c.Deploy(ctx, "app:v2", 2)
	require.NoError(t, err)

	first, err := store.Revision(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rollout.StatusSuperseded, first.Status)

	live, err := c.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, live.Number)
}

func TestHealthFailureRollsBackAndOldRevisionKeepsServing(t *testing.T) {
	c, instances, health, store := newTestController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, "app:v1", 3)
	require.NoError(t, err)
	instances.resetMin()

	health.set(2, 0.5)
	rev, err := c.Deploy(ctx, "app:v2", 3)
	var rb *rollout.RolledBackError
	require.ErrorAs(t, err, &rb)
	assert.Equal(t, rollout.StatusRolledBack, rev.Status)
	assert.Contains(t, rev.Reason, "0.5")

	// The previous Live revision never stopped serving.
	live, err := c.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app:v1", live.Image)
	assert.Equal(t, 3, instances.servingCount(1))
	assert.Zero(t, instances.servingCount(2))
	assert.GreaterOrEqual(t, instances.minServing, 3)

	stored, err := store.Revision(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, rollout.StatusRolledBack, stored.Status)
}

func TestStartFailureEndsFailed(t *testing.T) {
	c, instances, _, store := newTestController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, "app:v1", 2)
	require.NoError(t, err)

	instances.startErr[2] = errors.New("image reference does not exist")
	rev, err := c.Deploy(ctx, "app:bad", 2)
	var fe *rollout.FailedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, rollout.StatusFailed, rev.Status)

	// Any surged instances are gone; the old revision is untouched.
	assert.Zero(t, instances.servingCount(2))
	assert.Equal(t, 2, instances.servingCount(1))

	live, err := c.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, live.Number)

	stored, err := store.Revision(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, rollout.StatusFailed, stored.Status)
}

func TestReadinessTimeoutEndsFailed(t *testing.T) {
	c, instances, _, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, "app:v1", 1)
	require.NoError(t, err)

	instances.readyDelay = 1 << 30 // never becomes ready
	rev, err := c.Deploy(ctx, "app:v2", 1)
	var fe *rollout.FailedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, rollout.StatusFailed, rev.Status)
	assert.Equal(t, 1, instances.servingCount(1))
}

func TestManualRollbackCreatesNewRevision(t *testing.T) {
	c, instances, _, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.Deploy(ctx, "app:v1", 2)
	require.NoError(t, err)
	_, err = c.Deploy(ctx, "app:v2", 2)
	require.NoError(t, err)

	rev, err := c.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rev.Number, "rollback mints a new revision number")
	assert.Equal(t, "app:v1", rev.Image)
	assert.Equal(t, rollout.StatusLive, rev.Status)
	assert.Equal(t, 2, instances.servingCount(3))
	assert.Zero(t, instances.servingCount(2))
}

func TestRollbackRejectsUnknownAndInFlightRevisions(t *testing.T) {
	c, _, _, store := newTestController(t)
	ctx := context.Background()

	_, err := c.Rollback(ctx, 42)
	require.Error(t, err)

	rev := &rollout.Revision{Number: 7, Image: "app:v7", Replicas: 1, Status: rollout.StatusFailed}
	require.NoError(t, store.PutRevision(ctx, rev))
	_, err = c.Rollback(ctx, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed")
}

func TestRevisionNumbersAreMonotonicAcrossOutcomes(t *testing.T) {
	c, instances, health, _ := newTestController(t)
	ctx := context.Background()

	r1, err := c.Deploy(ctx, "app:v1", 1)
	require.NoError(t, err)

	health.set(2, 1.0)
	r2, _ := c.Deploy(ctx, "app:v2", 1)

	health.set(3, 0)
	instances.startErr[3] = errors.New("boom")
	r3, _ := c.Deploy(ctx, "app:v3", 1)
	delete(instances.startErr, 3)

	r4, err := c.Deploy(ctx, "app:v4", 1)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, []int{r1.Number, r2.Number, r3.Number, r4.Number})
}

func TestPruneKeepsLastKnownGood(t *testing.T) {
	c, _, _, store := newTestController(t)
	ctx := context.Background()

	for _, img := range []string{"app:v1", "app:v2", "app:v3", "app:v4", "app:v5"} {
		_, err := c.Deploy(ctx, img, 1)
		require.NoError(t, err)
	}

	revs, err := store.ListRevisions(ctx)
	require.NoError(t, err)

	var live, superseded []int
	for _, r := range revs {
		switch r.Status {
		case rollout.StatusLive:
			live = append(live, r.Number)
		case rollout.StatusSuperseded:
			superseded = append(superseded, r.Number)
		}
	}
	assert.Equal(t, []int{5}, live)
	assert.Contains(t, superseded, 4, "last known good is retained")
	assert.LessOrEqual(t, len(superseded), testSettings().RetainedRevisions+1)
	for _, n := range superseded {
		assert.Greater(t, n, 1, "oldest superseded revisions are pruned")
	}
}

func TestDeployValidatesRequest(t *testing.T) {
	c, _, _, _ := newTestController(t)

	_, err := c.Deploy(context.Background(), "", 3)
	require.Error(t, err)
	_, err = c.Deploy(context.Background(), "app:v1", 0)
	require.Error(t, err)
}
