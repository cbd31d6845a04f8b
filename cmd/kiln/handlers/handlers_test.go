package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkiln/kiln/internal/cloud"
	"github.com/cloudkiln/kiln/internal/cloud/fake"
	"github.com/cloudkiln/kiln/internal/config"
	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state"
	"github.com/cloudkiln/kiln/internal/state/memory"
)

const testDocument = `
name: demo
resources:
  - id: net
    kind: Network
    spec: {cidr: 10.0.0.0/16, zone: eu-central}
  - id: subnet
    kind: Subnet
    depends_on: [net]
    spec: {cidr: 10.0.1.0/24, zone: eu-central}
deployment:
  image: app:v1
  replicas: 2
  namespace: apps
  app_name: demo
settings:
  poll_timeout: 2s
  poll_interval: 10ms
  verification_window: 30ms
  sample_interval: 5ms
  readiness_timeout: 500ms
  readiness_interval: 5ms
`

func saveAndRestoreFactories(t *testing.T) {
	t.Helper()
	origLoadDocument := loadDocument
	origLoadRuntime := loadRuntime
	origNewStore := newStore
	origNewProvider := newProvider
	origNewInstancePool := newInstancePool
	origNewHealthSource := newHealthSource
	origConfirmDestroy := confirmDestroy
	origFileExists := fileExists
	origRunWizard := runWizard
	origWriteDocument := writeDocument
	origStdout := stdout
	origStderr := stderr

	t.Cleanup(func() {
		loadDocument = origLoadDocument
		loadRuntime = origLoadRuntime
		newStore = origNewStore
		newProvider = origNewProvider
		newInstancePool = origNewInstancePool
		newHealthSource = origNewHealthSource
		confirmDestroy = origConfirmDestroy
		fileExists = origFileExists
		runWizard = origRunWizard
		writeDocument = origWriteDocument
		stdout = origStdout
		stderr = origStderr
	})
}

// wireFakes points every factory at in-memory fakes sharing one store.
func wireFakes(t *testing.T) (*memory.Store, *fake.Provider, *bytes.Buffer) {
	t.Helper()
	saveAndRestoreFactories(t)

	store := memory.New()
	provider := fake.New()
	out := &bytes.Buffer{}

	loadDocument = func(string) (*config.Document, error) {
		return config.ParseDocument([]byte(testDocument))
	}
	loadRuntime = func() (*config.Runtime, error) {
		return &config.Runtime{StateBackend: "memory"}, nil
	}
	newStore = func(context.Context, *config.Runtime) (state.Store, error) {
		return store, nil
	}
	newProvider = func(*config.Runtime) (cloud.Provider, error) {
		return provider, nil
	}
	newInstancePool = func(*config.Runtime, *config.DeploymentConfig) (rollout.InstancePool, error) {
		return &stubPool{}, nil
	}
	newHealthSource = func(*config.Runtime, *config.DeploymentConfig) (rollout.HealthSource, error) {
		return cleanHealth{}, nil
	}
	stdout = out

	return store, provider, out
}

func TestApplyConvergesDocument(t *testing.T) {
	store, _, out := wireFakes(t)

	require.NoError(t, Apply(context.Background(), ""))

	recorded, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recorded, 2)
	assert.Contains(t, out.String(), "net: ready")
	assert.Contains(t, out.String(), "Converge complete")
	assert.Contains(t, out.String(), "Revision 1 is live")
}

func TestApplyDebugLogsStructuredEvents(t *testing.T) {
	wireFakes(t)
	loadRuntime = func() (*config.Runtime, error) {
		return &config.Runtime{StateBackend: "memory", Debug: true}, nil
	}
	errOut := &bytes.Buffer{}
	stderr = errOut

	require.NoError(t, Apply(context.Background(), ""))

	assert.Contains(t, errOut.String(), `"type":"resource.ready"`)
	assert.Contains(t, errOut.String(), `"resource":"net"`)
}

func TestApplyIsIdempotentForUnchangedDeployment(t *testing.T) {
	store, _, out := wireFakes(t)

	require.NoError(t, Apply(context.Background(), ""))
	out.Reset()

	require.NoError(t, Apply(context.Background(), ""))

	assert.Contains(t, out.String(), "already live")
	revs, err := store.ListRevisions(context.Background())
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestApplySurfacesPartialFailure(t *testing.T) {
	_, provider, _ := wireFakes(t)
	provider.FailWith("create", "subnet", cloud.FatalError("create", "subnet", errors.New("quota exceeded")))

	err := Apply(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, ExitPartialFailure, ExitCode(err))
}

func TestPlanReportsWithoutTouchingProvider(t *testing.T) {
	_, provider, out := wireFakes(t)

	require.NoError(t, Plan(context.Background(), ""))

	assert.Empty(t, provider.Calls())
	assert.Contains(t, out.String(), "2 to create")
}

func TestStatusRendersStateAndHistory(t *testing.T) {
	_, _, out := wireFakes(t)

	require.NoError(t, Apply(context.Background(), ""))
	out.Reset()

	require.NoError(t, Status(context.Background()))
	assert.Contains(t, out.String(), "net")
	assert.Contains(t, out.String(), "Ready")
	assert.Contains(t, out.String(), "app:v1")
	assert.Contains(t, out.String(), "Live")
}

func TestRolloutStatusListsRevisions(t *testing.T) {
	_, _, out := wireFakes(t)
	wireRollout(t, cleanHealth{})

	require.NoError(t, Deploy(context.Background(), "", "app:v1"))
	require.NoError(t, Deploy(context.Background(), "", "app:v2"))
	out.Reset()

	require.NoError(t, RolloutStatus(context.Background()))
	assert.Contains(t, out.String(), "app:v2")
	assert.Contains(t, out.String(), "Live")
	assert.NotContains(t, out.String(), "KIND", "rollout status prints revisions only")
}

func TestDestroyAsksForConfirmation(t *testing.T) {
	_, provider, out := wireFakes(t)
	require.NoError(t, Apply(context.Background(), ""))

	confirmDestroy = func(context.Context, int) (bool, error) { return false, nil }
	require.NoError(t, Destroy(context.Background(), "", false))
	assert.Contains(t, out.String(), "canceled")
	assert.True(t, provider.Exists("net"))
}

func TestDestroyRemovesEverything(t *testing.T) {
	store, provider, _ := wireFakes(t)
	require.NoError(t, Apply(context.Background(), ""))

	require.NoError(t, Destroy(context.Background(), "", true))

	assert.False(t, provider.Exists("net"))
	recorded, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recorded)
}

func TestDestroyOnEmptyState(t *testing.T) {
	_, _, out := wireFakes(t)

	require.NoError(t, Destroy(context.Background(), "", true))
	assert.Contains(t, out.String(), "nothing to destroy")
}

func TestUnlockReleasesStaleLock(t *testing.T) {
	store, _, out := wireFakes(t)
	require.NoError(t, store.AcquireLock(context.Background(), "dead-run", 0))

	require.NoError(t, Unlock(context.Background()))
	assert.Contains(t, out.String(), "dead-run")

	_, err := store.Lock(context.Background())
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestUnlockWithoutLock(t *testing.T) {
	_, _, out := wireFakes(t)

	require.NoError(t, Unlock(context.Background()))
	assert.Contains(t, out.String(), "not locked")
}

type stubPool struct {
	seq int
}

func (p *stubPool) Start(_ context.Context, rev *rollout.Revision) (string, error) {
	p.seq++
	return fmt.Sprintf("%s-%d", rev.Image, p.seq), nil
}

func (p *stubPool) Ready(context.Context, string) (bool, error) { return true, nil }

func (p *stubPool) Retire(context.Context, string) error { return nil }

func (p *stubPool) Serving(context.Context) (map[int][]string, error) {
	return map[int][]string{}, nil
}

func wireRollout(t *testing.T, health rollout.HealthSource) {
	t.Helper()
	newInstancePool = func(*config.Runtime, *config.DeploymentConfig) (rollout.InstancePool, error) {
		return &stubPool{}, nil
	}
	newHealthSource = func(*config.Runtime, *config.DeploymentConfig) (rollout.HealthSource, error) {
		return health, nil
	}
}

func TestDeployPromotesHealthyRevision(t *testing.T) {
	store, _, out := wireFakes(t)
	wireRollout(t, cleanHealth{})

	require.NoError(t, Deploy(context.Background(), "", "app:v2"))
	assert.Contains(t, out.String(), "Revision 1 is live")

	rev, err := store.Revision(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "app:v2", rev.Image)
	assert.Equal(t, rollout.StatusLive, rev.Status)
}

type unhealthySource struct{}

func (unhealthySource) ErrorRate(context.Context, int) (float64, error) { return 0.9, nil }

func TestDeployRollbackExitCode(t *testing.T) {
	wireFakes(t)
	wireRollout(t, unhealthySource{})

	err := Deploy(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, ExitRolloutFailed, ExitCode(err))
}

func TestRollbackRedeploysRetainedImage(t *testing.T) {
	store, _, out := wireFakes(t)
	wireRollout(t, cleanHealth{})

	require.NoError(t, Deploy(context.Background(), "", "app:v1"))
	require.NoError(t, Deploy(context.Background(), "", "app:v2"))
	out.Reset()

	require.NoError(t, Rollback(context.Background(), "", 1))
	assert.Contains(t, out.String(), "app:v1")

	rev, err := store.Revision(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "app:v1", rev.Image)
	assert.Equal(t, rollout.StatusLive, rev.Status)
}

func TestInitWritesWizardDocument(t *testing.T) {
	_, _, out := wireFakes(t)

	var written *config.Document
	fileExists = func(string) bool { return false }
	runWizard = func(context.Context) (*config.WizardResult, error) {
		return &config.WizardResult{
			Name: "demo", Zone: "eu-central", Location: "nbg1",
			WorkerCount: 2, WorkerSize: "cx32", Monitoring: true,
		}, nil
	}
	writeDocument = func(doc *config.Document, path string) error {
		written = doc
		assert.Equal(t, DefaultDocumentPath, path)
		return nil
	}

	require.NoError(t, Init(context.Background(), ""))
	require.NotNil(t, written)
	assert.Equal(t, "demo", written.Name)
	assert.Len(t, written.Resources, 4)
	require.NotNil(t, written.Monitoring)
	assert.True(t, written.Monitoring.Enabled)
	assert.Contains(t, out.String(), "Next steps")
}

const fullDocument = `
name: prod
resources:
  - id: net
    kind: Network
    spec: {cidr: 10.0.0.0/16, zone: eu-central}
  - id: subnet
    kind: Subnet
    depends_on: [net]
    spec: {cidr: 10.0.1.0/24, zone: eu-central}
  - id: cluster
    kind: Cluster
    depends_on: [subnet]
    spec: {version: "1.31", location: fsn1, control_plane_count: 3}
  - id: workers
    kind: NodeGroup
    depends_on: [cluster]
    spec: {instance_type: cx32, count: 3, location: fsn1}
deployment:
  image: app:v2
  replicas: 2
  namespace: apps
  app_name: prod
settings:
  poll_timeout: 2s
  poll_interval: 10ms
  verification_window: 30ms
  sample_interval: 5ms
  readiness_timeout: 500ms
  readiness_interval: 5ms
`

func TestApplyProvisionsStackAndDeploysApp(t *testing.T) {
	store, provider, out := wireFakes(t)
	loadDocument = func(string) (*config.Document, error) {
		return config.ParseDocument([]byte(fullDocument))
	}

	require.NoError(t, Apply(context.Background(), ""))

	var created []string
	for _, call := range provider.Calls() {
		if call.Op == "create" {
			created = append(created, call.ResourceID)
		}
	}
	assert.Equal(t, []string{"net", "subnet", "cluster", "workers"}, created)

	recorded, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, recorded, 4)

	rev, err := store.Revision(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "app:v2", rev.Image)
	assert.Equal(t, rollout.StatusLive, rev.Status)
	assert.Contains(t, out.String(), "Revision 1 is live")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitError, ExitCode(&provision.ValidationError{Issues: []string{"bad"}}))
	assert.Equal(t, ExitLockConflict, ExitCode(&provision.LockConflictError{}))
	assert.Equal(t, ExitPartialFailure, ExitCode(&provision.PartialFailure{}))
	assert.Equal(t, ExitRolloutFailed, ExitCode(&rollout.RolledBackError{Revision: 2}))
	assert.Equal(t, ExitRolloutFailed, ExitCode(&rollout.FailedError{Revision: 2}))
}
