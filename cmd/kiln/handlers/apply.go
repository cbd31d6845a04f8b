package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudkiln/kiln/internal/config"
	"github.com/cloudkiln/kiln/internal/metrics"
	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state"
)

// Apply converges declared infrastructure to the document. It locks the
// state, plans, walks the dependency graph and reports per-resource progress
// as it goes.
func Apply(ctx context.Context, configPath string) error {
	doc, err := loadDoc(configPath)
	if err != nil {
		return err
	}
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	serveMetrics(rt)

	desired, err := desiredResources(doc)
	if err != nil {
		return err
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := newProvider(rt)
	if err != nil {
		return err
	}

	prov := provision.New(store, provider,
		provision.WithObserver(runObserver(rt)),
		provision.WithSettings(doc.ProvisionSettings()))

	fmt.Fprintf(stdout, "Converging %q (%d resources)\n\n", doc.Name, len(desired))

	start := time.Now()
	err = prov.Converge(ctx, desired)
	metrics.RecordConverge(convergeResult(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\nConverge complete in %s.\n", time.Since(start).Round(time.Second))

	if doc.Deployment != nil {
		return rolloutAfterConverge(ctx, doc, rt, store)
	}
	return nil
}

// rolloutAfterConverge rolls the document's deployment out once the declared
// cluster is Ready. With no Ready cluster the rollout is deferred, not
// failed: the next apply picks it up.
func rolloutAfterConverge(ctx context.Context, doc *config.Document, rt *config.Runtime, store state.Store) error {
	ready, err := clusterReady(ctx, doc, store)
	if err != nil {
		return err
	}
	if !ready {
		fmt.Fprintln(stdout, "Cluster is not Ready yet, skipping rollout.")
		return nil
	}

	pool, err := newInstancePool(rt, doc.Deployment)
	if err != nil {
		return err
	}
	health, err := newHealthSource(rt, doc.Deployment)
	if err != nil {
		return err
	}
	ctrl := rollout.NewController(store, pool, health, doc.RolloutSettings())

	// Re-applying an unchanged document must not mint a new revision.
	live, err := ctrl.Live(ctx)
	if err != nil && !errors.Is(err, rollout.ErrNoLiveRevision) {
		return err
	}
	if live != nil && live.Image == doc.Deployment.Image && live.Replicas == doc.Deployment.Replicas {
		fmt.Fprintf(stdout, "Revision %d (%s) already live.\n", live.Number, live.Image)
		return nil
	}

	fmt.Fprintf(stdout, "\nDeploying %s (%d replicas)\n", doc.Deployment.Image, doc.Deployment.Replicas)

	start := time.Now()
	rev, err := ctrl.Deploy(ctx, doc.Deployment.Image, doc.Deployment.Replicas)
	metrics.RecordDeploy(deployOutcome(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	metrics.SetLiveRevision(rev.Number)
	fmt.Fprintf(stdout, "Revision %d is live.\n", rev.Number)
	return nil
}

// clusterReady reports whether a declared Cluster resource is recorded Ready.
// Documents without a Cluster kind (infra-only fleets) count as ready.
func clusterReady(ctx context.Context, doc *config.Document, store state.Store) (bool, error) {
	declared, err := desiredResources(doc)
	if err != nil {
		return false, err
	}
	hasCluster := false
	for _, r := range declared {
		if r.Kind != resource.KindCluster {
			continue
		}
		hasCluster = true
		rec, err := store.Get(ctx, r.ID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				continue
			}
			return false, err
		}
		if rec.Status == resource.StatusReady {
			return true, nil
		}
	}
	return !hasCluster, nil
}

func convergeResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case ExitCode(err) == ExitPartialFailure:
		return "partial-failure"
	default:
		return "error"
	}
}
