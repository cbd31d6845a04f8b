package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudkiln/kiln/internal/config"
	"github.com/cloudkiln/kiln/internal/metrics"
	"github.com/cloudkiln/kiln/internal/rollout"
)

// cleanHealth reports a zero error rate, promoting after the verification
// window on readiness alone. Used when no health query is configured.
type cleanHealth struct{}

func (cleanHealth) ErrorRate(context.Context, int) (float64, error) { return 0, nil }

// Factory variables for rollout wiring - replaced in tests.
var (
	newInstancePool = func(rt *config.Runtime, dep *config.DeploymentConfig) (rollout.InstancePool, error) {
		if rt.Kubeconfig == "" {
			return nil, fmt.Errorf("deploy requires KILN_KUBECONFIG to be set")
		}
		client, err := newKubeClient(rt.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig: %w", err)
		}
		return rollout.NewPodPool(client, rollout.PodPoolConfig{
			Namespace:  dep.Namespace,
			AppName:    dep.AppName,
			Port:       dep.Port,
			HealthPath: dep.HealthPath,
		}), nil
	}

	newHealthSource = func(rt *config.Runtime, dep *config.DeploymentConfig) (rollout.HealthSource, error) {
		if dep.HealthQuery == "" || rt.PrometheusEndpoint == "" {
			return cleanHealth{}, nil
		}
		return rollout.NewPromHealthSource(rt.PrometheusEndpoint, dep.HealthQuery)
	}
)

// Deploy rolls out the document's deployment block as a new revision: surge
// the new instances, verify health, promote, retire the old ones. An image
// argument overrides the document.
func Deploy(ctx context.Context, configPath, image string) error {
	doc, err := loadDoc(configPath)
	if err != nil {
		return err
	}
	if doc.Deployment == nil {
		return fmt.Errorf("document %q has no deployment block", doc.Name)
	}
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	serveMetrics(rt)

	if image == "" {
		image = doc.Deployment.Image
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	pool, err := newInstancePool(rt, doc.Deployment)
	if err != nil {
		return err
	}
	health, err := newHealthSource(rt, doc.Deployment)
	if err != nil {
		return err
	}

	ctrl := rollout.NewController(store, pool, health, doc.RolloutSettings())

	fmt.Fprintf(stdout, "Deploying %s (%d replicas)\n", image, doc.Deployment.Replicas)

	start := time.Now()
	rev, err := ctrl.Deploy(ctx, image, doc.Deployment.Replicas)
	metrics.RecordDeploy(deployOutcome(err), time.Since(start).Seconds())
	if err != nil {
		if rev != nil {
			fmt.Fprintf(stdout, "Revision %d ended %s: %s\n", rev.Number, rev.Status, rev.Reason)
		}
		return err
	}

	metrics.SetLiveRevision(rev.Number)
	fmt.Fprintf(stdout, "Revision %d is live.\n", rev.Number)
	return nil
}

// Rollback redeploys a retained revision's image under a new revision number.
func Rollback(ctx context.Context, configPath string, number int) error {
	doc, err := loadDoc(configPath)
	if err != nil {
		return err
	}
	if doc.Deployment == nil {
		return fmt.Errorf("document %q has no deployment block", doc.Name)
	}
	rt, err := loadRuntime()
	if err != nil {
		return err
	}

	store, err := newStore(ctx, rt)
	if err != nil {
		return err
	}
	defer store.Close()

	pool, err := newInstancePool(rt, doc.Deployment)
	if err != nil {
		return err
	}
	health, err := newHealthSource(rt, doc.Deployment)
	if err != nil {
		return err
	}

	ctrl := rollout.NewController(store, pool, health, doc.RolloutSettings())

	rev, err := ctrl.Rollback(ctx, number)
	if err != nil {
		return err
	}

	metrics.SetLiveRevision(rev.Number)
	fmt.Fprintf(stdout, "Rolled back to image %s as revision %d.\n", rev.Image, rev.Number)
	return nil
}

func deployOutcome(err error) string {
	var rolledBack *rollout.RolledBackError
	var failed *rollout.FailedError
	switch {
	case err == nil:
		return "live"
	case errors.As(err, &rolledBack):
		return "rolled-back"
	case errors.As(err, &failed):
		return "failed"
	default:
		return "error"
	}
}
