package kube

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/getter"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/repo"
	"k8s.io/cli-runtime/pkg/genericclioptions"
)

// HelmClient installs chart-based resources (addons, monitoring stack) into
// the provisioned cluster.
type HelmClient struct {
	kubeconfigPath string
	actions        map[string]*action.Configuration
}

// NewHelmClient creates a Helm client for the given kubeconfig.
func NewHelmClient(kubeconfigPath string) *HelmClient {
	return &HelmClient{
		kubeconfigPath: kubeconfigPath,
		actions:        make(map[string]*action.Configuration),
	}
}

// config returns the per-namespace action configuration, building it lazily.
func (h *HelmClient) config(namespace string) (*action.Configuration, error) {
	if cfg, ok := h.actions[namespace]; ok {
		return cfg, nil
	}
	flags := genericclioptions.NewConfigFlags(false)
	flags.KubeConfig = &h.kubeconfigPath
	flags.Namespace = &namespace

	cfg := new(action.Configuration)
	if err := cfg.Init(flags, namespace, "secret", func(string, ...interface{}) {}); err != nil {
		return nil, fmt.Errorf("init helm for namespace %s: %w", namespace, err)
	}
	h.actions[namespace] = cfg
	return cfg, nil
}

// InstallOrUpgrade converges a release to the given chart and values.
func (h *HelmClient) InstallOrUpgrade(ctx context.Context, releaseName, namespace, repoURL, chartName, version string, values map[string]any) error {
	cfg, err := h.config(namespace)
	if err != nil {
		return err
	}

	hist := action.NewHistory(cfg)
	hist.Max = 1
	if _, err := hist.Run(releaseName); err != nil {
		return h.install(ctx, cfg, releaseName, namespace, repoURL, chartName, version, values)
	}
	return h.upgrade(ctx, cfg, releaseName, namespace, repoURL, chartName, version, values)
}

func (h *HelmClient) install(ctx context.Context, cfg *action.Configuration, releaseName, namespace, repoURL, chartName, version string, values map[string]any) error {
	client := action.NewInstall(cfg)
	client.ReleaseName = releaseName
	client.Namespace = namespace
	client.CreateNamespace = true
	client.Version = version
	client.Wait = false
	client.Timeout = 10 * time.Minute

	ch, err := loadChart(repoURL, chartName, version)
	if err != nil {
		return err
	}
	_, err = client.RunWithContext(ctx, ch, values)
	return err
}

func (h *HelmClient) upgrade(ctx context.Context, cfg *action.Configuration, releaseName, namespace, repoURL, chartName, version string, values map[string]any) error {
	client := action.NewUpgrade(cfg)
	client.Namespace = namespace
	client.Version = version
	client.Wait = false
	client.Timeout = 10 * time.Minute

	ch, err := loadChart(repoURL, chartName, version)
	if err != nil {
		return err
	}
	_, err = client.RunWithContext(ctx, releaseName, ch, values)
	return err
}

// ReleaseStatus reports whether the release exists and has fully deployed.
func (h *HelmClient) ReleaseStatus(releaseName, namespace string) (exists, deployed bool, err error) {
	cfg, err := h.config(namespace)
	if err != nil {
		return false, false, err
	}
	status := action.NewStatus(cfg)
	rel, err := status.Run(releaseName)
	if err != nil {
		// Helm reports a missing release as an error; treat it as absent.
		return false, false, nil
	}
	return true, rel.Info.Status == release.StatusDeployed, nil
}

// Uninstall removes a release; missing is not an error.
func (h *HelmClient) Uninstall(releaseName, namespace string) error {
	cfg, err := h.config(namespace)
	if err != nil {
		return err
	}
	client := action.NewUninstall(cfg)
	client.Wait = false
	client.Timeout = 5 * time.Minute
	if _, err := client.Run(releaseName); err != nil {
		exists, _, statusErr := h.ReleaseStatus(releaseName, namespace)
		if statusErr == nil && !exists {
			return nil
		}
		return err
	}
	return nil
}

// loadChart resolves the chart archive URL in its repository, fetches it,
// and loads it in memory.
func loadChart(repoURL, chartName, version string) (*chart.Chart, error) {
	settings := cli.New()
	providers := getter.All(settings)

	chartURL, err := repo.FindChartInRepoURL(repoURL, chartName, version, "", "", "", providers)
	if err != nil {
		return nil, fmt.Errorf("find chart %s in repo %s: %w", chartName, repoURL, err)
	}

	parsed, err := url.Parse(chartURL)
	if err != nil {
		return nil, fmt.Errorf("parse chart url %s: %w", chartURL, err)
	}
	g, err := providers.ByScheme(parsed.Scheme)
	if err != nil {
		return nil, fmt.Errorf("no getter for scheme %s: %w", parsed.Scheme, err)
	}
	archive, err := g.Get(chartURL)
	if err != nil {
		return nil, fmt.Errorf("fetch chart %s: %w", chartURL, err)
	}
	return loader.LoadArchive(archive)
}
