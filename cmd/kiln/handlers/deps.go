// Package handlers implements the business logic for CLI commands.
//
// Handlers are framework-agnostic and testable independently of cobra. The
// factory variables below are replaced in tests for dependency injection.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/go-logr/logr/funcr"

	"github.com/cloudkiln/kiln/internal/cloud"
	cloudhcloud "github.com/cloudkiln/kiln/internal/cloud/hcloud"
	cloudkube "github.com/cloudkiln/kiln/internal/cloud/kube"
	"github.com/cloudkiln/kiln/internal/config"
	"github.com/cloudkiln/kiln/internal/kube"
	"github.com/cloudkiln/kiln/internal/metrics"
	"github.com/cloudkiln/kiln/internal/monitoring"
	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/state"
	statefile "github.com/cloudkiln/kiln/internal/state/file"
	statememory "github.com/cloudkiln/kiln/internal/state/memory"
	states3 "github.com/cloudkiln/kiln/internal/state/s3"
	"github.com/cloudkiln/kiln/internal/ui"
)

// DefaultDocumentPath is where commands look for the desired-state document
// when no --config flag is given.
const DefaultDocumentPath = "kiln.yaml"

// buildVersion is stamped by SetVersion from main and travels to provider
// user agents.
var buildVersion = "dev"

// SetVersion records the build version for provider user agents.
func SetVersion(v string) {
	buildVersion = v
}

// Factory function variables - replaced in tests for dependency injection.
var (
	loadDocument = config.LoadDocument
	loadRuntime  = config.LoadRuntime

	expandMonitoring = monitoring.Expand

	newStore = func(ctx context.Context, rt *config.Runtime) (state.Store, error) {
		switch rt.StateBackend {
		case "file":
			return statefile.New(rt.StatePath)
		case "memory":
			return statememory.New(), nil
		case "s3":
			return states3.New(ctx, states3.Options{
				Endpoint:  rt.S3.Endpoint,
				Region:    rt.S3.Region,
				Bucket:    rt.S3.Bucket,
				Key:       rt.S3.Key,
				AccessKey: rt.S3.AccessKey,
				SecretKey: rt.S3.SecretKey,
			})
		}
		return nil, fmt.Errorf("unknown state backend %q", rt.StateBackend)
	}

	newProvider = func(rt *config.Runtime) (cloud.Provider, error) {
		router := &cloud.Router{
			Infra:   cloud.Unconfigured("KILN_HCLOUD_TOKEN is not set"),
			Cluster: cloud.Unconfigured("KILN_KUBECONFIG is not set"),
		}
		if rt.HCloudToken != "" {
			router.Infra = cloudhcloud.New(rt.HCloudToken, buildVersion)
		}
		if rt.Kubeconfig != "" {
			client, err := kube.NewFromKubeconfig(rt.Kubeconfig)
			if err != nil {
				return nil, fmt.Errorf("load kubeconfig: %w", err)
			}
			router.Cluster = cloudkube.New(client, kube.NewHelmClient(rt.Kubeconfig))
		}
		return router, nil
	}

	newKubeClient = kube.NewFromKubeconfig

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// runObserver assembles the observer chain for provisioning runs: metrics
// counting wraps console progress, plus structured event logging to stderr
// when KILN_DEBUG is set.
func runObserver(rt *config.Runtime) provision.Observer {
	chain := provision.MultiObserver{ui.NewConsoleObserver(stdout)}
	if rt.Debug {
		log := funcr.NewJSON(func(obj string) {
			fmt.Fprintln(stderr, obj)
		}, funcr.Options{Verbosity: 1})
		chain = append(chain, provision.NewLogObserver(log))
	}
	return metrics.NewObserver(chain)
}

// loadDoc resolves the document path and loads it, pointing the user at
// `kiln init` when nothing is found.
func loadDoc(path string) (*config.Document, error) {
	if path == "" {
		path = DefaultDocumentPath
	}
	doc, err := loadDocument(path)
	if err != nil {
		if os.IsNotExist(errors.Unwrap(err)) || os.IsNotExist(err) {
			return nil, fmt.Errorf("no document at %s: run 'kiln init' to create one", path)
		}
		return nil, err
	}
	return doc, nil
}

// desiredResources loads the document's declared set and expands the
// monitoring stanza into it.
func desiredResources(doc *config.Document) ([]*resource.Resource, error) {
	declared, err := doc.BuildResources()
	if err != nil {
		return nil, err
	}
	return expandMonitoring(declared, doc.Monitoring)
}

// serveMetrics exposes the Prometheus endpoint for the lifetime of the run
// when a listen address is configured. Serve errors only lose the scrape
// target, never the run.
func serveMetrics(rt *config.Runtime) {
	if rt.MetricsListen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		_ = http.ListenAndServe(rt.MetricsListen, mux) //nolint:gosec
	}()
}
