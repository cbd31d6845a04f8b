package config

import (
	"fmt"

	"github.com/caarlos0/env/v9"
)

// Runtime is the environment-sourced configuration: credentials and backend
// wiring that never belong in the desired-state document.
type Runtime struct {
	// HCloudToken authenticates against the cloud provider API.
	HCloudToken string `env:"KILN_HCLOUD_TOKEN"`

	// Kubeconfig points at the cluster credentials used for in-cluster
	// resources and the workload rollout.
	Kubeconfig string `env:"KILN_KUBECONFIG" envDefault:""`

	// StateBackend selects where the state document lives: file, s3 or
	// memory (tests only).
	StateBackend string `env:"KILN_STATE_BACKEND" envDefault:"file"`

	// StatePath is the state file location for the file backend.
	StatePath string `env:"KILN_STATE_PATH" envDefault:"kiln.state.json"`

	S3 S3Config

	// PrometheusEndpoint is where rollout verification samples health from.
	PrometheusEndpoint string `env:"KILN_PROMETHEUS_ENDPOINT" envDefault:""`

	// MetricsListen, when set, exposes the run's own metrics endpoint.
	MetricsListen string `env:"KILN_METRICS_LISTEN" envDefault:""`

	// Debug turns on structured event logging to stderr.
	Debug bool `env:"KILN_DEBUG" envDefault:"false"`
}

// S3Config wires the remote state backend.
type S3Config struct {
	Endpoint  string `env:"KILN_S3_ENDPOINT"`
	Region    string `env:"KILN_S3_REGION" envDefault:"auto"`
	Bucket    string `env:"KILN_S3_BUCKET"`
	Key       string `env:"KILN_S3_KEY" envDefault:"kiln/state.json"`
	AccessKey string `env:"KILN_S3_ACCESS_KEY"`
	SecretKey string `env:"KILN_S3_SECRET_KEY"`
}

// LoadRuntime reads the runtime configuration from the environment.
func LoadRuntime() (*Runtime, error) {
	var rt Runtime
	if err := env.Parse(&rt); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := rt.validate(); err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *Runtime) validate() error {
	switch r.StateBackend {
	case "file", "memory":
	case "s3":
		if r.S3.Bucket == "" {
			return fmt.Errorf("KILN_S3_BUCKET is required for the s3 state backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q (want file, s3 or memory)", r.StateBackend)
	}
	return nil
}
