// Package config loads the desired-state document and the runtime
// environment configuration. The document enumerates resources with closed
// per-kind schemas plus one deployment request; unknown kinds and unknown
// spec fields are rejected before graph construction.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/cloudkiln/kiln/internal/provision"
	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
)

// Document is the parsed desired-state file (kiln.yaml by default).
type Document struct {
	// Name labels everything provisioned from this document.
	Name string `mapstructure:"name" yaml:"name"`

	Resources []ResourceEntry `mapstructure:"resources" yaml:"resources"`

	// Deployment is the single workload request rolled out once the cluster
	// resource is Ready.
	Deployment *DeploymentConfig `mapstructure:"deployment" yaml:"deployment"`

	// Monitoring optionally expands into MonitoringStack resources that
	// depend on the cluster resource.
	Monitoring *MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`

	Settings SettingsConfig `mapstructure:"settings" yaml:"settings"`
}

// ResourceEntry is one declared resource before spec decoding.
type ResourceEntry struct {
	ID        string         `mapstructure:"id" yaml:"id"`
	Kind      string         `mapstructure:"kind" yaml:"kind"`
	DependsOn []string       `mapstructure:"depends_on" yaml:"depends_on"`
	Spec      map[string]any `mapstructure:"spec" yaml:"spec"`
}

// DeploymentConfig is the workload rollout request.
type DeploymentConfig struct {
	Image      string `mapstructure:"image" yaml:"image"`
	Replicas   int    `mapstructure:"replicas" yaml:"replicas"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
	AppName    string `mapstructure:"app_name" yaml:"app_name"`
	Port       int32  `mapstructure:"port" yaml:"port"`
	HealthPath string `mapstructure:"health_path" yaml:"health_path"`

	// HealthQuery is the Prometheus expression sampled during verification.
	// It must contain the $revision placeholder.
	HealthQuery string `mapstructure:"health_query" yaml:"health_query"`
}

// MonitoringConfig shapes the monitoring stack expansion.
type MonitoringConfig struct {
	Enabled      bool           `mapstructure:"enabled" yaml:"enabled"`
	Namespace    string         `mapstructure:"namespace" yaml:"namespace"`
	ChartVersion string         `mapstructure:"chart_version" yaml:"chart_version"`
	Values       map[string]any `mapstructure:"values" yaml:"values"`
}

// SettingsConfig carries the run-level knobs. Zero values fall back to the
// engine defaults, except the verification window and error threshold which
// gate promotion and are validated when a deployment is declared.
type SettingsConfig struct {
	LockTTL           time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RetryAttempts     int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay" yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`

	VerificationWindow time.Duration `mapstructure:"verification_window" yaml:"verification_window"`
	ErrorThreshold     float64       `mapstructure:"error_threshold" yaml:"error_threshold"`
	SampleInterval     time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	ReadinessTimeout   time.Duration `mapstructure:"readiness_timeout" yaml:"readiness_timeout"`
	ReadinessInterval  time.Duration `mapstructure:"readiness_interval" yaml:"readiness_interval"`
	RetainedRevisions  int           `mapstructure:"retained_revisions" yaml:"retained_revisions"`
}

// LoadDocument reads and validates the desired-state file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read desired-state file: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses YAML bytes into a validated Document.
func ParseDocument(data []byte) (*Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	var doc Document
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &doc,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(d.Resources) == 0 && d.Deployment == nil {
		return fmt.Errorf("document declares no resources and no deployment")
	}
	seen := make(map[string]bool, len(d.Resources))
	for i, entry := range d.Resources {
		if entry.ID == "" {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("resources[%d]: duplicate id %q", i, entry.ID)
		}
		seen[entry.ID] = true
		if !resource.Kind(entry.Kind).Valid() {
			return fmt.Errorf("resource %q: unknown kind %q", entry.ID, entry.Kind)
		}
	}
	if d.Deployment != nil {
		if d.Deployment.Image == "" {
			return fmt.Errorf("deployment: image is required")
		}
		if d.Deployment.Replicas < 1 {
			return fmt.Errorf("deployment: replicas must be at least 1")
		}
		if d.Deployment.Namespace == "" {
			return fmt.Errorf("deployment: namespace is required")
		}
	}
	return nil
}

// BuildResources decodes every entry's spec against its kind's closed
// schema. Unknown fields are errors, matching the validate-before-call rule.
func (d *Document) BuildResources() ([]*resource.Resource, error) {
	out := make([]*resource.Resource, 0, len(d.Resources))
	for _, entry := range d.Resources {
		kind := resource.Kind(entry.Kind)
		spec, err := decodeSpec(kind, entry.Spec)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", entry.ID, err)
		}
		out = append(out, &resource.Resource{
			ID:        entry.ID,
			Kind:      kind,
			Spec:      spec,
			DependsOn: append([]string(nil), entry.DependsOn...),
		})
	}
	return out, nil
}

// decodeSpec maps the free-form YAML node onto the kind's typed spec,
// rejecting fields outside the schema.
func decodeSpec(kind resource.Kind, raw map[string]any) (resource.Spec, error) {
	spec, err := resource.NewSpec(kind)
	if err != nil {
		return nil, err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      spec,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("spec for kind %s: %w", kind, err)
	}
	return spec, nil
}

// ProvisionSettings converts the document settings for the provisioner,
// falling back to engine defaults per field.
func (d *Document) ProvisionSettings() provision.Settings {
	s := provision.DefaultSettings()
	if v := d.Settings.LockTTL; v > 0 {
		s.LockTTL = v
	}
	if v := d.Settings.RequestTimeout; v > 0 {
		s.RequestTimeout = v
	}
	if v := d.Settings.PollTimeout; v > 0 {
		s.PollTimeout = v
	}
	if v := d.Settings.PollInterval; v > 0 {
		s.PollInterval = v
	}
	if v := d.Settings.RetryAttempts; v > 0 {
		s.RetryAttempts = v
	}
	if v := d.Settings.RetryInitialDelay; v > 0 {
		s.RetryInitialDelay = v
	}
	if v := d.Settings.RetryMaxDelay; v > 0 {
		s.RetryMaxDelay = v
	}
	return s
}

// RolloutSettings converts the document settings for the deployment
// controller.
func (d *Document) RolloutSettings() rollout.Settings {
	s := rollout.DefaultSettings()
	if v := d.Settings.VerificationWindow; v > 0 {
		s.VerificationWindow = v
	}
	if v := d.Settings.ErrorThreshold; v > 0 {
		s.ErrorThreshold = v
	}
	if v := d.Settings.SampleInterval; v > 0 {
		s.SampleInterval = v
	}
	if v := d.Settings.ReadinessTimeout; v > 0 {
		s.ReadinessTimeout = v
	}
	if v := d.Settings.ReadinessInterval; v > 0 {
		s.ReadinessInterval = v
	}
	if v := d.Settings.RetainedRevisions; v > 0 {
		s.RetainedRevisions = v
	}
	return s
}
