package config

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"
)

var projectNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

func validateProjectName(s string) error {
	if !projectNameRe.MatchString(s) {
		return fmt.Errorf("name must be DNS-safe: lowercase letters, digits and dashes")
	}
	return nil
}

func validateImage(s string) error {
	if s == "" {
		return nil // deployment block is optional
	}
	if !regexp.MustCompile(`^[^\s:]+:[^\s:]+$`).MatchString(s) {
		return fmt.Errorf("image must be a repo:tag reference")
	}
	return nil
}

// WizardResult holds the user's choices from the wizard.
type WizardResult struct {
	Name        string
	Zone        string
	Location    string
	WorkerCount int
	WorkerSize  string
	Image       string
	Monitoring  bool
}

// RunWizard walks the user through a minimal desired-state document.
func RunWizard(ctx context.Context) (*WizardResult, error) {
	result := &WizardResult{
		// Defaults
		Zone:        "eu-central",
		Location:    "nbg1",
		WorkerCount: 2,
		WorkerSize:  "cx32",
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project name").
				Description("A unique name for this environment (DNS-safe, lowercase)").
				Placeholder("my-project").
				Value(&result.Name).
				Validate(validateProjectName),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Network zone").
				Description("Hetzner Cloud network zone for the private network").
				Options(
					huh.NewOption("EU Central (eu-central)", "eu-central"),
					huh.NewOption("US East (us-east)", "us-east"),
					huh.NewOption("US West (us-west)", "us-west"),
				).
				Value(&result.Zone),

			huh.NewSelect[string]().
				Title("Location").
				Description("Datacenter for cluster and worker nodes").
				Options(
					huh.NewOption("Falkenstein, Germany (fsn1)", "fsn1"),
					huh.NewOption("Nuremberg, Germany (nbg1)", "nbg1"),
					huh.NewOption("Helsinki, Finland (hel1)", "hel1"),
					huh.NewOption("Ashburn, USA (ash)", "ash"),
				).
				Value(&result.Location),
		),

		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Number of workers").
				Description("Worker nodes run your application workloads").
				Options(
					huh.NewOption("1 worker", 1),
					huh.NewOption("2 workers", 2),
					huh.NewOption("3 workers", 3),
					huh.NewOption("5 workers", 5),
				).
				Value(&result.WorkerCount),

			huh.NewSelect[string]().
				Title("Worker size").
				Description("Shared vCPU instances (cost-effective)").
				Options(
					huh.NewOption("CX22 - 2 vCPU, 4GB RAM", "cx22"),
					huh.NewOption("CX32 - 4 vCPU, 8GB RAM", "cx32"),
					huh.NewOption("CX42 - 8 vCPU, 16GB RAM", "cx42"),
					huh.NewOption("CX52 - 16 vCPU, 32GB RAM", "cx52"),
				).
				Value(&result.WorkerSize),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Application image (optional)").
				Description("Container image to roll out, e.g. registry.example.com/app:v1. Leave empty to skip.").
				Value(&result.Image).
				Validate(validateImage),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Install the monitoring stack?").
				Description("Prometheus, Grafana and Alertmanager via kube-prometheus-stack").
				Value(&result.Monitoring),
		),
	)

	if err := form.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("wizard canceled: %w", err)
	}

	return result, nil
}

// ToDocument converts the wizard result into a full desired-state document.
// The output is explicit so the generated YAML documents itself.
func (r *WizardResult) ToDocument() *Document {
	doc := &Document{
		Name: r.Name,
		Resources: []ResourceEntry{
			{
				ID:   "net",
				Kind: "Network",
				Spec: map[string]any{"cidr": "10.0.0.0/16", "zone": r.Zone},
			},
			{
				ID:        "subnet",
				Kind:      "Subnet",
				DependsOn: []string{"net"},
				Spec:      map[string]any{"cidr": "10.0.1.0/24", "zone": r.Zone},
			},
			{
				ID:        "cluster",
				Kind:      "Cluster",
				DependsOn: []string{"subnet"},
				Spec: map[string]any{
					"version":             "1.31",
					"location":            r.Location,
					"control_plane_count": 1,
				},
			},
			{
				ID:        "workers",
				Kind:      "NodeGroup",
				DependsOn: []string{"cluster"},
				Spec: map[string]any{
					"instance_type": r.WorkerSize,
					"count":         r.WorkerCount,
					"location":      r.Location,
				},
			},
		},
	}

	if r.Image != "" {
		doc.Deployment = &DeploymentConfig{
			Image:     r.Image,
			Replicas:  2,
			Namespace: "apps",
			AppName:   r.Name,
		}
	}

	if r.Monitoring {
		doc.Monitoring = &MonitoringConfig{Enabled: true}
	}

	return doc
}

// WriteDocumentYAML writes the document to path as YAML.
func WriteDocumentYAML(doc *Document, path string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
