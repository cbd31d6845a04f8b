package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Apply returns the command that converges infrastructure to the document.
//
// Optional flags:
//
//	--config, -c: Path to the desired-state document (default: kiln.yaml)
//
// Environment variables:
//
//	KILN_HCLOUD_TOKEN: Hetzner Cloud API token
//	KILN_KUBECONFIG:   kubeconfig path, required for in-cluster kinds
func Apply() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge infrastructure to the document",
		Long: `Converge all declared resources to their desired state.

Resources are created, updated or replaced in dependency order. Resources
that are no longer declared are reported but never destroyed; use
'kiln destroy' for that.

Examples:
  # Converge using kiln.yaml in the current directory
  kiln apply

  # Converge using a specific document
  kiln apply -c production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Apply(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the desired-state document (default: kiln.yaml)")

	return cmd
}
