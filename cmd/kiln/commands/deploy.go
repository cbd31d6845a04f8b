package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Deploy returns the command that rolls out a new application revision.
//
// Environment variables:
//
//	KILN_KUBECONFIG:          kubeconfig path (required)
//	KILN_PROMETHEUS_ENDPOINT: enables health verification when the document
//	                          carries a health query
func Deploy() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deploy [image]",
		Short: "Roll out a new application revision",
		Long: `Roll out the document's deployment as a new revision.

New instances surge in next to the serving ones, readiness is awaited,
then the revision is observed for the verification window. A breached
error threshold rolls back automatically; the previous revision never
stops serving until the new one is promoted.

Examples:
  # Deploy the image from the document
  kiln deploy

  # Deploy a specific image
  kiln deploy registry.example.com/app:v42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image := ""
			if len(args) == 1 {
				image = args[0]
			}
			return handlers.Deploy(cmd.Context(), configPath, image)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the desired-state document (default: kiln.yaml)")

	return cmd
}
