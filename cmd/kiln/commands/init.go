package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Init returns the command that creates a document interactively.
func Init() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a desired-state document interactively",
		Long: `Walk through a short wizard and write a complete kiln.yaml with a
network, subnet, cluster and worker group, plus optional deployment and
monitoring blocks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), outputPath)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path (default: kiln.yaml)")

	return cmd
}
