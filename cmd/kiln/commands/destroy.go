package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Destroy returns the command that removes all recorded resources.
func Destroy() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy all recorded resources",
		Long: `Remove every recorded resource in reverse dependency order.

Asks for confirmation unless --yes is given. Resources a previous apply
reported as no longer declared are removed here too.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), configPath, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the resource document")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
