package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Plan returns the command that previews what apply would do.
func Plan() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Diff the document against recorded state and print the actions a
converge would take. Planning reads state only; it never contacts the
cloud provider and never takes the lock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Plan(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the desired-state document (default: kiln.yaml)")

	return cmd
}
