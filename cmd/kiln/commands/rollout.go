package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Rollout returns the command group for deployment revisions.
func Rollout() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Inspect deployment revisions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the revision history, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.RolloutStatus(cmd.Context())
		},
	})

	return cmd
}
