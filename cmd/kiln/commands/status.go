package commands

import (
	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Status returns the command that prints recorded state and history.
func Status() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded resources and rollout history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Status(cmd.Context())
		},
	}
}
