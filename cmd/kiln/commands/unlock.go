package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Unlock returns the command that force-releases a stale state lock.
func Unlock() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Force-release a stale state lock",
		Long: `Release the state lock left behind by a run that died without
unlocking. Only use this when no other kiln run is active; unlocking a
live run allows concurrent mutation of the same state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("unlock clears the lock unconditionally; pass --force to confirm")
			}
			return handlers.Unlock(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm clearing the lock unconditionally")

	return cmd
}
