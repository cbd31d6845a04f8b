package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cloudkiln/kiln/cmd/kiln/handlers"
)

// Rollback returns the command that redeploys a retained revision.
func Rollback() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rollback <revision>",
		Short: "Redeploy a retained revision",
		Long: `Redeploy the image of a retained revision as a new revision.

The target must be a revision in terminal state: Live, Superseded or
RolledBack. The rollback walks the same surge and verification pipeline
as a deploy and mints a fresh revision number.

Example:
  kiln rollback 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil || number < 1 {
				return fmt.Errorf("revision must be a positive number, got %q", args[0])
			}
			return handlers.Rollback(cmd.Context(), configPath, number)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the desired-state document (default: kiln.yaml)")

	return cmd
}
