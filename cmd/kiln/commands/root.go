// Package commands defines the CLI command structure and flag bindings.
//
// Commands handle argument parsing and delegate execution to the handlers
// package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the kiln CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kiln",
		Short: "Declarative cloud environments with rolling deployments",
		Long: `kiln converges a declared resource graph onto Hetzner Cloud and an
attached Kubernetes cluster, then rolls application revisions out with
surge, health verification and automatic rollback.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(Init())
	cmd.AddCommand(Plan())
	cmd.AddCommand(Apply())
	cmd.AddCommand(Destroy())
	cmd.AddCommand(Deploy())
	cmd.AddCommand(Rollback())
	cmd.AddCommand(Rollout())
	cmd.AddCommand(Status())
	cmd.AddCommand(Unlock())
	cmd.AddCommand(Version())

	return cmd
}
