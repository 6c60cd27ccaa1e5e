// Package cli implements the plexec command line: executing demo plans
// against the scripted solver and validating plan configurations.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the plexec CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "plexec",
		Short: "plexec - timeline plan executor",
		Long: `plexec drives a timeline-based plan forward in real time, notifying
observers as activities start and end, and adapting the plan when
requirements change or activities fail.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}
