package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexec/plexec/internal/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Validate a plan configuration",
		Long: `Parse and validate a plan configuration without executing it.

Example:
  plexec validate ./plan.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid plan", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: %d activities, horizon %s, %s units/tick, %dms/tick\n",
				cfg.Name, len(cfg.Plan), cfg.Horizon.Rational(),
				cfg.UnitsPerTick.Rational(), cfg.TickDurationMS)
			return nil
		},
	}
	return cmd
}
