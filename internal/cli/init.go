package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty data file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			st := openStore(cfg, newLogger(cfg.Log.Level, rootOpts.Verbose))
			if err := st.Initialize(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Data file ready at %s\n", st.Path())
			return nil
		},
	}
}
