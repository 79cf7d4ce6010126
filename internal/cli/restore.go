package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Replace the data file with its backup",
		Long:  "Replace the data file with the backup taken before the last save. Stop the server first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			st := openStore(cfg, newLogger(cfg.Log.Level, rootOpts.Verbose))
			if err := st.RestoreBackup(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", st.Path(), st.BackupPath())
			return nil
		},
	}
}
