// Package cli implements the recordstore command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/ASHISH26940/recordstore/internal/config"
	"github.com/ASHISH26940/recordstore/internal/store"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.toml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the recordstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "recordstore",
		Short:         "recordstore - JSON records on disk behind a small HTTP API",
		Long:          "Serves a flat list of JSON records persisted to a single file, with read-all and upsert endpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))

	return cmd
}

// loadConfig reads the config file. A missing file is only tolerated when
// the path was not given explicitly.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (*config.Config, error) {
	cfg := config.New()
	err := cfg.Load(opts.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) *store.Store {
	return store.New(cfg.Store.DataFile, cfg.Store.BackupFile, store.WithLogger(logger))
}
