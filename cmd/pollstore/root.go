package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pollstore/config"
	"pollstore/pkg/logging"
	"pollstore/storage"
)

// app carries the global flags shared by every subcommand.
type app struct {
	configPath        string
	backend           string
	dataDir           string
	dsn               string
	enforceUniqueness bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "pollstore",
		Short:         "pollstore - record which polls a user answered",
		Long:          `pollstore saves, fetches and checks poll answers per user against a configurable storage backend`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to configuration file")
	flags.StringVar(&a.backend, "backend", "", "Storage backend ("+strings.Join(config.Backends, "|")+")")
	flags.StringVar(&a.dataDir, "data-dir", "", "Data directory for the badger backend")
	flags.StringVar(&a.dsn, "dsn", "", "Database file for the sqlite backend")
	flags.BoolVar(&a.enforceUniqueness, "enforce-uniqueness", false, "Reject a second save of the same poll for an owner")

	// Add subcommands
	rootCmd.AddCommand(saveCmd(a))
	rootCmd.AddCommand(fetchCmd(a))
	rootCmd.AddCommand(existsCmd(a))
	rootCmd.AddCommand(backupCmd(a))

	return rootCmd
}

// withStore adapts fn into a RunE that opens storage for the duration of
// one command. The store is closed on every return path.
func (a *app) withStore(fn func(cmd *cobra.Command, args []string, cfg *config.Config, store storage.Storage) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := a.loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := logging.Setup(cfg.Logging, os.Stderr); err != nil {
			return err
		}

		store, err := storage.Open(cmd.Context(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer func() {
			if cerr := store.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()

		return fn(cmd, args, cfg, store)
	}
}

// loadConfig loads the configuration and applies flag overrides on top.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}

	// Override config with command line flags
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Storage.Backend = a.backend
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = a.dataDir
	}
	if flags.Changed("dsn") {
		cfg.Storage.DSN = a.dsn
	}
	if flags.Changed("enforce-uniqueness") {
		cfg.Storage.EnforceUniqueness = a.enforceUniqueness
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
