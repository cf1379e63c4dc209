package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xtxerr/cfgsync/internal/errors"
	"github.com/xtxerr/cfgsync/internal/loader"
	"github.com/xtxerr/cfgsync/internal/logging"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	sourcePath string
	targetDSN  string
	logLevel   string
	logJSON    bool

	cfg *loader.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "cfgsync",
		Short: "Import staged configuration while honouring ignore policies",
		Long: `cfgsync compares staged configuration with the active configuration,
moves changes suppressed by an object's ignore policy into an ignore group
(unless suppressing them would break a dependency) and imports the rest.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "cfgsync.yaml", "config file path")
	flags.StringVar(&opts.sourcePath, "source", "", "staged configuration directory (overrides config)")
	flags.StringVar(&opts.targetDSN, "target-dsn", "", "active configuration database (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "log in JSON format")

	root.AddCommand(
		newDiffCmd(opts),
		newImportCmd(opts),
		newResyncCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the config file, applies flag overrides and initializes
// logging. A missing config file means defaults.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := loader.Load(o.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loader.DefaultConfig()
	}

	// CLI overrides
	if o.sourcePath != "" {
		cfg.Source = loader.StorageSpec{Type: loader.StorageFile, Path: o.sourcePath}
	}
	if o.targetDSN != "" {
		cfg.Target.Type = loader.StorageSQL
		cfg.Target.DSN = o.targetDSN
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Log.JSON = true
	}

	logging.InitWriter(cmd.ErrOrStderr(), logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	o.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cfgsync version %s\n", Version)
		},
	}
}
