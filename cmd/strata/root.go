package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/strata/internal/config"
	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/loader"
	"github.com/dshills/strata/internal/config/luaplugin"
	"github.com/dshills/strata/internal/config/registry"
)

// EnvPrefix is the prefix of environment variables overlaid onto SESSION
// scope.
const EnvPrefix = "STRATA_"

// app holds the state shared by every command.
type app struct {
	out io.Writer

	configPath string
	backupDir  string
	pluginDir  string
	timeout    time.Duration
	verbose    bool
	noEnv      bool

	logger  *zap.Logger
	catalog *registry.Registry
	mgr     *config.Manager
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Strata - layered configuration manager",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c",
		loader.GetEnvOrDefault("STRATA_CONFIG", config.DefaultPath()), "configuration file")
	flags.StringVar(&a.backupDir, "backup-dir", config.DefaultBackupDir(), "backup directory")
	flags.StringVar(&a.pluginDir, "plugins", "", "directory of Lua plugins to load")
	flags.DurationVar(&a.timeout, "timeout", config.DefaultIOTimeout, "file operation timeout")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&a.noEnv, "no-env", false, "ignore "+EnvPrefix+"* environment variables")

	root.AddCommand(
		newGetCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newDumpCmd(a),
		newValidateCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newBackupCmd(a),
		newProfileCmd(a),
		newSettingsCmd(a),
		newPluginsCmd(a),
		newWatchCmd(a),
		newInfoCmd(a),
	)
	return root
}

// open builds the manager: the saved file is loaded, the built-in catalog
// is registered, Lua plugins are loaded and the environment is overlaid.
func (a *app) open(ctx context.Context) error {
	logger, err := newLogger(a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger

	a.mgr = config.New(
		config.WithLogger(logger),
		config.WithBackupDir(a.backupDir),
		config.WithIOTimeout(a.timeout),
	)

	if err := a.mgr.Load(ctx, a.configPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	a.catalog = registry.NewWithDefaults()
	builtins, err := a.catalog.Plugins(version)
	if err != nil {
		return err
	}
	for _, p := range builtins {
		if err := a.mgr.RegisterPlugin(p); err != nil {
			return err
		}
	}

	if a.pluginDir != "" {
		plugins, err := luaplugin.LoadDir(a.pluginDir, luaplugin.WithLogger(logger.Named("lua")))
		if err != nil {
			return err
		}
		for _, p := range plugins {
			if err := a.mgr.RegisterPlugin(p); err != nil {
				luaplugin.Close(p)
				return err
			}
		}
	}

	if !a.noEnv {
		if err := a.mgr.LoadEnv(EnvPrefix); err != nil {
			return err
		}
	}
	return nil
}

// save writes the persisted scopes and the profiles to the config file.
func (a *app) save(ctx context.Context) error {
	report, err := a.mgr.Save(ctx, a.configPath, true)
	if err != nil && !report.OK() {
		for _, msg := range report.Messages() {
			fmt.Fprintln(a.out, msg)
		}
	}
	return err
}

func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	err := a.mgr.Close(context.Background())
	_ = a.logger.Sync()
	return err
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	return cfg.Build()
}

// scopeFlag parses the --scope flag.
func scopeFlag(cmd *cobra.Command) (layer.Scope, error) {
	name, err := cmd.Flags().GetString("scope")
	if err != nil {
		return 0, err
	}
	return layer.ParseScope(name)
}
