package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/config"
	"github.com/thiagokokada/dotrack/internal/git"
	"github.com/thiagokokada/dotrack/internal/kvstore"
	"github.com/thiagokokada/dotrack/internal/logging"
	"github.com/thiagokokada/dotrack/internal/tracker"
)

type globalFlags struct {
	configPath string
	workTree   string
	storeDir   string
	backend    string
	logLevel   string
	verbose    bool
	noColor    bool
}

// app carries the state shared by every subcommand. The engine is opened
// on first use so commands like version work without a store.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	log    *zap.Logger
	engine *tracker.Engine

	stdout io.Writer
	stderr io.Writer
}

func (a *app) bindFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	f.StringVar(&a.flags.configPath, "config", "", "config file (default "+config.FilePath()+")")
	f.StringVar(&a.flags.workTree, "work-tree", "", "directory whose files are tracked (default ~)")
	f.StringVar(&a.flags.storeDir, "store-dir", "", "store directory name under the work tree (default .dotrack)")
	f.StringVar(&a.flags.backend, "backend", "", "storage backend: git or kv (default git)")
	f.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error (default warn)")
	f.BoolVarP(&a.flags.verbose, "verbose", "v", false, "enable debug logging")
	f.BoolVar(&a.flags.noColor, "no-color", false, "disable colored output")
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath, lookupEnv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("work-tree") {
		cfg.WorkTree = a.flags.workTree
	}
	if flags.Changed("store-dir") {
		cfg.StoreDir = a.flags.storeDir
	}
	if flags.Changed("backend") {
		cfg.Backend = a.flags.backend
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if a.flags.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if a.flags.noColor {
		color.NoColor = true
	}
	log, err := logging.New(cfg.LogLevel, a.flags.verbose)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) open() (*tracker.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}
	workTree, err := a.cfg.ResolveWorkTree()
	if err != nil {
		return nil, err
	}
	var backend tracker.Backend
	switch a.cfg.Backend {
	case config.BackendKV:
		backend, err = kvstore.Open(kvstore.Options{
			WorkTree: workTree,
			StoreDir: a.cfg.StoreDir,
			Logger:   a.log.Named("kv"),
		})
	default:
		backend, err = git.Open(git.Options{
			WorkTree:      workTree,
			StoreDir:      a.cfg.StoreDir,
			DefaultBranch: a.cfg.DefaultBranch,
			Probe:         probeGit,
			Logger:        a.log.Named("git"),
		})
	}
	if err != nil {
		return nil, err
	}
	a.log.Debug("store opened",
		zap.String("backend", backend.Name()),
		zap.String("work_tree", backend.WorkTree()),
		zap.String("store", backend.StoreDir()),
	)
	a.engine = tracker.New(backend, a.log.Named("tracker"))
	return a.engine, nil
}

func (a *app) close() error {
	var err error
	if a.engine != nil {
		err = a.engine.Close()
		a.engine = nil
	}
	if a.log != nil {
		// Sync fails on terminals; nothing useful to report.
		_ = a.log.Sync()
	}
	return err
}

func joinClose(err, closeErr error) error {
	if closeErr == nil {
		return err
	}
	return errors.Join(err, fmt.Errorf("closing store: %w", closeErr))
}
