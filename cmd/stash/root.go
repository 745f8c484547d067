package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/germanamz/stash/pkg/engine"
	"github.com/germanamz/stash/pkg/screens"
	"github.com/germanamz/stash/pkg/secstore"
	"github.com/germanamz/stash/pkg/stashdir"
	"github.com/germanamz/stash/pkg/transport"
	"github.com/germanamz/stash/pkg/whitelist"
)

type rootOptions struct {
	dir        string
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "stash",
		Short:         "Encrypted record repositories behind a chat bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.dir, "dir", stashdir.DefaultRoot, "path to the stash data directory")
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (default: <dir>/config.yaml)")
	flags.StringVar(&opts.envFile, "env", "", "path to .env file, ignored if missing (default: <dir>/.env)")

	cmd.AddCommand(newServeCmd(opts), newConsoleCmd(opts), newInitCmd(opts))

	return cmd
}

// runtime is everything the long-running commands share.
type runtime struct {
	dir    stashdir.Dir
	cfg    engine.Config
	timing engine.Timing
	log    *slog.Logger
	allow  *whitelist.List
}

// setup loads the environment and configuration and prepares the data
// directory. Logs go to logOut.
func setup(opts *rootOptions, logOut io.Writer) (*runtime, error) {
	dir := stashdir.New(opts.dir)

	envFile := opts.envFile
	if envFile == "" {
		envFile = dir.EnvPath()
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(opts.configPath, dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timing, err := cfg.Timing()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}

	if err := stashdir.EnsureStructure(dir); err != nil {
		return nil, err
	}

	wlPath := cfg.Whitelist
	if wlPath == "" {
		wlPath = dir.WhitelistPath()
	}
	allow, err := whitelist.Load(wlPath, log)
	if err != nil {
		return nil, err
	}
	log.Info("whitelist loaded", "path", wlPath, "actors", allow.String())

	return &runtime{dir: dir, cfg: cfg, timing: timing, log: log, allow: allow}, nil
}

// engine builds the engine that talks to actors through tr.
func (r *runtime) engine(tr transport.Transport) (*engine.Engine, error) {
	store := secstore.NewFileStore(r.dir.ReposDir(),
		secstore.WithKDF(r.cfg.KDF()),
		secstore.WithLogger(r.log),
	)

	return engine.New(r.cfg, engine.Options{
		Transport: tr,
		Root:      screens.Root(screens.Deps{Store: store, IdleTimeout: r.timing.IdleTimeout}),
		Whitelist: r.allow,
		Logger:    r.log,
	})
}

// loadConfig resolves the config file: explicit path, then <dir>/config.yaml,
// then built-in defaults.
func loadConfig(path string, dir stashdir.Dir) (engine.Config, error) {
	if path == "" && dir.HasConfig() {
		path = dir.ConfigPath()
	}

	cfg := engine.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = engine.LoadConfig(path); err != nil {
			return engine.Config{}, err
		}
	}
	cfg.StashDir = dir.Root()

	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

func newLogger(cfg engine.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	hopts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
