package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/germanamz/stash/pkg/engine"
	"github.com/germanamz/stash/pkg/stashdir"
)

type wizardAnswers struct {
	Listen       string
	SessionTTL   string
	IdleTimeout  string
	CloseCommand string
	AdminEnabled bool
	LogLevel     string
	LogFormat    string
	Whitelist    string // comma separated actor ids
}

func defaultAnswers() wizardAnswers {
	cfg := engine.DefaultConfig()

	return wizardAnswers{
		Listen:       cfg.Listen,
		SessionTTL:   cfg.SessionTTL,
		IdleTimeout:  cfg.IdleTimeout,
		CloseCommand: cfg.CloseCommand,
		AdminEnabled: cfg.Admin.Enabled,
		LogLevel:     cfg.Log.Level,
		LogFormat:    cfg.Log.Format,
	}
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the stash data directory",
		Long: `Create the data directory with a config file, an optional whitelist and
the repository folder. An existing config file is left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			answers := defaultAnswers()
			if !yes {
				if err := runWizard(&answers); err != nil {
					return err
				}
			}

			d := stashdir.New(opts.dir)
			if err := writeInit(d, answers); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", d.Root())

			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept defaults without prompting")

	return cmd
}

func runWizard(a *wizardAnswers) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Listen address").Value(&a.Listen).Validate(required("listen address")),
			huh.NewInput().Title("Close idle sessions after").Value(&a.SessionTTL).Validate(validDuration),
			huh.NewInput().Title("Close idle repositories after").Value(&a.IdleTimeout).Validate(validDuration),
			huh.NewInput().Title("Command that ends a session").Value(&a.CloseCommand).Validate(required("close command")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Allowed actors").
				Description("Comma separated. Leave empty to allow everyone.").
				Value(&a.Whitelist),
			huh.NewConfirm().Title("Enable the MCP admin endpoint?").Value(&a.AdminEnabled),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&a.LogLevel),
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&a.LogFormat),
		),
	).Run()
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive")
	}

	return nil
}

func (a wizardAnswers) config() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Listen = a.Listen
	cfg.SessionTTL = a.SessionTTL
	cfg.IdleTimeout = a.IdleTimeout
	cfg.CloseCommand = strings.TrimPrefix(strings.TrimSpace(a.CloseCommand), "/")
	cfg.Admin.Enabled = a.AdminEnabled
	cfg.Log = engine.LogConfig{Level: a.LogLevel, Format: a.LogFormat}

	return cfg
}

func (a wizardAnswers) actors() []string {
	var out []string
	for _, s := range strings.Split(a.Whitelist, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	return out
}

// writeInit bootstraps d with the answers. The whitelist is only written
// when actors were given and no whitelist exists yet.
func writeInit(d stashdir.Dir, a wizardAnswers) error {
	cfg := a.config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := stashdir.Bootstrap(d, data); err != nil {
		return err
	}

	actors := a.actors()
	if len(actors) == 0 {
		return nil
	}
	if _, err := os.Stat(d.WhitelistPath()); err == nil {
		return nil
	}

	body := "# One actor id per line.\n" + strings.Join(actors, "\n") + "\n"
	if err := os.WriteFile(d.WhitelistPath(), []byte(body), 0o600); err != nil {
		return fmt.Errorf("init: write whitelist: %w", err)
	}

	return nil
}
