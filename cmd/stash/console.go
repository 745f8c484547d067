package main

import (
	"context"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/germanamz/stash/cmd/stash/internal/console"
	"github.com/germanamz/stash/pkg/screens"
	"github.com/germanamz/stash/pkg/stashdir"
	"github.com/germanamz/stash/pkg/transport"
)

func newConsoleCmd(opts *rootOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the bot in the terminal",
		Long: `Run a session in the terminal.

Type a message and press enter, start a line with / for a command, or type
#N to press the N-th button on screen. Logs go to <dir>/console.log.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsole(cmd.Context(), opts, actor)
		},
	}

	cmd.Flags().StringVar(&actor, "actor", defaultActor(), "actor id of the session")

	return cmd
}

func runConsole(ctx context.Context, opts *rootOptions, actor string) error {
	// The terminal belongs to the UI, so logs go to a file.
	if err := stashdir.EnsureStructure(stashdir.New(opts.dir)); err != nil {
		return err
	}
	logFile, err := os.OpenFile(stashdir.New(opts.dir).LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	rt, err := setup(opts, logFile)
	if err != nil {
		return err
	}

	tr := &console.Transport{}
	eng, err := rt.engine(tr)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close(context.WithoutCancel(ctx)) }()

	return console.Run(ctx, transport.ActorID(actor), eng, tr, screens.ShowCommand)
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}

	return "console"
}
