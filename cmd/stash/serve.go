package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/germanamz/stash/pkg/admin"
	"github.com/germanamz/stash/pkg/transport/wsock"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var origins []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over websockets",
		Long: `Serve bot sessions over websockets.

Clients connect to /ws?actor=<id> and exchange JSON frames. When admin is
enabled in the config, an MCP endpoint for session administration is mounted
at admin.path.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, origins, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed cross-origin host patterns")

	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, origins []string, logOut io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := setup(opts, logOut)
	if err != nil {
		return err
	}

	srv := wsock.New(wsock.WithLogger(rt.log), wsock.WithOriginPatterns(origins...))
	eng, err := rt.engine(srv)
	if err != nil {
		return err
	}
	srv.Bind(eng)

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if rt.cfg.Admin.Enabled {
		mux.Handle(rt.cfg.Admin.Path, admin.New(eng, version).Handler())
		rt.log.Info("admin endpoint enabled", "path", rt.cfg.Admin.Path)
	}

	httpSrv := &http.Server{
		Addr:              rt.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		_ = eng.Run(ctx)
	})
	wg.Go(func() {
		if err := rt.allow.Watch(ctx); err != nil {
			rt.log.Warn("whitelist watch stopped", "error", err)
		}
	})

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("listening", "addr", rt.cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		cancel()
	}

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer done()

	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		rt.log.Warn("http shutdown failed", "error", serr)
	}
	wg.Wait()

	if cerr := eng.Close(shutdownCtx); cerr != nil {
		rt.log.Warn("engine close failed", "error", cerr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}
