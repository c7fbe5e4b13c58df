package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cypherdesk/cypher/internal/shell"
)

func createServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the shell core and serve the UI bridge",
		Long: `Start the shell core: probe for a running backend and spawn one when none
answers, then serve the bridge until interrupted. On exit a backend spawned
by this session is terminated.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Bridge.Addr = addr
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "bridge listen address (overrides bridge.addr)")
	return cmd
}

func runServe(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sh, err := shell.New(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sh.Close(); err != nil {
			a.log.Warn("shutdown incomplete", "error", err)
		}
	}()

	st, err := sh.Start(ctx)
	if err != nil {
		return err
	}
	a.log.Info("backend decision", "state", st.State.String(), "reason", st.Reason, "pid", st.PID, "path", st.Path)
	return sh.Serve(ctx, nil)
}
