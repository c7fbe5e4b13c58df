package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cypherdesk/cypher/internal/config"
	"github.com/cypherdesk/cypher/internal/logger"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// app carries what PersistentPreRunE prepared.
type app struct {
	flags  GlobalFlags
	cfg    config.Config
	log    *slog.Logger
	closer io.Closer
	out    io.Writer
}

func buildRoot() *cobra.Command {
	a := &app{out: os.Stdout}
	root := &cobra.Command{
		Use:   "cypher",
		Short: "Cypher shell core: backend supervision, speech-to-text and system mapping",
		Long: `Cypher runs the orchestration core of the Cypher desktop assistant. It
supervises the local backend, runs the speech-to-text engine and maintains
the system context, exposing everything to the UI over a local HTTP bridge.

Examples:
  cypher serve                          # start the shell and its bridge
  cypher status                         # ask a running shell about the backend
  cypher transcribe note.webm           # one-off local transcription
  cypher settings set --stt-model medium`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.closer != nil {
				_ = a.closer.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		createServeCommand(a),
		createStatusCommand(a),
		createProbeCommand(a),
		createTranscribeCommand(a),
		createMapCommand(a),
		createSettingsCommand(a),
		createTokenCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.ConfigPath)
	if err != nil {
		return err
	}
	if a.flags.LogLevel != "" {
		cfg.Log.Level = a.flags.LogLevel
	}
	a.cfg = cfg
	a.log, a.closer = logger.Setup(cfg.LoggerConfig(), os.Stderr)
	slog.SetDefault(a.log)
	a.out = cmd.OutOrStdout()
	return nil
}
