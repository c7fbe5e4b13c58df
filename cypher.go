package cypher

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cypherdesk/cypher/internal/config"
	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/shell"
	"github.com/cypherdesk/cypher/internal/supervisor"
	"github.com/cypherdesk/cypher/internal/sysctx"
	"github.com/cypherdesk/cypher/internal/transcribe"
)

// Re-export core types for embedders.

type Config = config.Config

type Settings = settings.Settings

type SettingsPatch = settings.Patch

type BackendStatus = supervisor.Status

type TranscribeRequest = transcribe.Request

type TranscribeResult = transcribe.Result

type SystemContext = sysctx.Context

type ClientInfo = sysctx.ClientInfo

type MappingProgress = mapping.Progress

type MappingReport = mapping.Report

type Event = events.Event

// Shell is a thin facade over internal/shell.
type Shell struct{ inner *shell.Shell }

// LoadConfig reads the config file at path over the built-in defaults and
// the environment. An empty path reads the environment only.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// New builds a shell from c. Nothing runs until Start.
func New(c Config, log *slog.Logger) (*Shell, error) {
	inner, err := shell.New(c, log)
	if err != nil {
		return nil, err
	}
	return &Shell{inner: inner}, nil
}

// Start prepares persisted state and decides whether to launch the
// assistant backend. A missing backend is not an error; the shell runs
// degraded and the returned status says so.
func (s *Shell) Start(ctx context.Context) (BackendStatus, error) { return s.inner.Start(ctx) }

// Handler returns the local bridge HTTP handler.
func (s *Shell) Handler() http.Handler { return s.inner.Handler() }

// Serve runs the bridge on ln, or on the configured address when ln is nil,
// until ctx is done.
func (s *Shell) Serve(ctx context.Context, ln net.Listener) error { return s.inner.Serve(ctx, ln) }

// Close aborts any transcription, stops the backend and releases the store.
// Later calls return the first result.
func (s *Shell) Close() error { return s.inner.Close() }

// BackendStatus reports the supervised backend's current state.
func (s *Shell) BackendStatus() BackendStatus { return s.inner.Supervisor.Status() }

// Settings returns a copy of the persisted settings.
func (s *Shell) Settings() Settings { return s.inner.Settings.Get() }

// MergeSettings applies the non-nil fields of p, persists the result and
// broadcasts it to subscribers.
func (s *Shell) MergeSettings(p SettingsPatch) Settings { return s.inner.Settings.Merge(p) }

// Transcribe runs the speech-to-text engine on req.Audio. Failures come back
// in the result's Error field, never as a Go error.
func (s *Shell) Transcribe(ctx context.Context, req TranscribeRequest) TranscribeResult {
	return s.inner.Transcriber.Transcribe(ctx, req)
}

// AbortTranscription stops the in-flight transcription, if any. It reports
// whether there was one.
func (s *Shell) AbortTranscription() bool { return s.inner.Transcriber.Abort() }

// RunMapping executes the system mapping sequence, calling onProgress (which
// may be nil) as each step starts. It fails with mapping.ErrRunning while
// another sequence is in progress.
func (s *Shell) RunMapping(ctx context.Context, info ClientInfo, onProgress func(MappingProgress)) (MappingReport, error) {
	return s.inner.Mapper.Run(ctx, info, onProgress)
}

// SystemContext returns the last persisted system context.
func (s *Shell) SystemContext(ctx context.Context) (SystemContext, error) {
	return s.inner.Context.Load(ctx)
}

// Subscribe streams shell events; cancel releases the subscription.
func (s *Shell) Subscribe(buffer int) (<-chan Event, func()) { return s.inner.Bus.Subscribe(buffer) }

// RegisterMetrics registers the shell collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers the shell collectors with the default
// Prometheus registerer.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }
