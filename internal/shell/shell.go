// Package shell wires the orchestration core together and owns its
// lifecycle: start the backend decision, serve the bridge, and on shutdown
// terminate the backend before releasing state.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/cypherdesk/cypher/internal/auth"
	"github.com/cypherdesk/cypher/internal/backend"
	"github.com/cypherdesk/cypher/internal/bridge"
	"github.com/cypherdesk/cypher/internal/config"
	"github.com/cypherdesk/cypher/internal/cron"
	"github.com/cypherdesk/cypher/internal/detector"
	"github.com/cypherdesk/cypher/internal/env"
	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/locator"
	"github.com/cypherdesk/cypher/internal/logger"
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/shortcut"
	"github.com/cypherdesk/cypher/internal/store"
	"github.com/cypherdesk/cypher/internal/store/factory"
	"github.com/cypherdesk/cypher/internal/supervisor"
	"github.com/cypherdesk/cypher/internal/sysctx"
	"github.com/cypherdesk/cypher/internal/transcribe"
)

const shutdownTimeout = 5 * time.Second

// Shell is the composed core. Fields are exported for the CLI and tests.
type Shell struct {
	Config      config.Config
	Bus         *events.Bus
	Shortcuts   *shortcut.Table
	Settings    *settings.Manager
	Store       store.Store
	Context     *sysctx.Repository
	Backend     *backend.Client
	Prober      detector.HTTPDetector
	Supervisor  *supervisor.Supervisor
	Transcriber *transcribe.Pipeline
	Mapper      *mapping.Orchestrator
	Sampler     *metrics.ResourceSampler
	Auth        *auth.Service
	Refresh     *cron.Scheduler // nil unless mapping.schedule is set

	log       *slog.Logger
	closers   []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// New builds every component from cfg. Nothing is started.
func New(cfg config.Config, log *slog.Logger) (*Shell, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Shell{Config: cfg, log: log, Bus: events.NewBus(0)}
	s.Shortcuts = shortcut.NewTable(s.Bus)

	settingsPath := cfg.State.SettingsPath
	if settingsPath == "" {
		p, err := settings.DefaultPath()
		if err != nil {
			return nil, err
		}
		settingsPath = p
	}
	s.Settings = settings.NewManager(settings.Options{
		Store:     settings.NewFileStore(settingsPath),
		Shortcuts: s.Shortcuts,
		Publisher: s.Bus,
		Logger:    log,
	})

	st, err := factory.NewFromDSN(cfg.State.ContextDSN)
	if err != nil {
		return nil, fmt.Errorf("open context store: %w", err)
	}
	s.Store = st
	s.Context = sysctx.NewRepository(st)

	s.Backend = backend.New(backend.Config{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.RequestTimeout, Logger: log})
	s.Prober = detector.HTTPDetector{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.ProbeTimeout}

	extraEnv, err := cfg.BackendEnv()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	var procEnv []string // nil inherits the host environment
	if len(extraEnv) > 0 {
		procEnv = env.New().Merge(extraEnv)
	}
	stdout, stderr := s.backendSinks()
	loc := cfg.Locator()
	s.Supervisor = supervisor.New(supervisor.Options{
		Probe:     s.Prober,
		Locate:    func() locator.Result { return locateBackend(loc, cfg.Backend) },
		Args:      cfg.Backend.Args,
		WorkDir:   cfg.AppRoot,
		Env:       procEnv,
		Stdout:    stdout,
		Stderr:    stderr,
		Publisher: s.Bus,
		Logger:    log,
	})

	s.Transcriber = transcribe.New(transcribe.Config{
		Locator:  loc,
		FFmpeg:   cfg.STT.FFmpeg,
		Settings: s.Settings,
		Logger:   log,
	})
	s.Mapper = mapping.New(mapping.Options{
		Backend:   s.Backend,
		Repo:      s.Context,
		Publisher: s.Bus,
		Logger:    log,
	})
	s.Sampler = metrics.NewResourceSampler(cfg.Metrics.Resources, log)
	s.Auth = auth.NewService(cfg.Bridge.AuthSecret, cfg.Bridge.TokenTTL)
	if cfg.Mapping.Schedule != "" {
		s.Refresh, err = cron.New(cron.Options{
			Schedule: cfg.Mapping.Schedule,
			Timezone: cfg.Mapping.Timezone,
			Mapper:   s.Mapper,
			Logger:   log,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("mapping schedule: %w", err)
		}
	}
	return s, nil
}

// backendSinks forwards backend output to the application log and, when
// configured, to rotating files.
func (s *Shell) backendSinks() (io.Writer, io.Writer) {
	outLine := logger.NewLineWriter(s.log, slog.LevelInfo, "backend output", "stdout")
	errLine := logger.NewLineWriter(s.log, slog.LevelWarn, "backend output", "stderr")
	s.closers = append(s.closers, outLine, errLine)
	var stdout, stderr io.Writer = outLine, errLine

	outFile, errFile, err := s.Config.LoggerConfig().Writers("backend")
	if err != nil {
		s.log.Warn("backend log files unavailable", "error", err)
		return stdout, stderr
	}
	if outFile != nil {
		s.closers = append(s.closers, outFile)
		stdout = io.MultiWriter(outFile, outLine)
	}
	if errFile != nil {
		s.closers = append(s.closers, errFile)
		stderr = io.MultiWriter(errFile, errLine)
	}
	return stdout, stderr
}

func locateBackend(l *locator.Locator, c config.BackendConfig) locator.Result {
	if c.Executable != "" {
		res := locator.First(locator.Override(c.Executable)...)
		if res.Found && locator.EnsureExecutable(res.Path) != nil {
			return locator.NotFound
		}
		return res
	}
	return l.LocateBackend(c.Subpath)
}

// Start prepares state, binds shortcuts and takes the backend start
// decision. A missing backend is not an error; the shell runs degraded.
func (s *Shell) Start(ctx context.Context) (supervisor.Status, error) {
	if err := s.Store.EnsureSchema(ctx); err != nil {
		return supervisor.Status{}, fmt.Errorf("prepare context store: %w", err)
	}
	s.Settings.BindShortcuts()

	if s.Config.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			s.log.Warn("metrics registration failed", "error", err)
		}
		if err := s.Sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			s.log.Warn("resource metrics registration failed", "error", err)
		}
	}

	st, err := s.Supervisor.Start(ctx)
	if err != nil {
		return st, err
	}
	s.Sampler.Start(ctx, s.Supervisor.PID)
	if s.Refresh != nil {
		if err := s.Refresh.Start(); err != nil {
			s.log.Warn("context refresh not scheduled", "error", err)
		}
	}
	if st.Degraded() {
		s.log.Warn("backend unavailable, running degraded", "reason", st.Reason)
	}
	return st, nil
}

// Handler is the bridge handler for this shell.
func (s *Shell) Handler() http.Handler {
	deps := bridge.Deps{
		Settings:    s.Settings,
		Transcriber: s.Transcriber,
		Mapper:      s.Mapper,
		Context:     s.Context,
		Backend:     s.Backend,
		Supervisor:  s.Supervisor,
		Prober:      s.Prober,
		Shortcuts:   s.Shortcuts,
		Events:      s.Bus,
		Resources:   s.Sampler,
		Auth:        s.Auth,
		Logger:      s.log,
	}
	if s.Config.Metrics.Enabled {
		deps.Metrics = metrics.Handler()
	}
	return bridge.NewRouter(deps, s.Config.Bridge.BasePath).Handler()
}

// Serve runs the bridge on ln (or Config.Bridge.Addr when nil) until ctx is
// done, then shuts the server down gracefully.
func (s *Shell) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.Config.Bridge.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.Config.Bridge.Addr, err)
		}
	}
	srv := bridge.NewServer(ln.Addr().String(), s.Handler())
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("bridge listening", "addr", ln.Addr().String(), "base_path", s.Config.Bridge.BasePath)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.Supervisor.Done():
			st := s.Supervisor.Status()
			s.log.Warn("backend exited", "exit_code", st.ExitCode)
			<-gctx.Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close terminates the backend if this session spawned it, aborts a running
// transcription and releases state. Safe to call more than once.
func (s *Shell) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		s.Transcriber.Abort()
		if s.Refresh != nil {
			s.Refresh.Stop()
		}
		if err := s.Supervisor.Close(); err != nil && !errors.Is(err, supervisor.ErrClosed) {
			errs = append(errs, err)
		}
		s.Sampler.Stop()
		if err := s.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range s.closers {
			_ = c.Close()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
