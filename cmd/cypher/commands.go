package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cypherdesk/cypher/internal/auth"
	"github.com/cypherdesk/cypher/internal/backend"
	"github.com/cypherdesk/cypher/internal/detector"
	"github.com/cypherdesk/cypher/internal/locator"
	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/settings"
	"github.com/cypherdesk/cypher/internal/store/factory"
	"github.com/cypherdesk/cypher/internal/sysctx"
	"github.com/cypherdesk/cypher/internal/transcribe"
	"github.com/cypherdesk/cypher/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// bridgeURL is the URL of a locally running shell's bridge.
func (a *app) bridgeURL() string {
	return "http://" + a.cfg.Bridge.Addr + a.cfg.Bridge.BasePath
}

func (a *app) bridgeClient(apiURL string, timeout time.Duration) *client.Client {
	if apiURL == "" {
		apiURL = a.bridgeURL()
	}
	cfg := client.Config{BaseURL: apiURL, Timeout: timeout, Logger: a.log}
	if svc := a.authService(); svc.Enabled() {
		if tok, _, err := svc.Issue("cli"); err == nil {
			cfg.Token = tok
		}
	}
	return client.New(cfg)
}

func (a *app) authService() *auth.Service {
	return auth.NewService(a.cfg.Bridge.AuthSecret, a.cfg.Bridge.TokenTTL)
}

type tokenResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func createTokenCommand(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bridge bearer token signed with bridge.auth_secret",
		RunE: func(_ *cobra.Command, _ []string) error {
			tok, exp, err := a.authService().Issue(name)
			if err != nil {
				return err
			}
			return printJSON(a.out, tokenResp{Token: tok, ExpiresAt: exp})
		},
	}
	cmd.Flags().StringVar(&name, "client", "ui", "client name recorded in the token")
	return cmd
}

func createStatusCommand(a *app) *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the backend status reported by a running shell",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL == "" {
				apiURL = a.bridgeURL()
			}
			st, err := a.bridgeClient(apiURL, 5*time.Second).BackendStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("shell at %s: %w", apiURL, err)
			}
			return printJSON(a.out, st)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "bridge URL (default from bridge.addr and bridge.base_path)")
	return cmd
}

type probeReport struct {
	URL       string           `json:"url"`
	Reachable bool             `json:"reachable"`
	Path      string           `json:"path,omitempty"`
	Strategy  locator.Strategy `json:"strategy"`
	Found     bool             `json:"found"`
}

func createProbeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe the backend URL and resolve the backend executable without starting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := detector.HTTPDetector{BaseURL: a.cfg.Backend.URL, Timeout: a.cfg.Backend.ProbeTimeout}
			rep := probeReport{URL: d.Describe(), Reachable: d.AliveContext(cmd.Context())}
			var res locator.Result
			if a.cfg.Backend.Executable != "" {
				res = locator.First(locator.Override(a.cfg.Backend.Executable)...)
			} else {
				res = a.cfg.Locator().Locate(locator.ExecutableName(a.cfg.Backend.Subpath))
			}
			rep.Path, rep.Strategy, rep.Found = res.Path, res.Strategy, res.Found
			return printJSON(a.out, rep)
		},
	}
}

// localSettings opens the settings file without a running shell.
func (a *app) localSettings() (*settings.Manager, error) {
	path := a.cfg.State.SettingsPath
	if path == "" {
		p, err := settings.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return settings.NewManager(settings.Options{Store: settings.NewFileStore(path), Logger: a.log}), nil
}

// TranscribeFlags holds transcribe command flags.
type TranscribeFlags struct {
	Model       string
	Device      string
	ComputeType string
	Language    string
	BatchSize   int
	APIUrl      string
}

func createTranscribeCommand(a *app) *cobra.Command {
	f := &TranscribeFlags{}
	cmd := &cobra.Command{
		Use:   "transcribe AUDIO",
		Short: "Transcribe an audio file with the local speech-to-text engine",
		Long: `Transcribe an audio file. By default the engine runs in this process;
with --api-url the file is sent to a running shell instead. Ctrl-C aborts
the engine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := a.transcribe(ctx, args[0], f, cmd.Flags().Changed("language"))
			if err != nil {
				return err
			}
			if err := printJSON(a.out, res); err != nil {
				return err
			}
			if !res.OK() {
				return errors.New(res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Model, "model", "", "model name (default from settings)")
	cmd.Flags().StringVar(&f.Device, "device", "", "cpu or cuda (default from settings)")
	cmd.Flags().StringVar(&f.ComputeType, "compute-type", "", "int8, float16, ... (default from settings)")
	cmd.Flags().StringVar(&f.Language, "language", "", "language code; empty autodetects")
	cmd.Flags().IntVar(&f.BatchSize, "batch-size", 0, "batch size (default from settings)")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "send to a running shell at this bridge URL")
	return cmd
}

func (a *app) transcribe(ctx context.Context, path string, f *TranscribeFlags, langSet bool) (transcribe.Result, error) {
	audio, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return transcribe.Result{}, err
	}
	var lang *string
	if langSet {
		lang = &f.Language
	}
	ext := filepath.Ext(path)

	if f.APIUrl != "" {
		c := a.bridgeClient(f.APIUrl, 0)
		return c.Transcribe(ctx, client.TranscribeRequest{
			Audio: audio, Ext: ext, Model: f.Model, Device: f.Device,
			ComputeType: f.ComputeType, Language: lang, BatchSize: f.BatchSize,
		})
	}

	mgr, err := a.localSettings()
	if err != nil {
		return transcribe.Result{}, err
	}
	p := transcribe.New(transcribe.Config{
		Locator:  a.cfg.Locator(),
		FFmpeg:   a.cfg.STT.FFmpeg,
		Settings: mgr,
		Logger:   a.log,
	})
	return p.Transcribe(ctx, transcribe.Request{
		Audio: audio, Ext: ext, Model: f.Model, Device: f.Device,
		ComputeType: f.ComputeType, Language: lang, BatchSize: f.BatchSize,
	}), nil
}

func createMapCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Run the system mapping sequence against the backend and persist the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := factory.NewFromDSN(a.cfg.State.ContextDSN)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if err := st.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			o := mapping.New(mapping.Options{
				Backend: backend.New(backend.Config{BaseURL: a.cfg.Backend.URL, Timeout: a.cfg.Backend.RequestTimeout, Logger: a.log}),
				Repo:    sysctx.NewRepository(st),
				Logger:  a.log,
			})
			report, runErr := o.Run(cmd.Context(), sysctx.HostInfo(), func(p mapping.Progress) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%3d%% %s\n", p.Percent, p.Label)
			})
			for _, s := range report.Steps {
				_, _ = fmt.Fprintf(a.out, "%-12s %-9s %s\n", s.Topic, s.Status, s.Command)
			}
			_, _ = fmt.Fprintf(a.out, "source: %s\n", report.Context.Meta.Source)
			return runErr
		},
	}
}

// SettingsSetFlags are the settable fields; only flags that were given apply.
type SettingsSetFlags struct {
	ToggleShortcut string
	STTShortcut    string
	STTEnginePath  string
	STTModel       string
	STTDevice      string
	STTComputeType string
	STTLanguage    string
	STTBatchSize   int
	AutoExecute    bool
	BackendModel   string
	APIUrl         string
}

func createSettingsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change user settings",
		Long: `Read or change user settings. When a shell is running the change goes
through it so shortcuts are rebound and the UI is notified; otherwise the
settings file is edited directly.`,
	}
	var getURL string
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settingsGet(cmd.Context(), getURL)
			if err != nil {
				return err
			}
			return printJSON(a.out, s)
		},
	}
	get.Flags().StringVar(&getURL, "api-url", "", "bridge URL of a running shell")

	f := &SettingsSetFlags{}
	set := &cobra.Command{
		Use:   "set",
		Short: "Merge the given fields into the settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := patchFromFlags(cmd, f)
			if p.Empty() {
				return errors.New("no settings given")
			}
			s, err := a.settingsMerge(cmd.Context(), f.APIUrl, p)
			if err != nil {
				return err
			}
			return printJSON(a.out, s)
		},
	}
	fl := set.Flags()
	fl.StringVar(&f.ToggleShortcut, "toggle-shortcut", "", "window toggle accelerator")
	fl.StringVar(&f.STTShortcut, "stt-shortcut", "", "dictation accelerator")
	fl.StringVar(&f.STTEnginePath, "stt-engine-path", "", "engine executable or runner script")
	fl.StringVar(&f.STTModel, "stt-model", "", "speech-to-text model")
	fl.StringVar(&f.STTDevice, "stt-device", "", "cpu or cuda")
	fl.StringVar(&f.STTComputeType, "stt-compute-type", "", "int8, float16, ...")
	fl.StringVar(&f.STTLanguage, "stt-language", "", "language code; empty autodetects")
	fl.IntVar(&f.STTBatchSize, "stt-batch-size", 0, "engine batch size")
	fl.BoolVar(&f.AutoExecute, "auto-execute", false, "run transcribed goals immediately")
	fl.StringVar(&f.BackendModel, "backend-model", "", "default model for execute")
	fl.StringVar(&f.APIUrl, "api-url", "", "bridge URL of a running shell")

	cmd.AddCommand(get, set)
	return cmd
}

func patchFromFlags(cmd *cobra.Command, f *SettingsSetFlags) settings.Patch {
	var p settings.Patch
	changed := cmd.Flags().Changed
	str := func(name string, v *string, dst **string) {
		if changed(name) {
			*dst = v
		}
	}
	str("toggle-shortcut", &f.ToggleShortcut, &p.ToggleShortcut)
	str("stt-shortcut", &f.STTShortcut, &p.STTShortcut)
	str("stt-engine-path", &f.STTEnginePath, &p.STTEnginePath)
	str("stt-model", &f.STTModel, &p.STTModel)
	str("stt-device", &f.STTDevice, &p.STTDevice)
	str("stt-compute-type", &f.STTComputeType, &p.STTComputeType)
	str("stt-language", &f.STTLanguage, &p.STTLanguage)
	str("backend-model", &f.BackendModel, &p.BackendModel)
	if changed("stt-batch-size") {
		p.STTBatchSize = &f.STTBatchSize
	}
	if changed("auto-execute") {
		p.AutoExecute = &f.AutoExecute
	}
	return p
}

// remote returns a bridge client when a shell answers, nil otherwise.
func (a *app) remote(ctx context.Context, apiURL string) *client.Client {
	explicit := apiURL != ""
	c := a.bridgeClient(apiURL, 10*time.Second)
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if c.IsReachable(pctx) || explicit {
		return c
	}
	return nil
}

func (a *app) settingsGet(ctx context.Context, apiURL string) (settings.Settings, error) {
	if c := a.remote(ctx, apiURL); c != nil {
		return c.Settings(ctx)
	}
	mgr, err := a.localSettings()
	if err != nil {
		return settings.Settings{}, err
	}
	return mgr.Get(), nil
}

func (a *app) settingsMerge(ctx context.Context, apiURL string, p settings.Patch) (settings.Settings, error) {
	if c := a.remote(ctx, apiURL); c != nil {
		return c.MergeSettings(ctx, p)
	}
	mgr, err := a.localSettings()
	if err != nil {
		return settings.Settings{}, err
	}
	return mgr.Merge(p), nil
}
