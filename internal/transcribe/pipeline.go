// Package transcribe turns a recorded audio blob into text by running the
// local speech-to-text engine as a short-lived subprocess.
//
// Every failure is reported as a Result with Error set; Transcribe never
// returns a Go error. At most one engine or transcoder run is "active" and
// can be aborted.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cypherdesk/cypher/internal/locator"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/process"
	"github.com/cypherdesk/cypher/internal/settings"
)

const abortedMessage = "aborted"

// SettingsSource supplies the persisted STT options.
type SettingsSource interface {
	Get() settings.Settings
}

// Options are the effective engine options for one run.
type Options struct {
	Model       string
	Device      string
	ComputeType string
	Language    string
	BatchSize   int
}

// Config wires a Pipeline.
type Config struct {
	Locator  *locator.Locator
	FFmpeg   string // transcoder override; empty searches the usual places
	Settings SettingsSource
	TempDir  string   // "" uses os.TempDir
	Env      []string // base environment; nil inherits the host
	Logger   *slog.Logger
}

// Pipeline runs transcriptions.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	tracker process.Tracker
	run     func(ctx context.Context, spec process.Spec, t *process.Tracker) process.Result

	mu      sync.Mutex
	current *inflight
}

// inflight is the abort handle of one Transcribe call. It outlives the
// gaps between subprocesses, where the tracker holds nothing.
type inflight struct {
	cancel    context.CancelFunc
	requested atomic.Bool
}

// New returns a Pipeline.
func New(cfg Config) *Pipeline {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: l.With("component", "transcribe"), run: process.Run}
}

// Abort terminates the active engine or transcoder run and stops the
// in-flight transcription from spawning anything further. It reports whether
// anything was running.
func (p *Pipeline) Abort() bool {
	aborted := p.tracker.Abort()
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur != nil {
		cur.requested.Store(true)
		cur.cancel()
		aborted = true
	}
	if aborted {
		p.logger.Info("transcription aborted")
	}
	return aborted
}

// Busy reports whether a subprocess is active.
func (p *Pipeline) Busy() bool { return p.tracker.Active() != nil }

// Transcribe runs one transcription.
func (p *Pipeline) Transcribe(ctx context.Context, req Request) Result {
	start := time.Now()
	runID := uuid.NewString()
	log := p.logger.With("run_id", runID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cur := &inflight{cancel: cancel}
	p.mu.Lock()
	p.current = cur
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.current == cur {
			p.current = nil
		}
		p.mu.Unlock()
	}()

	res := p.transcribe(ctx, log, cur, req)
	res.RunID = runID

	outcome := metrics.OutcomeSuccess
	switch {
	case res.Error == abortedMessage:
		outcome = metrics.OutcomeTerminated
	case !res.OK():
		outcome = metrics.OutcomeFailed
	}
	metrics.ObserveTranscription(outcome, time.Since(start).Seconds())
	if res.OK() {
		log.Info("transcription finished", "chars", len(res.Text), "language", res.Language, "duration", time.Since(start))
	} else {
		log.Warn("transcription failed", "error", res.Error, "duration", time.Since(start))
	}
	return res
}

func (p *Pipeline) transcribe(ctx context.Context, log *slog.Logger, cur *inflight, req Request) Result {
	if len(req.Audio) == 0 {
		return errorResult("no audio data")
	}
	opts := p.options(req)

	input, err := writeInput(p.cfg.TempDir, req.Ext, req.Audio)
	if err != nil {
		return errorResult(fmt.Sprintf("write audio: %v", err))
	}
	defer removeQuiet(input)

	resolver := &Resolver{Locator: p.cfg.Locator, Override: p.settings().STTEnginePath, TempDir: p.cfg.TempDir}
	eng, err := resolver.Resolve()
	if err != nil {
		return errorResult(err.Error())
	}
	defer eng.Close()
	log.Debug("engine resolved", "path", eng.Path, "script", eng.Script, "strategy", eng.Strategy)

	ffmpeg := ResolveFFmpeg(p.cfg.Locator, p.cfg.FFmpeg)
	envList := Overlay(p.cfg.Env, eng, ffmpeg)

	audio := input
	if ffmpeg != "" && !cur.requested.Load() {
		out, aborted := p.transcode(ctx, ffmpeg, input, envList)
		if aborted {
			return errorResult(abortedMessage)
		}
		if out != "" {
			audio = out
			defer removeQuiet(out)
		}
	}
	if cur.requested.Load() {
		return errorResult(abortedMessage)
	}

	run := p.run(ctx, process.Spec{
		Name: "stt",
		Path: eng.Path,
		Args: eng.Args(audio, opts),
		Env:  envList,
	}, &p.tracker)

	r := parseRun(run)
	if !r.OK() && cur.requested.Load() {
		r.Error = abortedMessage
	}
	r.Engine = string(eng.Strategy)
	return r
}

// parseRun reads the engine result; stdout is parsed even on a non-zero exit.
func parseRun(run process.Result) Result {
	if obj, strat, ok := ExtractJSON(run.Stdout); ok {
		r := fromObject(obj)
		r.Strategy = strat
		return r
	}
	r := Result{Strategy: StrategyNone}
	switch {
	case run.Terminated:
		r.Error = abortedMessage
	case strings.TrimSpace(run.Stderr) != "":
		r.Error = strings.TrimSpace(tail(run.Stderr, 2048))
	case run.Err != nil:
		r.Error = run.Err.Error()
	case run.ExitCode != 0:
		r.Error = fmt.Sprintf("transcription engine exited with code %d", run.ExitCode)
	default:
		r.Error = "transcription engine produced no result"
	}
	return r
}

func (p *Pipeline) settings() settings.Settings {
	if p.cfg.Settings == nil {
		return settings.Settings{}
	}
	return p.cfg.Settings.Get()
}

// options layers request values over settings over built-in defaults.
func (p *Pipeline) options(req Request) Options {
	s := p.settings()
	d := settings.Defaults("")
	o := Options{
		Model:       first(req.Model, s.STTModel, d.STTModel),
		Device:      first(req.Device, s.STTDevice, d.STTDevice),
		ComputeType: first(req.ComputeType, s.STTComputeType, d.STTComputeType),
		Language:    s.STTLanguage,
		BatchSize:   d.STTBatchSize,
	}
	if req.Language != nil {
		o.Language = *req.Language
	}
	switch {
	case req.BatchSize > 0:
		o.BatchSize = req.BatchSize
	case s.STTBatchSize > 0:
		o.BatchSize = s.STTBatchSize
	}
	return o
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// writeInput stores audio as cypher-stt-<unixnano>.<ext>, never overwriting.
func writeInput(dir, ext string, audio []byte) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	ext = sanitizeExt(ext)
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, fmt.Sprintf("cypher-stt-%d.%s", time.Now().UnixNano(), ext))
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(audio); err != nil {
			_ = f.Close()
			_ = os.Remove(name)
			return "", err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(name)
			return "", err
		}
		return name, nil
	}
	return "", errors.New("could not allocate a unique temp file")
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || len(ext) > 8 {
		return "webm"
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "webm"
		}
	}
	return ext
}

func removeQuiet(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
