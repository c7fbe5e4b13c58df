package transcribe

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cypherdesk/cypher/internal/locator"
)

//go:embed assets/whisperx_runner.py
var embeddedRunner []byte

const runnerScript = "whisperx_runner.py"

var systemPythons = []string{
	"/opt/homebrew/bin/python3",
	"/usr/local/bin/python3",
	"/usr/bin/python3",
}

// Engine is a resolved STT engine invocation.
type Engine struct {
	Path     string           // executable to spawn
	Script   string           // runner script passed first when Path is an interpreter
	Strategy locator.Strategy // where Path came from
	LibDir   string           // runtime library dir for the loader path overlay, if bundled

	cleanup func()
}

// Args builds the engine command line for audio.
func (e *Engine) Args(audio string, o Options) []string {
	var args []string
	if e.Script != "" {
		args = append(args, e.Script)
	}
	args = append(args, audio,
		"--model", o.Model,
		"--device", o.Device,
		"--compute_type", o.ComputeType,
		"--batch_size", fmt.Sprint(o.BatchSize),
	)
	if o.Language != "" {
		args = append(args, "--language", o.Language)
	}
	return append(args, "--no_align")
}

// Close removes a generated runner script.
func (e *Engine) Close() {
	if e.cleanup != nil {
		e.cleanup()
		e.cleanup = nil
	}
}

// Resolver finds the STT engine.
type Resolver struct {
	Locator  *locator.Locator
	Override string // settings sttEnginePath
	TempDir  string // where the embedded runner is materialised; "" uses os.TempDir
}

// Resolve walks the engine chain: an existing override, bundled runtime,
// system interpreters, then a generic python3. It fails only when a runner script
// cannot be materialised for an interpreter.
func (r *Resolver) Resolve() (*Engine, error) {
	// A stale override falls through to the rest of the chain.
	if ov := locator.First(locator.Override(r.Override)...); ov.Found {
		if strings.EqualFold(filepath.Ext(ov.Path), ".py") {
			py := locator.First(r.interpreters()...)
			return &Engine{Path: py.Path, Script: ov.Path, Strategy: locator.StrategyOverride}, nil
		}
		return &Engine{Path: ov.Path, Strategy: locator.StrategyOverride}, nil
	}
	if r.Locator != nil && r.Locator.Packaged {
		runner := locator.First(r.Locator.Candidates(filepath.Join("stt", "bin", locator.ExecutableName("whisperx-runner")))...)
		if runner.Found {
			return &Engine{Path: runner.Path, Strategy: locator.StrategyBundled, LibDir: runtimeLibDir(runner.Path)}, nil
		}
	}
	res := locator.First(r.interpreters()...)
	eng := &Engine{Path: res.Path, Strategy: res.Strategy}
	if res.Strategy == locator.StrategyBundled {
		eng.LibDir = runtimeLibDir(res.Path)
	}
	if err := r.attachScript(eng); err != nil {
		return nil, err
	}
	return eng, nil
}

func (r *Resolver) interpreters() []locator.Candidate {
	var cands []locator.Candidate
	if r.Locator != nil {
		for _, c := range r.Locator.Candidates(bundledPython(r.Locator.Packaged)) {
			cands = append(cands, locator.Candidate{Strategy: locator.StrategyBundled, Path: c.Path})
		}
	}
	if runtime.GOOS != "windows" {
		cands = append(cands, locator.System(systemPythons...)...)
	}
	return append(cands, locator.Generic(genericPython()))
}

func (r *Resolver) attachScript(e *Engine) error {
	if r.Locator != nil {
		if s := r.Locator.Locate(runnerScript); s.Found {
			e.Script = s.Path
			return nil
		}
	}
	f, err := os.CreateTemp(r.TempDir, "cypher-whisperx-*.py")
	if err != nil {
		return fmt.Errorf("write runner script: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(embeddedRunner); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write runner script: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write runner script: %w", err)
	}
	e.Script = name
	e.cleanup = func() { _ = os.Remove(name) }
	return nil
}

// bundledPython is the interpreter inside the packaged runtime or the dev venv.
func bundledPython(packaged bool) string {
	switch {
	case packaged && runtime.GOOS == "windows":
		return filepath.Join("python", "python.exe")
	case packaged:
		return filepath.Join("python", "bin", "python3")
	case runtime.GOOS == "windows":
		return filepath.Join(".venv", "Scripts", "python.exe")
	default:
		return filepath.Join(".venv", "bin", "python3")
	}
}

func genericPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// runtimeLibDir maps <runtime>/bin/<exe> to <runtime>/lib.
func runtimeLibDir(exe string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(exe)), "lib")
}
