// Package locator resolves helper executables and scripts across the
// development tree and the packaged application bundle.
//
// Resolution is an ordered list of candidates evaluated until one exists.
// The returned Result is tagged with the strategy that produced it. A miss is
// a value (Found == false), never an error: callers degrade the feature that
// needed the executable.
package locator

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Strategy tags which candidate produced a Result.
type Strategy string

const (
	StrategyOverride  Strategy = "override"
	StrategyResources Strategy = "resources"
	StrategyAppRoot   Strategy = "app-root"
	StrategyBundled   Strategy = "bundled"
	StrategySystem    Strategy = "system"
	StrategyGeneric   Strategy = "generic"
	StrategyNone      Strategy = "none"
)

// Candidate is one location to try.
type Candidate struct {
	Strategy Strategy
	Path     string
}

// Result is the outcome of a lookup.
type Result struct {
	Path     string
	Strategy Strategy
	Found    bool
}

// NotFound is the zero-match result.
var NotFound = Result{Strategy: StrategyNone}

// Locator knows the two deployment layouts.
type Locator struct {
	Packaged     bool   // running from a packaged bundle
	ResourcesDir string // bundle resources directory (packaged mode)
	AppRoot      string // application root (development mode, backend cwd)
}

// Candidates returns the mode-appropriate location of subpath.
func (l *Locator) Candidates(subpath string) []Candidate {
	if l.Packaged {
		return []Candidate{{Strategy: StrategyResources, Path: filepath.Join(l.ResourcesDir, subpath)}}
	}
	return []Candidate{{Strategy: StrategyAppRoot, Path: filepath.Join(l.AppRoot, subpath)}}
}

// Locate returns the first existing mode-appropriate candidate for subpath.
func (l *Locator) Locate(subpath string) Result {
	return First(l.Candidates(subpath)...)
}

// LocateBackend resolves the long-lived backend binary. On POSIX the owner
// execute bit is set when missing; if that fails the binary is reported as
// not found since it could not be spawned anyway.
func (l *Locator) LocateBackend(subpath string) Result {
	res := l.Locate(ExecutableName(subpath))
	if !res.Found {
		return res
	}
	if err := EnsureExecutable(res.Path); err != nil {
		return NotFound
	}
	return res
}

// First returns the first candidate naming an existing regular file.
// Candidates with the generic strategy are resolved through PATH and, as a
// last resort, returned verbatim.
func First(cands ...Candidate) Result {
	for _, c := range cands {
		if c.Path == "" {
			continue
		}
		if c.Strategy == StrategyGeneric {
			if p, err := exec.LookPath(c.Path); err == nil {
				return Result{Path: p, Strategy: c.Strategy, Found: true}
			}
			return Result{Path: c.Path, Strategy: c.Strategy, Found: true}
		}
		if isFile(c.Path) {
			return Result{Path: c.Path, Strategy: c.Strategy, Found: true}
		}
	}
	return NotFound
}

// Override builds a user-configured candidate; an empty path yields no candidate.
func Override(path string) []Candidate {
	if path == "" {
		return nil
	}
	return []Candidate{{Strategy: StrategyOverride, Path: path}}
}

// System builds well-known install location candidates.
func System(paths ...string) []Candidate {
	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, Candidate{Strategy: StrategySystem, Path: p})
	}
	return out
}

// Generic is the last-resort bare command name.
func Generic(name string) Candidate {
	return Candidate{Strategy: StrategyGeneric, Path: name}
}

// ExecutableName appends the platform executable suffix.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
