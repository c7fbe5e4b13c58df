package env

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes a child process environment from the host environment and
// an overlay of per-run variables.
type Env struct {
	Var Var // overlay variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// FromList uses kvs ("K=V") as the base instead of the OS environment.
func (e *Env) FromList(kvs []string) {
	e.env = parse(kvs)
}

// Set sets an overlay variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetDefault sets K=V only when neither the overlay nor the base defines K.
func (e *Env) SetDefault(k, v string) {
	if _, ok := e.Lookup(k); ok {
		return
	}
	e.Set(k, v)
}

// Unset removes an overlay variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Lookup returns the effective value of k: overlay first, then base.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	if e.env == nil {
		e.FromOS()
	}
	v, ok := e.env[k]
	return v, ok
}

// PrependList puts dirs in front of a list-valued variable such as PATH,
// skipping empty entries and entries already present.
func (e *Env) PrependList(k string, dirs ...string) {
	cur, _ := e.Lookup(k)
	existing := filepath.SplitList(cur)
	seen := make(map[string]struct{}, len(existing))
	for _, d := range existing {
		seen[d] = struct{}{}
	}
	front := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		front = append(front, d)
	}
	if len(front) == 0 {
		return
	}
	parts := append(front, existing...)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	e.Set(k, strings.Join(out, string(os.PathListSeparator)))
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply overlay e.Var
// then apply perRun (slice of "K=V") overrides
// Returns the environment slice in "K=V" form sorted by key, with ${VAR}
// expansion performed using the composed map (simple expansion, no recursion).
func (e *Env) Merge(perRun []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range parse(perRun) {
		m[k] = v
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	keys := make([]string, 0, len(expanded))
	for k := range expanded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expanded[k])
	}
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
