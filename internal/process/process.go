// Package process runs helper subprocesses to completion or cancellation.
//
// A Process captures stdout and stderr incrementally into buffers that can be
// read while it runs, and resolves with the exit code once the child closes.
// There is no timeout; callers cancel explicitly through Terminate, a
// context passed to Run, or a Tracker.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// waitDelay bounds how long Wait keeps draining pipes held open by
// grandchildren after the child itself exited.
const waitDelay = 5 * time.Second

// Spec describes one subprocess invocation.
type Spec struct {
	Name    string    // label for logs and metrics
	Path    string    // executable path or command name
	Args    []string  // arguments after Path
	Env     []string  // full environment ("K=V"); nil inherits the host environment
	WorkDir string    // optional working dir
	Stdout  io.Writer // optional extra sink for stdout
	Stderr  io.Writer // optional extra sink for stderr

	// NoCapture skips the in-memory buffers; output only reaches the extra
	// sinks. Used for long-lived children whose output must not accumulate.
	NoCapture bool
}

// Result is the outcome of a finished subprocess.
type Result struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Combined   string `json:"combined"`
	Terminated bool   `json:"terminated"` // Terminate was called before exit
	Err        error  `json:"-"`          // start or wait failure other than a non-zero exit
}

// Success reports a clean zero exit.
func (r Result) Success() bool { return r.Err == nil && r.ExitCode == 0 }

// Process is a started subprocess.
type Process struct {
	spec       Spec
	cmd        *exec.Cmd
	stdout     syncBuffer
	stderr     syncBuffer
	combined   syncBuffer
	done       chan struct{} // closed when cmd.Wait returns
	terminated atomic.Bool

	mu     sync.Mutex
	result Result
}

// Start launches spec and begins capturing its output.
func Start(spec Spec) (*Process, error) {
	if spec.Path == "" {
		return nil, errors.New("process: empty executable path")
	}
	if spec.Name == "" {
		spec.Name = spec.Path
	}
	p := &Process{spec: spec, done: make(chan struct{})}

	// #nosec G204 -- the executable comes from the locator, not from user input.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.WorkDir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	if spec.NoCapture {
		cmd.Stdout = lenientOrNil(spec.Stdout)
		cmd.Stderr = lenientOrNil(spec.Stderr)
	} else {
		cmd.Stdout = sinks(&p.stdout, &p.combined, spec.Stdout)
		cmd.Stderr = sinks(&p.stderr, &p.combined, spec.Stderr)
	}
	cmd.WaitDelay = waitDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	p.cmd = cmd
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	res := Result{
		Stdout:     p.stdout.String(),
		Stderr:     p.stderr.String(),
		Combined:   p.combined.String(),
		Terminated: p.terminated.Load(),
	}
	var ee *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &ee):
		// -1 when killed by a signal
		res.ExitCode = ee.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	p.mu.Lock()
	p.result = res
	p.mu.Unlock()
	close(p.done)
}

// Name returns the spec label.
func (p *Process) Name() string { return p.spec.Name }

// PID returns the OS process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has finished.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its result.
func (p *Process) Wait() Result {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Output returns the stdout and stderr captured so far.
func (p *Process) Output() (string, string) {
	return p.stdout.String(), p.stderr.String()
}

// Terminate sends the termination signal. It is idempotent and returns nil
// when the process already exited.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}
	p.terminated.Store(true)
	err := terminate(p.cmd.Process)
	if err == nil || errors.Is(err, os.ErrProcessDone) || p.Exited() {
		return nil
	}
	return fmt.Errorf("terminate %s: %w", p.spec.Name, err)
}

// sinks tees captured output into the buffers and an optional extra writer.
// The extra writer's failures never interrupt capture.
func sinks(own, combined *syncBuffer, extra io.Writer) io.Writer {
	if extra == nil {
		return io.MultiWriter(own, combined)
	}
	return io.MultiWriter(own, combined, lenient{extra})
}

func lenientOrNil(w io.Writer) io.Writer {
	if w == nil {
		return nil
	}
	return lenient{w}
}

type lenient struct{ w io.Writer }

func (l lenient) Write(p []byte) (int, error) {
	_, _ = l.w.Write(p)
	return len(p), nil
}
