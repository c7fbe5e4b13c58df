// Package supervisor owns the lifecycle of the long-lived backend process.
//
// A single reactor goroutine consumes start, stop, exit and shutdown
// commands, so state transitions never race each other. The start decision
// is taken once per session: if the liveness probe finds a serving backend
// the supervisor stays idle and never spawns a duplicate.
//
// Two application instances starting within the same probe window can both
// decide to spawn; there is no lock file or port claim guarding against it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cypherdesk/cypher/internal/detector"
	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/locator"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/process"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("supervisor closed")

// ExitPayload is published with events.BackendExited.
type ExitPayload struct {
	Code int `json:"code"`
}

// Options wires the supervisor's collaborators.
type Options struct {
	Name      string                // process label, default "backend"
	Probe     detector.Detector     // liveness of an already running instance
	Locate    func() locator.Result // executable resolution
	Args      []string
	WorkDir   string    // application root
	Env       []string  // nil inherits the host environment
	Stdout    io.Writer // sink for backend stdout; never inspected
	Stderr    io.Writer // sink for backend stderr
	Publisher events.Publisher
	Logger    *slog.Logger
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionExited
	actionShutdown
)

type command struct {
	action commandAction
	ctx    context.Context
	proc   *process.Process
	result process.Result
	reply  chan error
}

// Supervisor manages at most one backend process per session.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	status  Status
	decided bool
	proc    *process.Process

	cmdChan  chan command
	doneChan chan struct{} // reactor exited
	exitChan chan struct{} // supervised process exited
	exitOnce sync.Once
}

// New starts the reactor goroutine.
func New(opts Options) *Supervisor {
	if opts.Name == "" {
		opts.Name = "backend"
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Supervisor{
		opts:     opts,
		log:      opts.Logger.With("component", "supervisor", "name", opts.Name),
		status:   Status{State: StateIdle},
		cmdChan:  make(chan command),
		doneChan: make(chan struct{}),
		exitChan: make(chan struct{}),
	}
	go s.run()
	return s
}

// Start takes the session's start decision and returns the resulting status.
// Later calls return the current status without probing again.
func (s *Supervisor) Start(ctx context.Context) (Status, error) {
	if err := s.send(command{action: actionStart, ctx: ctx}); err != nil {
		return s.Status(), err
	}
	return s.Status(), nil
}

// Stop sends the termination signal to a running backend and returns without
// waiting for it to exit.
func (s *Supervisor) Stop() error {
	return s.send(command{action: actionStop})
}

// Close stops the backend if running and shuts the reactor down.
func (s *Supervisor) Close() error {
	err := s.send(command{action: actionShutdown})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Done is closed when the supervised process exits. It stays open when
// nothing was spawned.
func (s *Supervisor) Done() <-chan struct{} { return s.exitChan }

// Status returns a snapshot of the backend handle.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	if st.State == StateRunning && st.PID > 0 {
		d := detector.PIDDetector{PID: st.PID}
		st.Alive, _ = d.Alive()
		st.DetectedBy = d.Describe()
	}
	return st
}

// PID returns the running backend's pid, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status.State != StateRunning {
		return 0
	}
	return s.status.PID
}

func (s *Supervisor) send(c command) error {
	c.reply = make(chan error, 1)
	select {
	case s.cmdChan <- c:
	case <-s.doneChan:
		return ErrClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-s.doneChan:
		return ErrClosed
	}
}

// run is the reactor (single goroutine, no races on transitions).
func (s *Supervisor) run() {
	defer close(s.doneChan)
	for c := range s.cmdChan {
		var err error
		switch c.action {
		case actionStart:
			err = s.handleStart(c.ctx)
		case actionStop:
			err = s.handleStop()
		case actionExited:
			s.handleExited(c.proc, c.result)
		case actionShutdown:
			err = s.handleStop()
			if c.reply != nil {
				c.reply <- err
			}
			return
		}
		if c.reply != nil {
			c.reply <- err
		}
	}
}

func (s *Supervisor) handleStart(ctx context.Context) error {
	if s.decided {
		return nil
	}
	s.decided = true
	if ctx == nil {
		ctx = context.Background()
	}

	if s.opts.Probe != nil && probe(ctx, s.opts.Probe) {
		s.log.Info("backend already reachable, not spawning", "probe", s.opts.Probe.Describe())
		s.decide(ReasonExternal)
		return nil
	}

	res := locator.NotFound
	if s.opts.Locate != nil {
		res = s.opts.Locate()
	}
	if !res.Found {
		s.log.Warn("backend executable not found, continuing without backend")
		s.decide(ReasonNotFound)
		return nil
	}

	s.mu.Lock()
	s.status.Path = res.Path
	s.status.Strategy = string(res.Strategy)
	s.mu.Unlock()
	s.setState(StateStarting)

	p, err := process.Start(process.Spec{
		Name:      s.opts.Name,
		Path:      res.Path,
		Args:      s.opts.Args,
		Env:       s.opts.Env,
		WorkDir:   s.opts.WorkDir,
		Stdout:    s.opts.Stdout,
		Stderr:    s.opts.Stderr,
		NoCapture: true,
	})
	if err != nil {
		s.log.Error("backend spawn failed", "path", res.Path, "error", err)
		s.setState(StateIdle)
		s.decide(ReasonSpawnFailed)
		return nil
	}

	s.mu.Lock()
	s.proc = p
	s.status.PID = p.PID()
	s.status.StartedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateRunning)
	s.decide(ReasonSpawned)
	s.log.Info("backend started", "pid", p.PID(), "path", res.Path, "strategy", res.Strategy)

	go s.watch(p)
	return nil
}

// watch waits for p and hands the exit to the reactor. After shutdown the
// exit is finished here since nobody else will.
func (s *Supervisor) watch(p *process.Process) {
	res := p.Wait()
	select {
	case s.cmdChan <- command{action: actionExited, proc: p, result: res}:
	case <-s.doneChan:
		s.handleExited(p, res)
	}
}

func (s *Supervisor) handleExited(p *process.Process, res process.Result) {
	s.mu.Lock()
	if s.proc != p {
		s.mu.Unlock()
		return
	}
	s.proc = nil
	code := res.ExitCode
	s.status.ExitCode = &code
	s.status.StoppedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateStopped)

	s.log.Info("backend exited", "code", code, "terminated", res.Terminated)
	metrics.IncBackendExit(strconv.Itoa(code))
	s.exitOnce.Do(func() { close(s.exitChan) })
	go s.opts.Publisher.Publish(events.BackendExited, ExitPayload{Code: code})
}

func (s *Supervisor) handleStop() error {
	s.mu.Lock()
	p := s.proc
	running := s.status.State == StateRunning
	if running {
		s.status.StopRequested = true
	}
	s.mu.Unlock()
	if !running || p == nil {
		return nil
	}
	s.log.Info("stopping backend", "pid", p.PID())
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("stop backend: %w", err)
	}
	return nil
}

func (s *Supervisor) decide(r Reason) {
	s.mu.Lock()
	s.status.Reason = r
	s.mu.Unlock()
	metrics.IncBackendDecision(string(r))
}

// setState updates state and records the transition.
func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.status.State
	s.status.State = next
	s.mu.Unlock()

	metrics.RecordBackendTransition(prev.String(), next.String())
	metrics.SetBackendUp(next == StateRunning)
}

type contextDetector interface {
	AliveContext(ctx context.Context) bool
}

func probe(ctx context.Context, d detector.Detector) bool {
	if cd, ok := d.(contextDetector); ok {
		return cd.AliveContext(ctx)
	}
	alive, err := d.Alive()
	return err == nil && alive
}
