package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/locator"
)

type fakeProbe struct {
	alive bool
	calls atomic.Int32
}

func (p *fakeProbe) Alive() (bool, error) {
	p.calls.Add(1)
	return p.alive, nil
}
func (p *fakeProbe) Describe() string { return "fake" }

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func stubBackend(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cypher_backend")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return p
}

func locateAt(path string, calls *atomic.Int32) func() locator.Result {
	return func() locator.Result {
		if calls != nil {
			calls.Add(1)
		}
		return locator.First(locator.Candidate{Strategy: locator.StrategyAppRoot, Path: path})
	}
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("backend did not exit")
	}
}

func TestReachableBackendIsNeverSpawned(t *testing.T) {
	probe := &fakeProbe{alive: true}
	var located atomic.Int32
	s := New(Options{Probe: probe, Locate: locateAt("/nonexistent", &located)})
	defer func() { _ = s.Close() }()

	st, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.State != StateIdle || st.Reason != ReasonExternal {
		t.Fatalf("status = %+v", st)
	}
	if st.Degraded() {
		t.Fatal("external backend reported as degraded")
	}
	if located.Load() != 0 {
		t.Fatal("locator consulted although backend was reachable")
	}
	// second start keeps the session decision
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if probe.calls.Load() != 1 {
		t.Fatalf("probe calls = %d, want 1", probe.calls.Load())
	}
	select {
	case <-s.Done():
		t.Fatal("done closed without a spawned process")
	default:
	}
}

func TestMissingExecutableStaysIdle(t *testing.T) {
	s := New(Options{
		Probe:  &fakeProbe{},
		Locate: locateAt(filepath.Join(t.TempDir(), "missing"), nil),
	})
	defer func() { _ = s.Close() }()

	st, _ := s.Start(context.Background())
	if st.State != StateIdle || st.Reason != ReasonNotFound {
		t.Fatalf("status = %+v", st)
	}
	if !st.Degraded() {
		t.Fatal("expected degraded status")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop while idle: %v", err)
	}
}

func TestSpawnFailureStaysIdle(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{
		Probe: &fakeProbe{},
		// reported as found but missing on disk, so the spawn fails
		Locate:  func() locator.Result { return locator.Result{Path: filepath.Join(dir, "nope"), Found: true} },
		WorkDir: dir,
	})
	defer func() { _ = s.Close() }()

	st, _ := s.Start(context.Background())
	if st.State != StateIdle || st.Reason != ReasonSpawnFailed {
		t.Fatalf("status = %+v", st)
	}
}

func TestExitIsPublishedWithCode(t *testing.T) {
	requireUnix(t)
	bus := events.NewBus(0)
	sub, cancel := bus.Subscribe(4)
	defer cancel()

	root := t.TempDir()
	s := New(Options{
		Probe:     &fakeProbe{},
		Locate:    locateAt(stubBackend(t, `echo started > marker; exit 7`), nil),
		WorkDir:   root,
		Publisher: bus,
	})
	defer func() { _ = s.Close() }()

	st, _ := s.Start(context.Background())
	if st.Reason != ReasonSpawned {
		t.Fatalf("status = %+v", st)
	}
	waitDone(t, s)

	select {
	case ev := <-sub:
		if ev.Type != events.BackendExited {
			t.Fatalf("event type = %s", ev.Type)
		}
		var p ExitPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.Code != 7 {
			t.Fatalf("payload = %s (%v)", ev.Payload, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}

	st = s.Status()
	if st.State != StateStopped || st.ExitCode == nil || *st.ExitCode != 7 {
		t.Fatalf("status after exit = %+v", st)
	}
	if _, err := os.Stat(filepath.Join(root, "marker")); err != nil {
		t.Fatalf("backend did not run in the app root: %v", err)
	}
}

func TestStopTerminatesWithoutWaiting(t *testing.T) {
	requireUnix(t)
	s := New(Options{
		Probe:  &fakeProbe{},
		Locate: locateAt(stubBackend(t, `sleep 30`), nil),
	})
	defer func() { _ = s.Close() }()

	st, _ := s.Start(context.Background())
	if st.State != StateRunning || st.PID == 0 {
		t.Fatalf("status = %+v", st)
	}
	if !s.Status().Alive {
		t.Fatal("running backend not alive")
	}
	if s.PID() != st.PID {
		t.Fatalf("pid = %d, want %d", s.PID(), st.PID)
	}

	begin := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(begin) > 2*time.Second {
		t.Fatal("stop blocked on the child")
	}
	waitDone(t, s)
	st = s.Status()
	if st.State != StateStopped || !st.StopRequested {
		t.Fatalf("status after stop = %+v", st)
	}
	if s.PID() != 0 {
		t.Fatal("pid still reported after exit")
	}
}

func TestCloseTerminatesAndRejectsCalls(t *testing.T) {
	requireUnix(t)
	s := New(Options{
		Probe:  &fakeProbe{},
		Locate: locateAt(stubBackend(t, `sleep 30`), nil),
	})
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitDone(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after close err = %v", err)
	}
	if s.Status().State != StateStopped {
		t.Fatalf("state = %s", s.Status().State)
	}
}

func TestStatusJSONUsesStateNames(t *testing.T) {
	b, err := json.Marshal(Status{State: StateRunning, Reason: ReasonSpawned})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"state":"running"`) {
		t.Fatalf("json = %s", b)
	}
	var back Status
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.State != StateRunning {
		t.Fatalf("state = %s", back.State)
	}
	if err := json.Unmarshal([]byte(`{"state":"bogus"}`), &back); err == nil {
		t.Fatal("unknown state should fail")
	}
}
