package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cypherdesk/cypher/internal/mapping"
	"github.com/cypherdesk/cypher/internal/sysctx"
)

type fakeMapper struct {
	calls   atomic.Int32
	err     error
	block   chan struct{}
	mu      sync.Mutex
	clients []sysctx.ClientInfo
}

func (f *fakeMapper) Run(ctx context.Context, c sysctx.ClientInfo, _ func(mapping.Progress)) (mapping.Report, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return mapping.Report{}, ctx.Err()
		}
	}
	return mapping.Report{RunID: "r1"}, f.err
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"@every 6h", "@hourly", "0 */6 * * *", "30 0 */6 * * *"} {
		if err := Validate(ok); err != nil {
			t.Fatalf("%q should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "every 6h", "61 * * * *", "@every nonsense"} {
		if err := Validate(bad); err == nil {
			t.Fatalf("%q should be invalid", bad)
		}
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Schedule: "@hourly"}); err == nil {
		t.Fatal("missing mapper should fail")
	}
	if _, err := New(Options{Schedule: "@hourly", Mapper: &fakeMapper{}, Timezone: "Mars/Olympus"}); err == nil {
		t.Fatal("unknown timezone should fail")
	}
}

func TestTickRunsMapperWithClientInfo(t *testing.T) {
	m := &fakeMapper{}
	s, err := New(Options{Schedule: "@hourly", Mapper: m, Client: func() sysctx.ClientInfo {
		return sysctx.ClientInfo{Platform: "linux", Hostname: "box"}
	}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.tick()
	if m.calls.Load() != 1 || s.Runs() != 1 {
		t.Fatalf("calls=%d runs=%d", m.calls.Load(), s.Runs())
	}
	if m.clients[0].Hostname != "box" {
		t.Fatalf("client = %+v", m.clients[0])
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	m := &fakeMapper{block: make(chan struct{})}
	s, err := New(Options{Schedule: "@hourly", Mapper: m})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	done := make(chan struct{})
	go func() { s.tick(); close(done) }()
	deadline := time.Now().Add(2 * time.Second)
	for m.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.tick()
	if got := m.calls.Load(); got != 1 {
		t.Fatalf("overlapping tick ran the mapper: calls=%d", got)
	}
	close(m.block)
	<-done
}

func TestTickIgnoresConcurrentBridgeRun(t *testing.T) {
	m := &fakeMapper{err: mapping.ErrRunning}
	s, _ := New(Options{Schedule: "@hourly", Mapper: m})
	s.tick()
	if s.Runs() != 0 {
		t.Fatalf("a rejected run should not count, runs=%d", s.Runs())
	}
}

func TestStartStop(t *testing.T) {
	m := &fakeMapper{}
	s, err := New(Options{Schedule: "@every 1s", Mapper: m})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !s.Next().IsZero() {
		t.Fatal("next should be zero before start")
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("second start should fail")
	}
	if s.Next().IsZero() {
		t.Fatal("next should be set after start")
	}
	deadline := time.Now().Add(4 * time.Second)
	for m.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()
	if m.calls.Load() == 0 {
		t.Fatal("scheduled run never fired")
	}
}
