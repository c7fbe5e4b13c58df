package process

import (
	"testing"
	"time"
)

func TestAbortWithNothingActiveIsNoop(t *testing.T) {
	var tr Tracker
	if tr.Abort() {
		t.Fatal("abort reported an active process")
	}
	if tr.Active() != nil {
		t.Fatal("expected no active process")
	}
}

func TestAbortTerminatesAndClears(t *testing.T) {
	requireUnix(t)
	var tr Tracker
	p, err := Start(Spec{Path: writeScript(t, `sleep 30`)})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	tr.Track(p)
	if tr.Active() != p {
		t.Fatal("tracked process not active")
	}
	if !tr.Abort() {
		t.Fatal("abort did not find the active process")
	}
	if tr.Active() != nil {
		t.Fatal("active slot not cleared")
	}
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process survived abort")
	}
	if !p.Wait().Terminated {
		t.Fatal("result not marked terminated")
	}
}

func TestTrackSupersedesWithoutKilling(t *testing.T) {
	requireUnix(t)
	var tr Tracker
	script := writeScript(t, `sleep 30`)
	first, err := Start(Spec{Path: script})
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	defer func() { _ = first.Terminate(); first.Wait() }()
	second, err := Start(Spec{Path: script})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	tr.Track(first)
	tr.Track(second)
	if tr.Active() != second {
		t.Fatal("second process should be active")
	}
	// releasing the superseded handle must not clear the slot
	tr.Release(first)
	if tr.Active() != second {
		t.Fatal("release of stale handle cleared the slot")
	}
	tr.Abort()
	second.Wait()
	if first.Exited() {
		t.Fatal("superseded process was killed")
	}
}
