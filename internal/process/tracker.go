package process

import "sync"

// Tracker holds at most one "active" process. Tracking a new process
// supersedes the previous one without killing it; only Abort terminates.
type Tracker struct {
	mu     sync.Mutex
	active *Process
}

// Track makes p the active process.
func (t *Tracker) Track(p *Process) {
	t.mu.Lock()
	t.active = p
	t.mu.Unlock()
}

// Release clears the active slot if it still holds p.
func (t *Tracker) Release(p *Process) {
	t.mu.Lock()
	if t.active == p {
		t.active = nil
	}
	t.mu.Unlock()
}

// Active returns the active process or nil.
func (t *Tracker) Active() *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Abort terminates and clears the active process. It reports whether there
// was one; with nothing active it is a no-op.
func (t *Tracker) Abort() bool {
	t.mu.Lock()
	p := t.active
	t.active = nil
	t.mu.Unlock()
	if p == nil {
		return false
	}
	_ = p.Terminate()
	return true
}
