package supervisor

import (
	"fmt"
	"time"
)

// State of the supervised backend.
//
// Idle -> Starting -> Running -> Stopped. Idle is terminal for the session
// when the start decision was not to spawn.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateIdle, StateStarting, StateRunning, StateStopped} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Reason explains the start decision.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSpawned     Reason = "spawned"
	ReasonExternal    Reason = "external"     // an instance was already serving
	ReasonNotFound    Reason = "not-found"    // executable missing
	ReasonSpawnFailed Reason = "spawn-failed" // bad path, permission denied
)

// Status is the observable view of the backend process handle.
type Status struct {
	State         State     `json:"state"`
	Reason        Reason    `json:"reason,omitempty"`
	PID           int       `json:"pid,omitempty"`
	Alive         bool      `json:"alive"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	Path          string    `json:"path,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	StopRequested bool      `json:"stop_requested,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	StoppedAt     time.Time `json:"stopped_at,omitempty"`
	DetectedBy    string    `json:"detected_by,omitempty"`
}

// Degraded reports that no backend is available to this session.
func (s Status) Degraded() bool {
	switch s.State {
	case StateStarting, StateRunning:
		return false
	case StateIdle:
		return s.Reason != ReasonExternal
	default:
		return true
	}
}
