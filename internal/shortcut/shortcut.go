// Package shortcut binds global accelerators to shell actions.
//
// Registering the OS-level hotkey belongs to the host window layer; it reports
// key presses back through Table.Trigger. The table owns the binding state
// so settings changes can rebind accelerators at runtime.
package shortcut

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cypherdesk/cypher/internal/events"
)

// Action is what a shortcut does.
type Action string

const (
	ActionToggle    Action = "toggle"     // show/hide the input window
	ActionSTTToggle Action = "stt-toggle" // start/stop dictation
)

// ErrConflict is returned when an accelerator is bound to another action.
var ErrConflict = errors.New("accelerator already bound")

// Registrar binds and releases accelerators.
type Registrar interface {
	Register(action Action, accelerator string) error
	Unregister(accelerator string)
}

// Payload is published with events.Shortcut.
type Payload struct {
	Action      Action `json:"action"`
	Accelerator string `json:"accelerator"`
}

// Table is an in-memory Registrar that publishes an event per trigger.
type Table struct {
	mu       sync.RWMutex
	bindings map[string]Action
	pub      events.Publisher
}

func NewTable(pub events.Publisher) *Table {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Table{bindings: make(map[string]Action), pub: pub}
}

// Normalize folds case and whitespace of an accelerator. Modifier order is
// significant.
func Normalize(accel string) string {
	parts := strings.Split(accel, "+")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "+")
}

func (t *Table) Register(action Action, accelerator string) error {
	key := Normalize(accelerator)
	if key == "" {
		return errors.New("empty accelerator")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.bindings[key]; ok && cur != action {
		return fmt.Errorf("%w: %s -> %s", ErrConflict, accelerator, cur)
	}
	t.bindings[key] = action
	return nil
}

func (t *Table) Unregister(accelerator string) {
	t.mu.Lock()
	delete(t.bindings, Normalize(accelerator))
	t.mu.Unlock()
}

// Lookup returns the action bound to accelerator.
func (t *Table) Lookup(accelerator string) (Action, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.bindings[Normalize(accelerator)]
	return a, ok
}

// Trigger publishes the action bound to accelerator. It reports false for an
// unbound accelerator.
func (t *Table) Trigger(accelerator string) (Action, bool) {
	a, ok := t.Lookup(accelerator)
	if !ok {
		return "", false
	}
	t.pub.Publish(events.Shortcut, Payload{Action: a, Accelerator: accelerator})
	return a, true
}
