package settings

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/cypherdesk/cypher/internal/events"
	"github.com/cypherdesk/cypher/internal/metrics"
	"github.com/cypherdesk/cypher/internal/shortcut"
)

// Manager owns the in-memory settings for the process lifetime. The
// in-memory value is authoritative even when persisting fails.
type Manager struct {
	store     Store
	shortcuts shortcut.Registrar
	pub       events.Publisher
	log       *slog.Logger

	mu     sync.Mutex
	cur    Settings
	loaded bool
}

// Options for NewManager. Shortcuts and Publisher are optional.
type Options struct {
	Store     Store
	Shortcuts shortcut.Registrar
	Publisher events.Publisher
	Logger    *slog.Logger
}

func NewManager(opts Options) *Manager {
	if opts.Publisher == nil {
		opts.Publisher = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		store:     opts.Store,
		shortcuts: opts.Shortcuts,
		pub:       opts.Publisher,
		log:       opts.Logger.With("component", "settings"),
	}
}

// Get returns the current settings, loading them on first use.
func (m *Manager) Get() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLoadedLocked()
	return m.cur
}

// BindShortcuts registers the current accelerators. Called once at startup.
func (m *Manager) BindShortcuts() {
	s := m.Get()
	if m.shortcuts == nil {
		return
	}
	m.bind(shortcut.ActionToggle, "", s.ToggleShortcut)
	m.bind(shortcut.ActionSTTToggle, "", s.STTShortcut)
}

// Merge applies p, persists the whole record, rebinds changed shortcuts and
// broadcasts the result. Persistence errors are logged, not returned.
func (m *Manager) Merge(p Patch) Settings {
	m.mu.Lock()
	m.ensureLoadedLocked()
	prev := m.cur
	next := prev.Apply(p)
	m.cur = next
	if m.store != nil {
		if err := m.store.Save(next); err != nil {
			m.log.Error("persist settings failed", "error", err)
			metrics.IncPersistFailure("settings")
		}
	}
	m.mu.Unlock()

	if m.shortcuts != nil {
		if prev.ToggleShortcut != next.ToggleShortcut {
			m.bind(shortcut.ActionToggle, prev.ToggleShortcut, next.ToggleShortcut)
		}
		if prev.STTShortcut != next.STTShortcut {
			m.bind(shortcut.ActionSTTToggle, prev.STTShortcut, next.STTShortcut)
		}
	}
	m.pub.Publish(events.SettingsUpdated, next)
	return next
}

func (m *Manager) bind(action shortcut.Action, old, accel string) {
	if old != "" {
		m.shortcuts.Unregister(old)
	}
	if accel == "" {
		return
	}
	if err := m.shortcuts.Register(action, accel); err != nil {
		m.log.Warn("shortcut registration failed", "action", action, "accelerator", accel, "error", err)
	}
}

func (m *Manager) ensureLoadedLocked() {
	if m.loaded {
		return
	}
	m.loaded = true
	if m.store == nil {
		m.cur = Defaults(runtime.GOOS)
		return
	}
	s, err := m.store.Load()
	if err != nil {
		m.log.Warn("settings unreadable, using defaults", "error", err)
		s = Defaults(runtime.GOOS)
	}
	m.cur = s
}
