package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

// Store persists Settings.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

const lockTimeout = 2 * time.Second

// DefaultPath is <user config dir>/Cypher/settings.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "Cypher", "settings.json"), nil
}

// FileStore keeps settings in a single JSON file. Writes from concurrent
// processes are serialised with a lock file and land via atomic rename.
type FileStore struct {
	path string
	goos string
	lock *flock.Flock
}

// NewFileStore creates a JSON-backed settings store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, goos: runtime.GOOS, lock: flock.New(path + ".lock")}
}

func (s *FileStore) Path() string { return s.path }

// Load reads settings layered over the platform defaults, so keys missing
// from a partial file keep their defaults. A missing file yields defaults
// and no error; a corrupt one yields defaults and the decode error.
func (s *FileStore) Load() (Settings, error) {
	def := Defaults(s.goos)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return def, nil
		}
		return def, err
	}
	cfg := def
	if err := json.Unmarshal(data, &cfg); err != nil {
		return def, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *FileStore) Save(cfg Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	ok, err := s.lock.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire settings lock: %w", err)
	}
	if !ok {
		return errors.New("settings file is locked by another process")
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "settings.*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
