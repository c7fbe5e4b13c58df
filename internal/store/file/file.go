// Package file stores documents as one JSON file per key in a directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cypherdesk/cypher/internal/store"
)

type envelope struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// Dir implements store.Store on the filesystem.
type Dir struct {
	root string
}

// New returns a store rooted at dir.
func New(dir string) (*Dir, error) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return nil, errors.New("empty store directory")
	}
	return &Dir{root: d}, nil
}

func (s *Dir) EnsureSchema(context.Context) error {
	return os.MkdirAll(s.root, 0o750)
}

func (s *Dir) Close() error { return nil }

func (s *Dir) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	return filepath.Join(s.root, key+".json"), nil
}

func (s *Dir) Get(_ context.Context, key string) (store.Document, error) {
	p, err := s.path(key)
	if err != nil {
		return store.Document{}, err
	}
	b, err := os.ReadFile(p) // #nosec G304 -- key is validated above
	if errors.Is(err, os.ErrNotExist) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return store.Document{}, fmt.Errorf("decode %s: %w", p, err)
	}
	return store.Document{Key: key, Version: env.Version, Data: env.Data, UpdatedAt: env.UpdatedAt}, nil
}

// Put writes to a temp file and renames it over the previous document.
func (s *Dir) Put(_ context.Context, doc store.Document) error {
	p, err := s.path(doc.Key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return err
	}
	data := doc.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	b, err := json.MarshalIndent(envelope{Version: doc.Version, UpdatedAt: time.Now().UTC(), Data: data}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.root, doc.Key+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Dir) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
