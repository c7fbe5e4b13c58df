package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cypherdesk/cypher/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path, creating its directory if needed.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection: keeps ":memory:" a single database and serialises writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks from another app instance
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents(
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Put(ctx context.Context, doc store.Document) error {
	if doc.Key == "" {
		return errors.New("empty document key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents(key, version, data, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version=excluded.version,
			data=excluded.data,
			updated_at=excluded.updated_at;`,
		doc.Key, doc.Version, string(doc.Data), time.Now().UTC())
	return err
}

func (s *DB) Get(ctx context.Context, key string) (store.Document, error) {
	var (
		doc  store.Document
		data string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, version, data, updated_at FROM documents WHERE key=?;`, key,
	).Scan(&doc.Key, &doc.Version, &data, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, err
	}
	doc.Data = []byte(data)
	return doc, nil
}

func (s *DB) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key=?;`, key)
	return err
}
