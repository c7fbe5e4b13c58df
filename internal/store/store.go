package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = errors.New("document not found")

// Document is one versioned JSON value persisted under a unique key.
// UpdatedAt is set by the store in UTC.
type Document struct {
	Key       string
	Version   int
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Store keeps whole JSON documents by key. Put replaces the previous value
// atomically; there are no partial writes.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Get(ctx context.Context, key string) (Document, error)
	Put(ctx context.Context, doc Document) error
	Delete(ctx context.Context, key string) error
	Close() error
}
