package sysctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cypherdesk/cypher/internal/store"
)

// DocumentKey is the store key of the system context.
const DocumentKey = "system-context"

// ErrCorrupt marks a stored context that exists but cannot be decoded.
// Other Load errors mean the store could not be read at all.
var ErrCorrupt = errors.New("system context corrupt")

// Repository loads and saves the context as a whole JSON document. Saves
// are serialised so a snapshot is always written in full.
type Repository struct {
	mu    sync.Mutex
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Load returns the persisted context. A missing document yields an empty
// context and no error. A corrupt document yields an empty context and an
// error wrapping ErrCorrupt.
func (r *Repository) Load(ctx context.Context) (Context, error) {
	doc, err := r.store.Get(ctx, DocumentKey)
	if errors.Is(err, store.ErrNotFound) {
		return Context{}, nil
	}
	if err != nil {
		return Context{}, fmt.Errorf("load system context: %w", err)
	}
	var c Context
	if err := json.Unmarshal(doc.Data, &c); err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c.Meta.Version == 0 {
		c.Meta.Version = doc.Version
	}
	return c, nil
}

// Save persists c, stamping the current schema version.
func (r *Repository) Save(ctx context.Context, c Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Meta.Version = SchemaVersion
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode system context: %w", err)
	}
	if err := r.store.Put(ctx, store.Document{Key: DocumentKey, Version: SchemaVersion, Data: b}); err != nil {
		return fmt.Errorf("save system context: %w", err)
	}
	return nil
}
