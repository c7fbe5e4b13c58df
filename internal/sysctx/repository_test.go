package sysctx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cypherdesk/cypher/internal/store"
	"github.com/cypherdesk/cypher/internal/store/sqlite"
)

func newRepo(t *testing.T) (*Repository, store.Store) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewRepository(db), db
}

func TestRepositoryMissingIsEmpty(t *testing.T) {
	repo, _ := newRepo(t)
	c, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Backend.Empty() || c.Meta.Version != 0 {
		t.Fatalf("expected empty context, got %+v", c)
	}
}

func TestRepositoryRoundTripStampsVersion(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	in := Context{
		Client:  ClientInfo{Platform: "linux"},
		Backend: BackendData{HomeDir: "/home/u"},
		Meta:    Meta{MappedAt: time.Now().UTC().Truncate(time.Second), Source: SourceBackend},
	}
	if err := repo.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Meta.Version != SchemaVersion || out.Backend.HomeDir != "/home/u" || out.Meta.Source != SourceBackend {
		t.Fatalf("unexpected context: %+v", out)
	}
	if !out.Meta.MappedAt.Equal(in.Meta.MappedAt) {
		t.Fatalf("mappedAt = %v, want %v", out.Meta.MappedAt, in.Meta.MappedAt)
	}
}

func TestRepositoryCorruptDocument(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()
	if err := db.Put(ctx, store.Document{Key: DocumentKey, Version: 2, Data: []byte(`{not json`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	c, err := repo.Load(ctx)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if !c.Backend.Empty() {
		t.Fatal("corrupt document produced data")
	}
}

type brokenStore struct{ store.Store }

func (brokenStore) Get(context.Context, string) (store.Document, error) {
	return store.Document{}, errors.New("database is locked")
}

func TestRepositoryReadFailureIsNotCorrupt(t *testing.T) {
	_, db := newRepo(t)
	repo := NewRepository(brokenStore{db})
	_, err := repo.Load(context.Background())
	if err == nil || errors.Is(err, ErrCorrupt) {
		t.Fatalf("read failure must be reported apart from corruption, got %v", err)
	}
}
