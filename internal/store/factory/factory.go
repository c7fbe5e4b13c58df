package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cypherdesk/cypher/internal/store"
	fs "github.com/cypherdesk/cypher/internal/store/file"
	sq "github.com/cypherdesk/cypher/internal/store/sqlite"
)

// NewFromDSN opens the document store named by dsn:
//
//	sqlite://<path>   sqlite database; a bare path means the same
//	file://<dir>      one JSON file per document
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty context store DSN")
	}
	scheme, rest, ok := strings.Cut(d, "://")
	if !ok {
		return sq.New(d)
	}
	switch strings.ToLower(scheme) {
	case "sqlite":
		return sq.New(rest)
	case "file":
		return fs.New(rest)
	default:
		return nil, fmt.Errorf("unsupported context store scheme %q", scheme)
	}
}
