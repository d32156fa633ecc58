package placements

import (
	"context"
	"errors"
	"fmt"

	"github.com/kratadata/quartier-atlas/internal/db"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown placement backend")

// Options selects and configures a backend.
type Options struct {
	Backend    string // file, sqlite or postgres
	File       string
	SQLitePath string
	DSN        string
	Verbose    bool
}

// Open returns the configured Store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.File), nil
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		d, err := db.Connect(opts.DSN, opts.Verbose)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresStore(d)
		if err != nil {
			db.Close(d)
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}
