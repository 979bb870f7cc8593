// Package duckdb persists processed runs and their tables in DuckDB and
// serves the read queries behind the HTTP API.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/runmerge/internal/duckdb/migrate"
	"github.com/tinytelemetry/runmerge/internal/model"
)

// ErrRunNotFound is returned when a run id has no stored entry.
var ErrRunNotFound = errors.New("duckdb: run not found")

// DefaultQueryTimeout bounds every read query.
const DefaultQueryTimeout = 30 * time.Second

var (
	_ model.RunWriter = (*Store)(nil)
	_ model.ReadAPI   = (*Store)(nil)
)

// Store manages the DuckDB connection. Writes take the exclusive lock so a
// run is replaced atomically with respect to readers.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	logger       *slog.Logger
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database and applies migrations.
// An empty dbPath opens an in-memory database.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if _, err := migrate.NewRunner(db).Run(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	qt := DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		logger:       slog.Default().With("component", "duckdb"),
		QueryTimeout: qt,
	}, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l.With("component", "duckdb")
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// queryCtx derives a context bounded by the store's query timeout.
func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.QueryTimeout)
}
