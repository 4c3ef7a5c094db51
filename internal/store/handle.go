// Package store owns the single database handle shared by the credential core
// and the SQL implementations of its collaborators.
//
// Every statement runs inside Handle.Do, which serializes access through one
// process-wide critical section over a single open connection.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("store: handle closed")

// Querier is the subset of database/sql used inside Do.
// *sql.DB and *sql.Tx both satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle is the injected store handle with an explicit open/close lifecycle.
type Handle struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect Dialect
	dsn     string
	closed  bool

	// reopen builds a fresh *sql.DB for the target; nil for injected handles.
	reopen func() (*sql.DB, error)
}

// Open prepares a handle for driver ("pgx" or "sqlite") and dsn.
// No connection is made until the first Do or Ping.
func Open(driver, dsn string) (*Handle, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("store: dsn is required")
	}
	h := &Handle{dialect: d, dsn: dsn}
	h.reopen = func() (*sql.DB, error) {
		db, err := sql.Open(d.DriverName(), dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open %s: %w", d.Name(), err)
		}
		configure(db, connLifetime(d, dsn))
		return db, nil
	}
	db, err := h.reopen()
	if err != nil {
		return nil, err
	}
	h.db = db
	return h, nil
}

// NewHandle wraps an already opened database. Reconnect is a no-op and the
// connection is never recycled.
func NewHandle(db *sql.DB, d Dialect) *Handle {
	configure(db, 0)
	return &Handle{db: db, dialect: d}
}

const maxConnLifetime = 30 * time.Minute

// connLifetime is zero (never recycle) for in-memory SQLite, whose data
// lives only as long as its one connection.
func connLifetime(d Dialect, dsn string) time.Duration {
	if d.Name() == SQLite.Name() && sqlitePath(dsn) == "" {
		return 0
	}
	return maxConnLifetime
}

func configure(db *sql.DB, lifetime time.Duration) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(lifetime)
}

// Dialect returns the SQL dialect of the handle.
func (h *Handle) Dialect() Dialect { return h.dialect }

// DSN returns the configured target, empty for injected handles.
func (h *Handle) DSN() string { return h.dsn }

// Do runs fn inside the critical section. fn must not call Do.
func (h *Handle) Do(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.db == nil {
		return ErrClosed
	}
	return fn(ctx, h.db)
}

// Ping checks connectivity to the target database.
func (h *Handle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.db == nil {
		return ErrClosed
	}
	return h.db.PingContext(ctx)
}

// Reconnect drops the current pool and connects to the target again.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if h.reopen == nil {
		return nil
	}
	db, err := h.reopen()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("store: connect %s: %w", h.dialect.Name(), err)
	}
	if h.db != nil {
		_ = h.db.Close()
	}
	h.db = db
	return nil
}

// Close releases the underlying connection. It is safe to call twice.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.db == nil {
		h.closed = true
		return nil
	}
	h.closed = true
	return h.db.Close()
}
