// Package schema keeps the relational store compatible with the application.
//
// Guard runs a fixed, idempotent sequence once per process: ensure the
// database exists, create missing tables, add missing columns, and seed a
// default administrator into an empty accounts table.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"labkeeper.org/internal/obs"
	"labkeeper.org/internal/secret"
	"labkeeper.org/internal/store"
)

// ErrSchema wraps DDL and introspection failures.
var ErrSchema = errors.New("schema: ensure failed")

const (
	defaultMaintenanceDB = "postgres"
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin"
)

// State is the furthest step Init has completed in this process.
type State int32

const (
	NotInitialized State = iota
	DatabaseEnsured
	TablesEnsured
	ColumnsBackfilled
	Seeded
	Ready
)

func (s State) String() string {
	switch s {
	case NotInitialized:
		return "not_initialized"
	case DatabaseEnsured:
		return "database_ensured"
	case TablesEnsured:
		return "tables_ensured"
	case ColumnsBackfilled:
		return "columns_backfilled"
	case Seeded:
		return "seeded"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Guard applies a Descriptor to the store behind a Handle.
type Guard struct {
	h             *store.Handle
	desc          Descriptor
	maintenanceDB string
	adminUsername string
	adminPassword string
	now           func() time.Time
	encode        func(string) (secret.Keyed, error)

	mu    sync.Mutex
	state atomic.Int32
}

// Option configures Guard.
type Option func(*Guard)

// WithMaintenanceDB sets the server database used to create the target database.
func WithMaintenanceDB(name string) Option {
	return func(g *Guard) {
		if name != "" {
			g.maintenanceDB = name
		}
	}
}

// WithDescriptor replaces the Lab schema.
func WithDescriptor(d Descriptor) Option {
	return func(g *Guard) { g.desc = d }
}

// WithDefaultAdmin overrides the credentials seeded into an empty store.
func WithDefaultAdmin(username, password string) Option {
	return func(g *Guard) {
		if username != "" && password != "" {
			g.adminUsername = username
			g.adminPassword = password
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// New constructs a Guard for h.
func New(h *store.Handle, opts ...Option) (*Guard, error) {
	if h == nil {
		return nil, errors.New("schema: store handle is required")
	}
	g := &Guard{
		h:             h,
		desc:          Lab,
		maintenanceDB: defaultMaintenanceDB,
		adminUsername: defaultAdminUsername,
		adminPassword: defaultAdminPassword,
		now:           time.Now,
		encode:        secret.Encode,
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.desc.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return g, nil
}

// State reports the furthest completed step.
func (g *Guard) State() State { return State(g.state.Load()) }

// Ready reports whether Init has completed in this process.
func (g *Guard) Ready() bool { return g.State() == Ready }

// Init runs database, tables, backfill and seed in that order, once.
// Concurrent callers block until the first finishes; a failed run leaves the
// guard not ready so a later call retries from the start.
func (g *Guard) Init(ctx context.Context) error {
	if g.Ready() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Ready() {
		return nil
	}

	g.state.Store(int32(NotInitialized))
	steps := []struct {
		name string
		run  func(context.Context) error
		next State
	}{
		{"database", g.EnsureDatabase, DatabaseEnsured},
		{"tables", g.EnsureTables, TablesEnsured},
		{"backfill", g.Backfill, ColumnsBackfilled},
		{"seed", func(ctx context.Context) error {
			_, err := g.SeedDefaultAccount(ctx)
			return err
		}, Seeded},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			obs.Log("error", "schema init failed", map[string]any{
				"step":  step.name,
				"state": g.State().String(),
				"error": err.Error(),
			})
			return err
		}
		g.state.Store(int32(step.next))
	}
	g.state.Store(int32(Ready))
	obs.Log("info", "schema ready", map[string]any{"dialect": g.h.Dialect().Name()})
	return nil
}

// EnsureDatabase creates the target database through the maintenance
// database when it is missing, then reconnects to the target.
func (g *Guard) EnsureDatabase(ctx context.Context) error {
	dsn := g.h.DSN()
	if dsn == "" {
		return nil
	}
	created, err := g.h.Dialect().EnsureDatabase(ctx, dsn, g.maintenanceDB)
	if err != nil {
		return fmt.Errorf("%w: database: %w", ErrSchema, err)
	}
	if created {
		obs.SchemaChange("database")
		obs.Log("info", "created database", map[string]any{"dialect": g.h.Dialect().Name()})
	}
	if err := g.h.Reconnect(ctx); err != nil {
		return fmt.Errorf("%w: reconnect: %w", ErrSchema, err)
	}
	return nil
}

// EnsureTables creates every missing table with its full definition.
func (g *Guard) EnsureTables(ctx context.Context) error {
	d := g.h.Dialect()
	err := g.h.Do(ctx, func(ctx context.Context, q store.Querier) error {
		for _, t := range g.desc.Tables {
			cols, err := d.Columns(ctx, q, t.Name)
			if err != nil {
				return fmt.Errorf("introspect %s: %w", t.Name, err)
			}
			if len(cols) > 0 {
				continue
			}
			if _, err := q.ExecContext(ctx, createStatement(d, t)); err != nil {
				if d.IsDuplicateTable(err) {
					continue
				}
				return fmt.Errorf("create %s: %w", t.Name, err)
			}
			obs.SchemaChange("table")
			obs.Log("info", "created table", map[string]any{"table": t.Name})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

// EnsureColumn adds column to table when it is missing. columnType is a
// logical type: text, integer or timestamp.
func (g *Guard) EnsureColumn(ctx context.Context, table, column, columnType string) error {
	spec := ColumnSpec{Table: table, Column: column, Type: store.ColumnType(columnType)}
	if err := validSpec(spec); err != nil {
		return err
	}
	err := g.h.Do(ctx, func(ctx context.Context, q store.Querier) error {
		return g.ensureColumn(ctx, q, spec)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

// Backfill ensures every expected column of the descriptor.
func (g *Guard) Backfill(ctx context.Context) error {
	err := g.h.Do(ctx, func(ctx context.Context, q store.Querier) error {
		for _, spec := range g.desc.Expected() {
			if err := g.ensureColumn(ctx, q, spec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return nil
}

func (g *Guard) ensureColumn(ctx context.Context, q store.Querier, spec ColumnSpec) error {
	d := g.h.Dialect()
	cols, err := d.Columns(ctx, q, spec.Table)
	if err != nil {
		return fmt.Errorf("introspect %s: %w", spec.Table, err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s does not exist", spec.Table)
	}
	if cols[spec.Column] {
		return nil
	}
	stmt := fmt.Sprintf("alter table %s add column %s %s", d.Quote(spec.Table), d.Quote(spec.Column), d.TypeName(spec.Type))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		if d.IsDuplicateColumn(err) {
			return nil
		}
		return fmt.Errorf("add column %s: %w", spec, err)
	}
	obs.SchemaChange("column")
	obs.Log("info", "added missing column", map[string]any{"table": spec.Table, "column": spec.Column})
	return nil
}

// SeedDefaultAccount inserts the default administrator when accounts is
// empty. It reports whether a row was inserted.
func (g *Guard) SeedDefaultAccount(ctx context.Context) (bool, error) {
	k, err := g.encode(g.adminPassword)
	if err != nil {
		return false, fmt.Errorf("%w: seed: %w", ErrSchema, err)
	}
	d := g.h.Dialect()
	var seeded bool
	err = g.h.Do(ctx, func(ctx context.Context, q store.Querier) error {
		var n int
		if err := q.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&n); err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		if n > 0 {
			return nil
		}
		res, err := q.ExecContext(ctx, d.Rebind(`
			insert into accounts (full_name, username, password_hash, email, role, created_at)
			values ($1, $2, $3, $4, $5, $6)
		`), "Administrator", g.adminUsername, k.String(), "admin@example.com", "Admin", g.now().UTC())
		if err != nil {
			// Another process seeded between the count and the insert.
			if d.IsUniqueViolation(err) {
				return nil
			}
			return fmt.Errorf("insert default account: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected > 0 {
			seeded = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: seed: %w", ErrSchema, err)
	}
	if seeded {
		obs.SchemaChange("seed")
		obs.Log("info", "seeded default account", map[string]any{"username": g.adminUsername})
	}
	return seeded, nil
}

// Change is one pending schema change reported by Plan.
type Change struct {
	Kind   string // "table" or "column"
	Table  string
	Column string
	Type   store.ColumnType
}

func (c Change) String() string {
	if c.Kind == "table" {
		return "create table " + c.Table
	}
	return fmt.Sprintf("add column %s.%s %s", c.Table, c.Column, c.Type)
}

// Plan lists the changes Init would apply, without applying them.
// Columns of a missing table are covered by its table change.
func (g *Guard) Plan(ctx context.Context) ([]Change, error) {
	d := g.h.Dialect()
	var changes []Change
	err := g.h.Do(ctx, func(ctx context.Context, q store.Querier) error {
		for _, t := range g.desc.Tables {
			cols, err := d.Columns(ctx, q, t.Name)
			if err != nil {
				return fmt.Errorf("introspect %s: %w", t.Name, err)
			}
			if len(cols) == 0 {
				changes = append(changes, Change{Kind: "table", Table: t.Name})
				continue
			}
			for _, c := range t.Columns {
				if !cols[c.Name] {
					changes = append(changes, Change{Kind: "column", Table: t.Name, Column: c.Name, Type: c.Type})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return changes, nil
}

func validSpec(spec ColumnSpec) error {
	if !identifier.MatchString(spec.Table) || !identifier.MatchString(spec.Column) {
		return fmt.Errorf("%w: invalid identifier %s.%s", ErrSchema, spec.Table, spec.Column)
	}
	switch spec.Type {
	case store.Text, store.Integer, store.Timestamp:
		return nil
	default:
		return fmt.Errorf("%w: unsupported column type %q", ErrSchema, spec.Type)
	}
}
