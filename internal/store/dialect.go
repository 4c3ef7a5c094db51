package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ColumnType is a logical column type mapped per dialect.
type ColumnType string

const (
	Text      ColumnType = "text"
	Integer   ColumnType = "integer"
	Timestamp ColumnType = "timestamp"
)

const (
	pgErrDuplicateColumn   = "42701"
	pgErrDuplicateDatabase = "42P04"
	pgErrDuplicateTable    = "42P07"
	pgErrUniqueViolation   = "23505"
)

// Dialect isolates the SQL differences between supported backends.
type Dialect interface {
	Name() string
	DriverName() string
	// Rebind converts $n placeholders to the dialect's form.
	Rebind(query string) string
	Quote(ident string) string
	TypeName(t ColumnType) string
	// IdentityColumn is the column definition of an auto-assigned primary key.
	IdentityColumn() string
	// Columns lists the live column names of table; an absent table yields none.
	Columns(ctx context.Context, q Querier, table string) (map[string]bool, error)
	// EnsureDatabase creates the database named by dsn when it is missing,
	// using only the server part of dsn. It reports whether it created it.
	EnsureDatabase(ctx context.Context, dsn, maintenanceDB string) (bool, error)
	IsDuplicateColumn(err error) bool
	IsDuplicateTable(err error) bool
	IsUniqueViolation(err error) bool
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

var (
	Postgres Dialect = postgresDialect{}
	SQLite   Dialect = sqliteDialect{}
)

// Postgres -----------------------------------------------------------------

type postgresDialect struct{}

// openServerDB connects to the maintenance database; replaced in tests.
var openServerDB = func(cfg *pgx.ConnConfig) *sql.DB {
	return stdlib.OpenDB(*cfg)
}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Rebind(query string) string { return query }

func (postgresDialect) Quote(ident string) string { return pgx.Identifier{ident}.Sanitize() }

func (postgresDialect) TypeName(t ColumnType) string {
	switch t {
	case Integer:
		return "bigint"
	case Timestamp:
		return "timestamptz"
	default:
		return "text"
	}
}

func (postgresDialect) IdentityColumn() string { return "bigserial primary key" }

func (postgresDialect) Columns(ctx context.Context, q Querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `
		select column_name
		from information_schema.columns
		where table_schema = current_schema() and table_name = $1
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (d postgresDialect) EnsureDatabase(ctx context.Context, dsn, maintenanceDB string) (bool, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return false, fmt.Errorf("parse dsn: %w", err)
	}
	name := cfg.Database
	if name == "" || name == maintenanceDB {
		return false, nil
	}
	server := cfg.Copy()
	server.Database = maintenanceDB

	db := openServerDB(server)
	defer db.Close()

	var exists bool
	if err := db.QueryRowContext(ctx,
		`select exists(select 1 from pg_database where datname = $1)`, name,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup database %s: %w", name, err)
	}
	if exists {
		return false, nil
	}
	if _, err := db.ExecContext(ctx, "create database "+d.Quote(name)); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrDuplicateDatabase {
			return false, nil
		}
		return false, fmt.Errorf("create database %s: %w", name, err)
	}
	return true, nil
}

func (postgresDialect) IsDuplicateColumn(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrDuplicateColumn
}

func (postgresDialect) IsDuplicateTable(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrDuplicateTable
}

func (postgresDialect) IsUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrUniqueViolation
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// SQLite -------------------------------------------------------------------

type sqliteDialect struct{}

var placeholder = regexp.MustCompile(`\$\d+`)

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

// Rebind assumes each $n appears once and in ascending order.
func (sqliteDialect) Rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?")
}

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) TypeName(t ColumnType) string {
	switch t {
	case Integer:
		return "integer"
	case Timestamp:
		return "timestamp"
	default:
		return "text"
	}
}

func (sqliteDialect) IdentityColumn() string { return "integer primary key autoincrement" }

func (d sqliteDialect) Columns(ctx context.Context, q Querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "PRAGMA table_info("+d.Quote(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid          int
			name         string
			colType      string
			notNull      int
			defaultValue sql.NullString
			pk           int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (sqliteDialect) EnsureDatabase(_ context.Context, dsn, _ string) (bool, error) {
	path := sqlitePath(dsn)
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return false, fmt.Errorf("create database dir: %w", err)
		}
	}
	return true, nil
}

func (sqliteDialect) IsDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func (sqliteDialect) IsDuplicateTable(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// sqlitePath extracts the file path of a sqlite dsn; empty for in-memory databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		if strings.Contains(path[i:], "mode=memory") {
			return ""
		}
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Clean(path)
}
