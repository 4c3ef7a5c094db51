package auth

import (
	"context"
	"time"
)

// CredentialStore describes the account persistence the service depends on.
//
// FindByUsername returns ErrNotFound when no row matches; any other error is
// treated as the store being unavailable.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (AccountRecord, error)
	UpdateSecret(ctx context.Context, accountID int64, encoded string) error
	TouchLastLogin(ctx context.Context, accountID int64, at time.Time) error
	UsernameTaken(ctx context.Context, username string) (bool, error)
}

// ColumnEnsurer adds a column to a table when it is missing.
type ColumnEnsurer interface {
	EnsureColumn(ctx context.Context, table, column, columnType string) error
}

// AuditSink records audit events. Implementations are best-effort.
type AuditSink interface {
	Record(ctx context.Context, ev Event) error
}
