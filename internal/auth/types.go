package auth

import (
	"time"

	"labkeeper.org/internal/secret"
)

// Account is the public view of an account row. It never carries the secret.
type Account struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Role        string     `json:"role"`
	FullName    string     `json:"full_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	LastLoginAt *time.Time `json:"last_login,omitempty"`
}

// AccountRecord is an account as read from the store, including both secret columns.
type AccountRecord struct {
	Account
	PasswordHash   string
	LegacyPassword string
}

// Secret returns the effective stored secret: password_hash when set,
// otherwise the legacy password column.
func (r AccountRecord) Secret() string {
	if r.PasswordHash != "" {
		return r.PasswordHash
	}
	return r.LegacyPassword
}

// Audit actions recorded by the service.
const (
	ActionMigratedPassword = "MigratedPassword"
	ActionPasswordChanged  = "PasswordChanged"
)

// SystemActor is the actor name of events the service raises on its own.
const SystemActor = "system"

// Event is one audit record handed to an AuditSink.
type Event struct {
	Actor       string
	Action      string
	TargetTable string
	TargetID    int64
	Description string
}

// SideEffect reports a best-effort write that followed a successful login.
type SideEffect struct {
	Attempted bool
	Err       error
}

// Failed reports whether the side effect was attempted and did not complete.
func (s SideEffect) Failed() bool { return s.Attempted && s.Err != nil }

// Result is the outcome of a successful Authenticate call.
type Result struct {
	Account Account
	// Format is the encoding the stored secret matched in.
	Format    secret.Format
	Migration SideEffect
	LastLogin SideEffect
}

// Migrated reports whether a legacy secret was rewritten in the Keyed format.
func (r Result) Migrated() bool { return r.Migration.Attempted && r.Migration.Err == nil }
