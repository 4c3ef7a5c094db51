package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"labkeeper.org/internal/auth"
)

// Accounts is the SQL credential store over a Handle.
type Accounts struct {
	h *Handle
}

var _ auth.CredentialStore = (*Accounts)(nil)

// NewAccounts returns the credential store backed by h.
func NewAccounts(h *Handle) *Accounts { return &Accounts{h: h} }

// FindByUsername reads one account with both secret columns.
func (a *Accounts) FindByUsername(ctx context.Context, username string) (auth.AccountRecord, error) {
	var (
		rec       auth.AccountRecord
		fullName  sql.NullString
		email     sql.NullString
		role      sql.NullString
		hash      sql.NullString
		legacy    sql.NullString
		lastLogin nullTime
	)
	err := a.h.Do(ctx, func(ctx context.Context, q Querier) error {
		return q.QueryRowContext(ctx, a.h.Dialect().Rebind(`
			select account_id, username, full_name, email, role, password_hash, password, last_login
			from accounts
			where username = $1
		`), username).Scan(&rec.ID, &rec.Username, &fullName, &email, &role, &hash, &legacy, &lastLogin)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AccountRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.AccountRecord{}, fmt.Errorf("find account: %w", err)
	}
	rec.FullName = fullName.String
	rec.Email = email.String
	rec.Role = role.String
	rec.PasswordHash = hash.String
	rec.LegacyPassword = legacy.String
	if lastLogin.Valid {
		t := lastLogin.Time
		rec.LastLoginAt = &t
	}
	return rec, nil
}

// UpdateSecret writes a Keyed secret and clears the legacy column.
func (a *Accounts) UpdateSecret(ctx context.Context, accountID int64, encoded string) error {
	return a.h.Do(ctx, func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx, a.h.Dialect().Rebind(`
			update accounts set password_hash = $1, password = null where account_id = $2
		`), encoded, accountID)
		if err != nil {
			return fmt.Errorf("update secret: %w", err)
		}
		return expectRow(res)
	})
}

// TouchLastLogin records the time of a successful login.
func (a *Accounts) TouchLastLogin(ctx context.Context, accountID int64, at time.Time) error {
	return a.h.Do(ctx, func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx, a.h.Dialect().Rebind(`
			update accounts set last_login = $1 where account_id = $2
		`), at.UTC(), accountID)
		if err != nil {
			return fmt.Errorf("touch last login: %w", err)
		}
		return expectRow(res)
	})
}

// UsernameTaken reports whether any account uses username.
func (a *Accounts) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := a.h.Do(ctx, func(ctx context.Context, q Querier) error {
		var n int
		if err := q.QueryRowContext(ctx, a.h.Dialect().Rebind(`
			select count(*) from accounts where username = $1
		`), username).Scan(&n); err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		taken = n > 0
		return nil
	})
	return taken, err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// nullTime scans timestamp columns that older deployments stored as text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (n *nullTime) Scan(src any) error {
	n.Time, n.Valid = time.Time{}, false
	var s string
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		n.Time, n.Valid = v, true
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("store: cannot scan %T into timestamp", src)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	// Unparseable legacy values are treated as unknown rather than failing the login.
	return nil
}
