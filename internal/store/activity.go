package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"labkeeper.org/internal/auth"
)

// Activity writes rows to activity_log.
type Activity struct {
	h   *Handle
	now func() time.Time
}

// NewActivity returns the activity log writer backed by h.
func NewActivity(h *Handle) *Activity { return &Activity{h: h, now: time.Now} }

// Append inserts the full activity row.
func (a *Activity) Append(ctx context.Context, ev auth.Event) error {
	return a.h.Do(ctx, func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, a.h.Dialect().Rebind(`
			insert into activity_log (actor, action, target_table, target_id, description, occurred_at)
			values ($1, $2, $3, $4, $5, $6)
		`), ev.Actor, ev.Action, nullString(ev.TargetTable), nullID(ev.TargetID), nullString(ev.Description), a.now().UTC())
		if err != nil {
			return fmt.Errorf("append activity: %w", err)
		}
		return nil
	})
}

// AppendMinimal inserts only actor, action and time; used when Append fails
// against a partially migrated activity_log.
func (a *Activity) AppendMinimal(ctx context.Context, ev auth.Event) error {
	return a.h.Do(ctx, func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, a.h.Dialect().Rebind(`
			insert into activity_log (actor, action, occurred_at) values ($1, $2, $3)
		`), ev.Actor, ev.Action, a.now().UTC())
		if err != nil {
			return fmt.Errorf("append minimal activity: %w", err)
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}
