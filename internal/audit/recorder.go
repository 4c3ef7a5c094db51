package audit

import (
	"context"
	"errors"
	"fmt"

	"labkeeper.org/internal/auth"
	"labkeeper.org/internal/obs"
)

// ActivityWriter persists audit events. AppendMinimal stores only actor,
// action and time, for activity tables that lack the newer columns.
type ActivityWriter interface {
	Append(ctx context.Context, ev auth.Event) error
	AppendMinimal(ctx context.Context, ev auth.Event) error
}

// Recorder logs every event and persists it best-effort.
type Recorder struct {
	w ActivityWriter
}

var _ auth.AuditSink = (*Recorder)(nil)

// NewRecorder returns a Recorder. A nil writer only logs.
func NewRecorder(w ActivityWriter) *Recorder { return &Recorder{w: w} }

// Record writes ev as an audit log line and to the activity log. When the
// full row cannot be written a minimal row is tried; the returned error is
// non-nil only if neither write succeeded.
func (r *Recorder) Record(ctx context.Context, ev auth.Event) error {
	if err := LogActivity(ctx, ev); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	if r.w == nil {
		return nil
	}

	err := r.w.Append(ctx, ev)
	if err == nil {
		return nil
	}
	obs.Log("warn", "activity insert failed, writing minimal row", map[string]any{
		"request_id": RequestIDFromContext(ctx),
		"action":     ev.Action,
		"error":      err.Error(),
	})
	if minErr := r.w.AppendMinimal(ctx, ev); minErr != nil {
		err = errors.Join(err, minErr)
		obs.Log("error", "activity log write failed", map[string]any{
			"request_id": RequestIDFromContext(ctx),
			"action":     ev.Action,
			"error":      err.Error(),
		})
		return err
	}
	return nil
}
