// Package audit writes audit lines and activity rows for security-relevant events.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"labkeeper.org/internal/auth"
	"labkeeper.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// line is one audit record as written to the log.
type line struct {
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Target    string         `json:"target,omitempty"`
	TargetID  int64          `json:"target_id,omitempty"`
	Summary   string         `json:"description,omitempty"`
	Fields    map[string]any `json:"fields"`
}

func newLine(ctx context.Context, event string) line {
	l := line{
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    map[string]any{},
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		l.UserID = userID
	}
	return l
}

func (l line) write() error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogEvent writes a free-form audit line enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l := newLine(ctx, event)
	if len(fields) > 0 {
		l.Fields = maps.Clone(fields)
	}
	return l.write()
}

// LogActivity writes the audit line of an activity event.
func LogActivity(ctx context.Context, ev auth.Event) error {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return errors.New("event action is required")
	}
	l := newLine(ctx, action)
	l.Actor = ev.Actor
	l.Target = ev.TargetTable
	l.TargetID = ev.TargetID
	l.Summary = ev.Description
	return l.write()
}
