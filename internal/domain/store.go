package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AlertStore persists strategy alerts.
type AlertStore interface {
	Insert(ctx context.Context, alert Alert) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Alert, error)
	ListBySeverity(ctx context.Context, min Severity, opts ListOpts) ([]Alert, error)
	ListBefore(ctx context.Context, before time.Time) ([]Alert, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of operational events
// (feed deaths, re-arms, strategy starts/stops, archive runs). Event names
// are dotted, "feed.rearm" or "archive.alerts", so a prefix selects a
// subsystem's trail.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns entries newest first. A non-empty eventPrefix restricts
	// the result to events starting with that prefix.
	List(ctx context.Context, eventPrefix string, opts ListOpts) ([]AuditEntry, error)
}
