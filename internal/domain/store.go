package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market snapshots. The live state machine is the
// source of truth; the store is the durable record written after each
// committed transition.
type MarketStore interface {
	Upsert(ctx context.Context, rec MarketRecord) error
	GetByID(ctx context.Context, id string) (MarketRecord, error)
	ListByAsset(ctx context.Context, asset string, opts ListOpts) ([]MarketRecord, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]MarketRecord, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]MarketRecord, error)
	Count(ctx context.Context) (int64, error)
}

// RiskProfileStore persists risk profile snapshots.
type RiskProfileStore interface {
	Upsert(ctx context.Context, rec RiskProfileRecord) error
	Get(ctx context.Context, marketplace, address string) (RiskProfileRecord, error)
	ListRestricted(ctx context.Context, marketplace string) ([]RiskProfileRecord, error)
}

// PriceHistoryStore persists per-market price snapshots.
type PriceHistoryStore interface {
	Append(ctx context.Context, marketID string, point PricePoint) error
	List(ctx context.Context, marketID string, opts ListOpts) ([]PricePoint, error)
	ListBefore(ctx context.Context, before time.Time) ([]PricePoint, error)
}

// FraudReportStore persists fraud reports.
type FraudReportStore interface {
	Insert(ctx context.Context, report FraudReport) error
	ListBySubject(ctx context.Context, subject string, opts ListOpts) ([]FraudReport, error)
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
