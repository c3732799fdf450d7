/*
store.go - Persistence interfaces shared by every domain package

PURPOSE:
  Defines the narrow interfaces between the engine and the database for the
  concerns that are not contract-specific: the holiday calendar and the
  audit trail. Contract, parameter and arrear repositories live next to the
  loan domain (loan/store.go).

KEY INTERFACES:
  HolidayStore: Company holidays (list, bulk insert with dedup)
  AuditSink:    Fire-and-forget audit events

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)
  - store/memory/memory.go: In-memory for testing
  - audit/kafka.go: AuditSink publishing to Kafka

SEE ALSO:
  - calendar.go: Holiday type
  - audit/dispatcher.go: Non-blocking delivery to an AuditSink
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// HOLIDAY STORE
// =============================================================================

// HolidayStore persists company holidays. (CompanyID, Date) is unique.
type HolidayStore interface {
	// ListHolidays returns all holidays of a company ordered by date.
	ListHolidays(ctx context.Context, companyID CompanyID) ([]Holiday, error)

	// InsertHolidays inserts holidays, silently skipping any whose
	// (CompanyID, Date) already exists. Returns the number inserted.
	InsertHolidays(ctx context.Context, companyID CompanyID, holidays []Holiday) (int, error)
}

// =============================================================================
// AUDIT LOG - Tracks who triggered what
// =============================================================================

// AuditEntry records an operator- or system-triggered action.
type AuditEntry struct {
	ID          string
	At          time.Time
	Description string
	Actor       string // "system" for scheduled jobs
	IP          string
	CompanyID   CompanyID
	ContractID  ContractID
}

// ActorSystem is the actor recorded for scheduled jobs.
const ActorSystem = "system"

// AuditSink receives audit entries. Delivery failures must never affect
// the caller's result.
type AuditSink interface {
	RecordEvent(ctx context.Context, entry AuditEntry) error
}

type actorKey struct{}

type actorInfo struct {
	actor string
	ip    string
}

// WithActor attaches the operator and client IP that triggered an action.
func WithActor(ctx context.Context, actor, ip string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorInfo{actor: actor, ip: ip})
}

// ActorFrom returns the actor attached by WithActor, or ActorSystem.
func ActorFrom(ctx context.Context) (actor, ip string) {
	if info, ok := ctx.Value(actorKey{}).(actorInfo); ok && info.actor != "" {
		return info.actor, info.ip
	}
	return ActorSystem, ""
}

// NewAuditEntry builds an entry stamped with the actor carried by ctx.
func NewAuditEntry(ctx context.Context, description string) AuditEntry {
	actor, ip := ActorFrom(ctx)
	return AuditEntry{
		At:          time.Now(),
		Description: description,
		Actor:       actor,
		IP:          ip,
	}
}
