package loan

import (
	"context"
	"time"

	"github.com/warp/collection-engine/generic"
)

// =============================================================================
// REPOSITORIES - What the engine consumes from persistence
// =============================================================================

// ContractRepository reads contracts and owns the pending-status cache.
type ContractRepository interface {
	// ListActiveContracts returns active contracts, optionally limited to a
	// company (empty companyID = all companies), ordered by ID.
	ListActiveContracts(ctx context.Context, companyID generic.CompanyID) ([]ContractRef, error)

	// GetContract returns a consistent snapshot of the contract with its
	// modality, movements, payments and persisted status populated.
	// Returns generic.ErrNotFound when the contract does not exist.
	GetContract(ctx context.Context, id generic.ContractID) (*Contract, error)

	// GetPendingStatus returns the persisted status, or nil if none.
	GetPendingStatus(ctx context.Context, id generic.ContractID) (*PendingStatus, error)

	// SavePendingStatus upserts the status. Only the recompute runner calls it.
	SavePendingStatus(ctx context.Context, id generic.ContractID, status PendingStatus) error

	// PurgeFinishedBefore deletes inactive contracts finished before cutoff,
	// cascading movements, payments and pending status. Returns the count.
	PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// ListCompanyIDs returns every company that has parameters configured.
	ListCompanyIDs(ctx context.Context) ([]generic.CompanyID, error)
}

// ParameterRepository reads company parameters.
type ParameterRepository interface {
	// GetParameters returns generic.ErrNotFound when the company has none.
	GetParameters(ctx context.Context, companyID generic.CompanyID) (*Parameters, error)
}

// ArrearRepository reads the monthly surcharge table. Deleted rows are never returned.
type ArrearRepository interface {
	// GetArrear returns nil, nil when no arrear exists for the month.
	GetArrear(ctx context.Context, companyID generic.CompanyID, year int, month time.Month) (*Arrear, error)
	ListArrears(ctx context.Context, companyID generic.CompanyID) ([]Arrear, error)
}

// RunRepository records recompute runs.
type RunRepository interface {
	SaveRecomputeRun(ctx context.Context, run RecomputeRun) error
	ListRecomputeRuns(ctx context.Context, limit int) ([]RecomputeRun, error)
}

// WorkQueueRepository lists active contracts with their persisted status.
type WorkQueueRepository interface {
	ListWorkQueue(ctx context.Context, companyID generic.CompanyID) ([]WorkQueueItem, error)
}

// Repository is everything a store implementation provides.
type Repository interface {
	ContractRepository
	ParameterRepository
	ArrearRepository
	RunRepository
	WorkQueueRepository
	generic.HolidayStore
	generic.AuditSink
}

// =============================================================================
// RECORDS
// =============================================================================

// RunStatus is the lifecycle state of a RecomputeRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RecomputeRun records one execution of the recompute job.
type RecomputeRun struct {
	ID          string
	CompanyID   generic.CompanyID // empty = all companies
	Status      RunStatus
	Trigger     string // "schedule" or "manual"
	Updated     int
	Unchanged   int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// WorkQueueItem is one row of a collector work queue.
type WorkQueueItem struct {
	ContractID generic.ContractID
	CompanyID  generic.CompanyID
	RouteID    string
	ClientName string
	Status     *PendingStatus // nil when never computed
}
