// Package loan implements the installment schedule and delinquency status
// engine on top of the generic calendar and money types.
package loan

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/collection-engine/generic"
)

// =============================================================================
// CONTRACT - A loan collected on a recurring schedule
// =============================================================================

// Contract is a single loan between a company and a client, collected
// along a route. Modality is a snapshot taken when the loan was disbursed.
type Contract struct {
	ID         generic.ContractID
	CompanyID  generic.CompanyID
	RouteID    string
	ClientID   string
	ClientName string
	Modality   *PaymentModality
	Principal  generic.Money

	// StartDate is the schedule origin: the first installment falls due on it.
	StartDate  generic.TimePoint
	IsActive   bool
	FinishedAt *time.Time

	Movements []Movement
	Payments  []Movement

	// PendingStatus is the last persisted classification (nil if never computed).
	PendingStatus *PendingStatus
}

// Entries returns movements and payments together, ordered by date.
// Entries on the same date keep ID order so allocation is deterministic.
func (c *Contract) Entries() []Movement {
	out := make([]Movement, 0, len(c.Movements)+len(c.Payments))
	out = append(out, c.Movements...)
	out = append(out, c.Payments...)
	SortMovements(out)
	return out
}

// ContractRef identifies an active contract to recompute.
type ContractRef struct {
	ID        generic.ContractID
	CompanyID generic.CompanyID
}

// =============================================================================
// MOVEMENT - Cash or bank entry recorded against a contract
// =============================================================================

type MovementKind string

const (
	MovementCash MovementKind = "cash" // collected by a field worker
	MovementBank MovementKind = "bank" // transfer, validated once proof is checked
)

// Movement is append-only from the engine's point of view.
type Movement struct {
	ID         string
	ContractID generic.ContractID
	Amount     generic.Money
	Date       generic.TimePoint
	Validated  bool
	Kind       MovementKind
}

// SortMovements orders movements by date, then by ID.
func SortMovements(ms []Movement) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Date.Equal(ms[j].Date) {
			return ms[i].Date.Before(ms[j].Date)
		}
		return ms[i].ID < ms[j].ID
	})
}

// =============================================================================
// PARAMETERS - Per-company classification thresholds
// =============================================================================

// Parameters is the read-only configuration bag of a company.
type Parameters struct {
	CompanyID generic.CompanyID

	MinimumInstallmentsYellowDaily    int
	MinimumInstallmentsYellowWeekly   int
	MinimumInstallmentsYellowBiweekly int
	MinimumInstallmentsYellowMonthly  int

	MinimumInstallmentsRedDaily    int
	MinimumInstallmentsRedWeekly   int
	MinimumInstallmentsRedBiweekly int
	MinimumInstallmentsRedMonthly  int

	InterestRateForLatePayment decimal.Decimal
	DefaultMaxClientDebtDays   int
	MaxDaysForCancellation     int

	// GracePeriodDays is how many days overdue a contract may be before the
	// monthly arrear surcharge applies.
	GracePeriodDays int

	// RestDay is the weekly day collectors do not work.
	RestDay time.Weekday
}

// Thresholds returns the (yellow, red) late-installment counts for a frequency.
func (p Parameters) Thresholds(f generic.Frequency) (yellow, red int) {
	switch f {
	case generic.FrequencyDaily:
		return p.MinimumInstallmentsYellowDaily, p.MinimumInstallmentsRedDaily
	case generic.FrequencyWeekly:
		return p.MinimumInstallmentsYellowWeekly, p.MinimumInstallmentsRedWeekly
	case generic.FrequencyFortnightly:
		return p.MinimumInstallmentsYellowBiweekly, p.MinimumInstallmentsRedBiweekly
	case generic.FrequencyMonthly:
		return p.MinimumInstallmentsYellowMonthly, p.MinimumInstallmentsRedMonthly
	}
	return 0, 0
}

// ValidateFor checks the thresholds used by contracts of frequency f.
func (p Parameters) ValidateFor(f generic.Frequency) error {
	yellow, red := p.Thresholds(f)
	switch {
	case yellow <= 0 || red <= 0:
		return &generic.ConfigurationError{CompanyID: p.CompanyID, Field: "minimumInstallments " + string(f), Reason: "thresholds must be positive"}
	case yellow > red:
		return &generic.ConfigurationError{CompanyID: p.CompanyID, Field: "minimumInstallments " + string(f), Reason: "yellow threshold exceeds red threshold"}
	case p.GracePeriodDays < 0 || p.DefaultMaxClientDebtDays < 0:
		return &generic.ConfigurationError{CompanyID: p.CompanyID, Field: "days", Reason: "day limits must not be negative"}
	}
	return nil
}

// =============================================================================
// ARREARS - Monthly late-fee surcharge rates
// =============================================================================

// Arrear is the late surcharge rate effective for a calendar month.
// Percent is in percentage points.
type Arrear struct {
	ID        string
	CompanyID generic.CompanyID
	Year      int
	Month     time.Month
	Percent   decimal.Decimal
}

// ArrearLookup finds the arrear effective for a month.
type ArrearLookup interface {
	Lookup(year int, month time.Month) (Arrear, bool)
}

type arrearKey struct {
	year  int
	month time.Month
}

// ArrearTable is an in-memory ArrearLookup for one company.
type ArrearTable map[arrearKey]Arrear

func NewArrearTable(arrears ...Arrear) ArrearTable {
	t := make(ArrearTable, len(arrears))
	for _, a := range arrears {
		t[arrearKey{a.Year, a.Month}] = a
	}
	return t
}

func (t ArrearTable) Lookup(year int, month time.Month) (Arrear, bool) {
	a, ok := t[arrearKey{year, month}]
	return a, ok
}
