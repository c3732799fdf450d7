package loan

import (
	"github.com/shopspring/decimal"
	"github.com/warp/collection-engine/generic"
)

// =============================================================================
// PAYMENT MODALITY - Collection frequency and surcharge of a contract
// =============================================================================

// Cadence holds the number of periods per unit. Only the count matching the
// modality type is meaningful; the others are ignored.
type Cadence struct {
	Days       int
	Weeks      int
	Fortnights int
	Months     int
}

// PaymentModality describes how a contract is collected. Once a contract
// references it, it is treated as immutable: contracts keep their own copy.
type PaymentModality struct {
	ID        string
	CompanyID generic.CompanyID
	Type      generic.Frequency
	Percent   decimal.Decimal // surcharge over principal, in percentage points
	Cadence   Cadence
	OffDays   bool // true = off-days are collectible, due dates never roll
}

// Periods returns the number of installments of the modality.
func (m *PaymentModality) Periods() int {
	switch m.Type {
	case generic.FrequencyDaily:
		return m.Cadence.Days
	case generic.FrequencyWeekly:
		return m.Cadence.Weeks
	case generic.FrequencyFortnightly:
		return m.Cadence.Fortnights
	case generic.FrequencyMonthly:
		return m.Cadence.Months
	}
	return 0
}

// Validate enforces: known type, positive percent, positive period count.
func (m *PaymentModality) Validate() error {
	if _, err := generic.ParseFrequency(string(m.Type)); err != nil {
		return &generic.ConfigurationError{CompanyID: m.CompanyID, Field: "modality.type", Reason: err.Error()}
	}
	if !m.Percent.IsPositive() {
		return &generic.ConfigurationError{CompanyID: m.CompanyID, Field: "modality.percent", Reason: "must be greater than zero"}
	}
	if m.Periods() <= 0 {
		return &generic.ConfigurationError{CompanyID: m.CompanyID, Field: "modality.cadence", Reason: "period count for " + string(m.Type) + " must be positive"}
	}
	return nil
}

// TotalObligation is principal plus the modality surcharge, in minor units.
func (m *PaymentModality) TotalObligation(principal generic.Money) generic.Money {
	return principal.Add(principal.Percent(m.Percent))
}
