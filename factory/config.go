/*
Package factory provides JSON to Go conversion of company configuration.

PURPOSE:
  Converts JSON parameter bags and payment modalities into loan.Parameters
  and loan.PaymentModality. Both are stored as JSON documents by the SQL
  stores, so operators can change thresholds without a schema migration.

JSON SCHEMA (parameters):
  {
    "company_id": "acme",
    "minimum_installments_yellow": {"daily": 2, "weekly": 1, "biweekly": 1, "monthly": 1},
    "minimum_installments_red":    {"daily": 4, "weekly": 2, "biweekly": 2, "monthly": 2},
    "interest_rate_for_late_payment": "3.5",
    "default_max_client_debt_days": 30,
    "max_days_for_cancellation": 60,
    "grace_period_days": 0,
    "rest_day": "sunday"
  }

JSON SCHEMA (modality):
  {
    "id": "daily-20",
    "company_id": "acme",
    "type": "daily",
    "percent": "20",
    "cadence": {"days": 24},
    "off_days": false
  }

  Percentages are decimal strings so they survive a round trip exactly.

USAGE:
  params, err := factory.ParseParameters(raw)
  modality, err := factory.ParseModality(raw)
  raw, err := factory.MarshalModality(modality)

SEE ALSO:
  - loan/types.go: Parameters
  - loan/modality.go: PaymentModality
  - store/sqlite/sqlite.go: Stores these documents
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ThresholdsJSON holds one threshold per frequency.
type ThresholdsJSON struct {
	Daily    int `json:"daily"`
	Weekly   int `json:"weekly"`
	Biweekly int `json:"biweekly"`
	Monthly  int `json:"monthly"`
}

// ParametersJSON is the JSON representation of a company parameter bag.
type ParametersJSON struct {
	CompanyID                  string          `json:"company_id"`
	Yellow                     ThresholdsJSON  `json:"minimum_installments_yellow"`
	Red                        ThresholdsJSON  `json:"minimum_installments_red"`
	InterestRateForLatePayment decimal.Decimal `json:"interest_rate_for_late_payment"`
	DefaultMaxClientDebtDays   int             `json:"default_max_client_debt_days"`
	MaxDaysForCancellation     int             `json:"max_days_for_cancellation"`
	GracePeriodDays            int             `json:"grace_period_days"`
	RestDay                    string          `json:"rest_day,omitempty"` // default sunday
}

// CadenceJSON mirrors loan.Cadence.
type CadenceJSON struct {
	Days       int `json:"days,omitempty"`
	Weeks      int `json:"weeks,omitempty"`
	Fortnights int `json:"fortnights,omitempty"`
	Months     int `json:"months,omitempty"`
}

// ModalityJSON is the JSON representation of a payment modality.
type ModalityJSON struct {
	ID        string          `json:"id"`
	CompanyID string          `json:"company_id"`
	Type      string          `json:"type"`
	Percent   decimal.Decimal `json:"percent"`
	Cadence   CadenceJSON     `json:"cadence"`
	OffDays   bool            `json:"off_days"`
}

// =============================================================================
// PARAMETERS
// =============================================================================

// ParseParameters parses and validates a parameter document.
func ParseParameters(raw string) (*loan.Parameters, error) {
	var pj ParametersJSON
	if err := json.Unmarshal([]byte(raw), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse parameters JSON: %w", err)
	}
	return ParametersFromJSON(pj)
}

func ParametersFromJSON(pj ParametersJSON) (*loan.Parameters, error) {
	restDay, err := ParseWeekday(pj.RestDay)
	if err != nil {
		return nil, &generic.ConfigurationError{CompanyID: generic.CompanyID(pj.CompanyID), Field: "rest_day", Reason: err.Error()}
	}

	p := &loan.Parameters{
		CompanyID:                         generic.CompanyID(pj.CompanyID),
		MinimumInstallmentsYellowDaily:    pj.Yellow.Daily,
		MinimumInstallmentsYellowWeekly:   pj.Yellow.Weekly,
		MinimumInstallmentsYellowBiweekly: pj.Yellow.Biweekly,
		MinimumInstallmentsYellowMonthly:  pj.Yellow.Monthly,
		MinimumInstallmentsRedDaily:       pj.Red.Daily,
		MinimumInstallmentsRedWeekly:      pj.Red.Weekly,
		MinimumInstallmentsRedBiweekly:    pj.Red.Biweekly,
		MinimumInstallmentsRedMonthly:     pj.Red.Monthly,
		InterestRateForLatePayment:        pj.InterestRateForLatePayment,
		DefaultMaxClientDebtDays:          pj.DefaultMaxClientDebtDays,
		MaxDaysForCancellation:            pj.MaxDaysForCancellation,
		GracePeriodDays:                   pj.GracePeriodDays,
		RestDay:                           restDay,
	}

	// Thresholds are validated per frequency at classification time; only
	// the frequencies a company actually uses need to be configured.
	if p.GracePeriodDays < 0 || p.DefaultMaxClientDebtDays < 0 || p.MaxDaysForCancellation < 0 {
		return nil, &generic.ConfigurationError{CompanyID: p.CompanyID, Field: "days", Reason: "day limits must not be negative"}
	}
	return p, nil
}

func ParametersToJSON(p *loan.Parameters) ParametersJSON {
	return ParametersJSON{
		CompanyID: string(p.CompanyID),
		Yellow: ThresholdsJSON{
			Daily:    p.MinimumInstallmentsYellowDaily,
			Weekly:   p.MinimumInstallmentsYellowWeekly,
			Biweekly: p.MinimumInstallmentsYellowBiweekly,
			Monthly:  p.MinimumInstallmentsYellowMonthly,
		},
		Red: ThresholdsJSON{
			Daily:    p.MinimumInstallmentsRedDaily,
			Weekly:   p.MinimumInstallmentsRedWeekly,
			Biweekly: p.MinimumInstallmentsRedBiweekly,
			Monthly:  p.MinimumInstallmentsRedMonthly,
		},
		InterestRateForLatePayment: p.InterestRateForLatePayment,
		DefaultMaxClientDebtDays:   p.DefaultMaxClientDebtDays,
		MaxDaysForCancellation:     p.MaxDaysForCancellation,
		GracePeriodDays:            p.GracePeriodDays,
		RestDay:                    strings.ToLower(p.RestDay.String()),
	}
}

func MarshalParameters(p *loan.Parameters) (string, error) {
	b, err := json.Marshal(ParametersToJSON(p))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// MODALITY
// =============================================================================

// ParseModality parses and validates a modality document.
func ParseModality(raw string) (*loan.PaymentModality, error) {
	var mj ModalityJSON
	if err := json.Unmarshal([]byte(raw), &mj); err != nil {
		return nil, fmt.Errorf("failed to parse modality JSON: %w", err)
	}
	return ModalityFromJSON(mj)
}

func ModalityFromJSON(mj ModalityJSON) (*loan.PaymentModality, error) {
	freq, err := generic.ParseFrequency(mj.Type)
	if err != nil {
		return nil, &generic.ConfigurationError{CompanyID: generic.CompanyID(mj.CompanyID), Field: "modality.type", Reason: err.Error()}
	}
	m := &loan.PaymentModality{
		ID:        mj.ID,
		CompanyID: generic.CompanyID(mj.CompanyID),
		Type:      freq,
		Percent:   mj.Percent,
		Cadence: loan.Cadence{
			Days:       mj.Cadence.Days,
			Weeks:      mj.Cadence.Weeks,
			Fortnights: mj.Cadence.Fortnights,
			Months:     mj.Cadence.Months,
		},
		OffDays: mj.OffDays,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func ModalityToJSON(m *loan.PaymentModality) ModalityJSON {
	return ModalityJSON{
		ID:        m.ID,
		CompanyID: string(m.CompanyID),
		Type:      string(m.Type),
		Percent:   m.Percent,
		Cadence: CadenceJSON{
			Days:       m.Cadence.Days,
			Weeks:      m.Cadence.Weeks,
			Fortnights: m.Cadence.Fortnights,
			Months:     m.Cadence.Months,
		},
		OffDays: m.OffDays,
	}
}

func MarshalModality(m *loan.PaymentModality) (string, error) {
	b, err := json.Marshal(ModalityToJSON(m))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// ParseWeekday accepts English weekday names in any case. Empty means
// generic.DefaultRestDay.
func ParseWeekday(s string) (time.Weekday, error) {
	if s == "" {
		return generic.DefaultRestDay, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
