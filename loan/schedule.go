/*
schedule.go - Installment schedule generation

PURPOSE:
  Turns a contract (principal, origin date) and its payment modality into
  the ordered list of expected installments. Everything downstream (ledger
  reconciliation, risk classification) is computed against this list.

ALGORITHM:
  For k = 0 .. n-1:
    1. Nominal date  = Step(origin, k)   (days / 7 days / 14 days / months)
    2. Candidate     = max(nominal, previous due date + 1 day)
    3. If OffDays is false and the candidate is not payable, roll FORWARD
       to the next payable day. Never backward: a due date must not move
       into the past relative to what the client was told.

  Nominal dates come from the origin, so weekly and monthly schedules do
  not drift after a holiday. The "previous + 1 day" floor keeps daily
  schedules strictly increasing when a roll lands on the next nominal day.

AMOUNTS:
  total = principal + principal * percent / 100 (rounded to minor units)
  Each installment gets total / n; the last one absorbs the remainder, so
  the sum is always exactly the total obligation.

DETERMINISM:
  Same contract, modality and calendar always produce the same schedule.
  The schedule is never stored; it is regenerated on every recompute.

EXAMPLE:
  Daily, 10 installments of 100, origin Monday, Sunday rest day:
    Mon Tue Wed Thu Fri Sat | (Sun skipped) | Mon Tue Wed Thu
  10 due dates over an 11-day span.

SEE ALSO:
  - generic/period.go: Frequency.Step
  - generic/calendar.go: IsPayable, NextPayable
  - ledger.go: Allocates movements against the schedule
*/
package loan

import (
	"github.com/warp/collection-engine/generic"
)

// maxRollDays bounds the forward roll so a misconfigured calendar (every
// day a holiday) fails instead of looping.
const maxRollDays = 366

// Installment is one scheduled obligation.
type Installment struct {
	Number    int // 1-based
	DueDate   generic.TimePoint
	DueAmount generic.Money
}

// Schedule is the expected installment calendar of a contract.
type Schedule struct {
	ContractID   generic.ContractID
	CompanyID    generic.CompanyID
	Frequency    generic.Frequency
	Origin       generic.TimePoint
	Total        generic.Money
	Installments []Installment
}

// LastDueDate returns the due date of the final installment.
func (s *Schedule) LastDueDate() generic.TimePoint {
	if len(s.Installments) == 0 {
		return s.Origin
	}
	return s.Installments[len(s.Installments)-1].DueDate
}

// GenerateSchedule produces the ordered installments of a contract.
func GenerateSchedule(c *Contract, m *PaymentModality, cal generic.BusinessCalendar) (*Schedule, error) {
	if m == nil {
		return nil, &generic.ConfigurationError{CompanyID: c.CompanyID, ContractID: c.ID, Field: "modality", Reason: "missing"}
	}
	if err := m.Validate(); err != nil {
		return nil, withContract(err, c.ID)
	}
	if !c.Principal.IsPositive() {
		return nil, &generic.ConfigurationError{CompanyID: c.CompanyID, ContractID: c.ID, Field: "principal", Reason: "must be greater than zero"}
	}
	if c.StartDate.IsZero() {
		return nil, &generic.ConfigurationError{CompanyID: c.CompanyID, ContractID: c.ID, Field: "startDate", Reason: "missing"}
	}

	n := m.Periods()
	total := m.TotalObligation(c.Principal)
	amounts := total.Split(n)

	installments := make([]Installment, 0, n)
	var prev generic.TimePoint
	for k := 0; k < n; k++ {
		candidate := m.Type.Step(c.StartDate, k)
		if k > 0 {
			candidate = generic.Max(candidate, prev.AddDays(1))
		}

		if !m.OffDays && cal != nil {
			rolled, ok := generic.NextPayable(cal, c.CompanyID, candidate, maxRollDays)
			if !ok {
				return nil, &generic.ConfigurationError{
					CompanyID:  c.CompanyID,
					ContractID: c.ID,
					Field:      "calendar",
					Reason:     "no payable day within a year after " + candidate.String(),
				}
			}
			candidate = rolled
		}

		installments = append(installments, Installment{
			Number:    k + 1,
			DueDate:   candidate,
			DueAmount: amounts[k],
		})
		prev = candidate
	}

	return &Schedule{
		ContractID:   c.ID,
		CompanyID:    c.CompanyID,
		Frequency:    m.Type,
		Origin:       c.StartDate,
		Total:        total,
		Installments: installments,
	}, nil
}

// withContract stamps the contract on configuration errors raised by
// modality validation, which only knows the company.
func withContract(err error, id generic.ContractID) error {
	if ce, ok := err.(*generic.ConfigurationError); ok {
		cp := *ce
		cp.ContractID = id
		return &cp
	}
	return err
}
