/*
ledger.go - Reconciliation of recorded movements against the schedule

PURPOSE:
  Answers "which installments has the client actually paid?" by replaying
  every cash/bank movement of a contract against its schedule. The result
  is derived, never stored; movements are the source of truth.

ALLOCATION (strict FIFO):
  Movements are replayed in date order. Each validated amount is applied to
  the earliest installment that still has an outstanding balance, filling
  it completely before moving on to the next one.

    movements [50, 30] against installments [40, 40, 40]
      -> #1 paid 40, #2 paid 40 (30 + the 10 left from the first movement),
         #3 paid 0

VALIDATED vs NOT VALIDATED:
  A bank transfer whose proof has not been checked yet does not clear debt.
  Its amount only accumulates NotValidatedAmount.

OVERPAYMENT:
  Money beyond the total obligation is clamped: it never produces a
  negative balance or a credit. The excess is reported as DiscardedAmount.

REJECTED INPUT:
  - Negative amounts
  - Movements dated before the schedule origin
  Both return DataIntegrityError; the caller skips the contract.

SEE ALSO:
  - schedule.go: Produces the installments
  - classify.go: Turns allocations into a PendingStatus
*/
package loan

import (
	"github.com/warp/collection-engine/generic"
)

// =============================================================================
// ALLOCATION - What was paid against one installment
// =============================================================================

type Allocation struct {
	Installment
	Paid generic.Money

	// PaidAt is the date of the movement that completed the installment.
	PaidAt *generic.TimePoint
}

func (a Allocation) Outstanding() generic.Money { return a.DueAmount.Sub(a.Paid) }
func (a Allocation) IsPaid() bool               { return !a.Outstanding().IsPositive() }
func (a Allocation) IsPartial() bool            { return a.Paid.IsPositive() && !a.IsPaid() }

// Reconciliation is the per-installment allocation of a contract's movements.
type Reconciliation struct {
	Schedule    *Schedule
	Allocations []Allocation

	PaidAmount         generic.Money // validated funds applied to installments
	NotValidatedAmount generic.Money // funds awaiting validation
	DiscardedAmount    generic.Money // validated funds beyond the total obligation

	LastPaymentDate *generic.TimePoint
}

// Outstanding returns the unpaid balance across all installments.
func (r *Reconciliation) Outstanding() generic.Money {
	var total generic.Money
	for _, a := range r.Allocations {
		total = total.Add(a.Outstanding())
	}
	return total
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile allocates movements against the schedule. movements need not be
// sorted; they are copied and ordered by date before allocation.
func Reconcile(schedule *Schedule, movements []Movement) (*Reconciliation, error) {
	if schedule == nil || len(schedule.Installments) == 0 {
		id := generic.ContractID("")
		if schedule != nil {
			id = schedule.ContractID
		}
		return nil, &generic.ConfigurationError{ContractID: id, Field: "schedule", Reason: "empty"}
	}

	ordered := make([]Movement, len(movements))
	copy(ordered, movements)
	SortMovements(ordered)

	rec := &Reconciliation{
		Schedule:    schedule,
		Allocations: make([]Allocation, len(schedule.Installments)),
	}
	for i, inst := range schedule.Installments {
		rec.Allocations[i] = Allocation{Installment: inst}
	}

	next := 0 // index of the earliest installment with an outstanding balance
	for _, mv := range ordered {
		if mv.Amount.IsNegative() {
			return nil, &generic.DataIntegrityError{ContractID: schedule.ContractID, MovementID: mv.ID, Reason: "negative amount " + mv.Amount.String()}
		}
		if mv.Date.Before(schedule.Origin) {
			return nil, &generic.DataIntegrityError{ContractID: schedule.ContractID, MovementID: mv.ID, Reason: "dated " + mv.Date.String() + " before schedule origin " + schedule.Origin.String()}
		}

		date := mv.Date
		rec.LastPaymentDate = &date

		if !mv.Validated {
			rec.NotValidatedAmount = rec.NotValidatedAmount.Add(mv.Amount)
			continue
		}

		remaining := mv.Amount
		for remaining.IsPositive() && next < len(rec.Allocations) {
			alloc := &rec.Allocations[next]
			applied := remaining.Min(alloc.Outstanding())
			alloc.Paid = alloc.Paid.Add(applied)
			remaining = remaining.Sub(applied)
			rec.PaidAmount = rec.PaidAmount.Add(applied)
			if alloc.IsPaid() {
				alloc.PaidAt = &date
				next++
			}
		}
		rec.DiscardedAmount = rec.DiscardedAmount.Add(remaining)
	}

	return rec, nil
}
