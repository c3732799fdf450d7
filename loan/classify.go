/*
classify.go - Risk classification of a reconciled contract

PURPOSE:
  Collapses the per-installment allocation into the numbers and the
  green/yellow/red signal that drive collector work queues.

PARTITION (relative to today):
  due after today           -> remaining
  due today, fully paid     -> up to date
  due today, not fully paid -> remaining, TodayIncomplete = true
                               (the collector can still collect today)
  due before today:
    fully paid              -> up to date
    partially paid          -> incomplete
    nothing paid            -> late

AMOUNTS:
  PendingAmount          = outstanding of everything due on or before today
                           (+ arrear surcharge)
  AmountLateOrIncomplete = outstanding of late + incomplete only

AGING:
  DaysExpired = today - earliest unresolved past due date (0 if none)
  DaysAhead   = latest fully paid due date - today, when that date is in the
                future and nothing is overdue. Never both non-zero.

ARREAR SURCHARGE:
  The arrear row for the month of the earliest overdue installment applies
  once DaysExpired exceeds the grace period. It is charged once per late or
  incomplete installment on its outstanding amount. It does not compound.

COLOR:
  count = late + incomplete, thresholds by modality frequency:
    count >= red    -> red
    count >= yellow -> yellow
    otherwise       -> green

PURITY:
  Classify performs no I/O. Same inputs, same PendingStatus.

SEE ALSO:
  - ledger.go: Produces the Reconciliation
  - status.go: PendingStatus, Color, Icon
  - recompute.go: Runs the pipeline for every active contract
*/
package loan

import (
	"github.com/warp/collection-engine/generic"
)

// Classify derives the PendingStatus of a reconciled contract as of today.
// arrears may be nil when the company has no surcharge table.
func Classify(rec *Reconciliation, params Parameters, arrears ArrearLookup, today generic.TimePoint) (PendingStatus, error) {
	if rec == nil || rec.Schedule == nil || len(rec.Allocations) == 0 {
		return PendingStatus{}, &generic.ConfigurationError{Field: "schedule", Reason: "empty"}
	}
	sched := rec.Schedule
	if err := params.ValidateFor(sched.Frequency); err != nil {
		return PendingStatus{}, withContract(err, sched.ContractID)
	}

	st := PendingStatus{
		PayedAmount:        rec.PaidAmount,
		NotValidatedAmount: rec.NotValidatedAmount,
		EvaluatedOn:        today,
	}
	if rec.LastPaymentDate != nil {
		d := *rec.LastPaymentDate
		st.LastPaymentDate = &d
	}

	var (
		overdue       []Allocation
		latestPaidDue *generic.TimePoint
	)

	for _, a := range rec.Allocations {
		due := a.DueDate
		if a.IsPaid() {
			d := due
			latestPaidDue = &d
		}

		switch {
		case due.After(today):
			st.PaymentsRemaining++

		case due.Equal(today):
			st.PendingAmount = st.PendingAmount.Add(a.Outstanding())
			if a.IsPaid() {
				st.PaymentsUpToDate++
			} else {
				st.PaymentsRemaining++
				st.TodayIncomplete = true
			}

		default:
			st.PendingAmount = st.PendingAmount.Add(a.Outstanding())
			switch {
			case a.IsPaid():
				st.PaymentsUpToDate++
			case a.IsPartial():
				st.PaymentsIncomplete++
			default:
				st.PaymentsLate++
			}
			if !a.IsPaid() {
				overdue = append(overdue, a)
				st.AmountLateOrIncomplete = st.AmountLateOrIncomplete.Add(a.Outstanding())
			}
		}
	}

	if len(overdue) > 0 {
		st.DaysExpired = generic.DaysBetween(overdue[0].DueDate, today)
	} else if latestPaidDue != nil && latestPaidDue.After(today) {
		st.DaysAhead = generic.DaysBetween(today, *latestPaidDue)
	}

	surcharge, err := arrearSurcharge(overdue, st.DaysExpired, params, arrears)
	if err != nil {
		return PendingStatus{}, withContract(err, sched.ContractID)
	}
	st.SurchargeAmount = surcharge
	st.PendingAmount = st.PendingAmount.Add(surcharge)

	yellow, red := params.Thresholds(sched.Frequency)
	behind := st.PaymentsLate + st.PaymentsIncomplete
	switch {
	case behind >= red:
		st.Color = ColorRed
	case behind >= yellow:
		st.Color = ColorYellow
	default:
		st.Color = ColorGreen
	}
	st.Icon = st.Color.Icon()

	st.IsOutdated = st.DaysExpired > params.DefaultMaxClientDebtDays

	if last := sched.LastDueDate(); last.After(today) {
		st.DaysPending = generic.DaysBetween(today, last)
	}

	return st, nil
}

// arrearSurcharge applies the rate of the month the first installment became
// overdue (the day after its due date) to the whole late or incomplete
// amount, rounded once.
func arrearSurcharge(overdue []Allocation, daysExpired int, params Parameters, arrears ArrearLookup) (generic.Money, error) {
	if len(overdue) == 0 || arrears == nil || daysExpired <= params.GracePeriodDays {
		return 0, nil
	}
	overdueSince := overdue[0].DueDate.AddDays(1)
	arrear, ok := arrears.Lookup(overdueSince.Year(), overdueSince.Month())
	if !ok {
		return 0, nil
	}
	if arrear.Percent.IsNegative() {
		return 0, &generic.ConfigurationError{CompanyID: params.CompanyID, Field: "arrear.percent", Reason: "must not be negative"}
	}

	var outstanding generic.Money
	for _, a := range overdue {
		outstanding = outstanding.Add(a.Outstanding())
	}
	return outstanding.Percent(arrear.Percent), nil
}

// =============================================================================
// PIPELINE - Schedule -> Reconcile -> Classify
// =============================================================================

// CompanyConfig is the read-only configuration passed into the pipeline.
type CompanyConfig struct {
	Parameters Parameters
	Calendar   generic.BusinessCalendar
	Arrears    ArrearLookup
}

// Evaluation is the full result of the pipeline for one contract.
type Evaluation struct {
	Schedule       *Schedule
	Reconciliation *Reconciliation
	Status         PendingStatus
}

// Evaluate runs the whole pipeline for one contract snapshot.
func Evaluate(c *Contract, cfg CompanyConfig, today generic.TimePoint) (*Evaluation, error) {
	sched, err := GenerateSchedule(c, c.Modality, cfg.Calendar)
	if err != nil {
		return nil, err
	}
	rec, err := Reconcile(sched, c.Entries())
	if err != nil {
		return nil, err
	}
	status, err := Classify(rec, cfg.Parameters, cfg.Arrears, today)
	if err != nil {
		return nil, err
	}
	return &Evaluation{Schedule: sched, Reconciliation: rec, Status: status}, nil
}
