package loan

import (
	"github.com/warp/collection-engine/generic"
)

// =============================================================================
// COLOR / ICON - Collection health signal
// =============================================================================

type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// Icon names, one per color tier.
const (
	IconGreen  = "check-circle"
	IconYellow = "alert-triangle"
	IconRed    = "alert-octagon"
)

func (c Color) Icon() string {
	switch c {
	case ColorRed:
		return IconRed
	case ColorYellow:
		return IconYellow
	default:
		return IconGreen
	}
}

// Severity orders colors for work queues (red first).
func (c Color) Severity() int {
	switch c {
	case ColorRed:
		return 2
	case ColorYellow:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// PENDING STATUS - Materialized classification of a contract
// =============================================================================

// PendingStatus is derived entirely from the contract, its movements, the
// calendar, parameters and arrears as of EvaluatedOn. It is a cache: only
// the recompute runner writes it.
type PendingStatus struct {
	PayedAmount            generic.Money
	PendingAmount          generic.Money
	NotValidatedAmount     generic.Money
	AmountLateOrIncomplete generic.Money
	SurchargeAmount        generic.Money

	PaymentsLate       int
	PaymentsUpToDate   int
	PaymentsIncomplete int
	PaymentsRemaining  int

	DaysExpired     int
	DaysAhead       int
	TodayIncomplete bool
	DaysPending     int
	IsOutdated      bool

	LastPaymentDate *generic.TimePoint
	Icon            string
	Color           Color

	// EvaluatedOn is bookkeeping only and is ignored by Diff.
	EvaluatedOn generic.TimePoint
}

// Diff lists the names of the fields that differ from other.
func (s PendingStatus) Diff(other PendingStatus) []string {
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("payedAmount", s.PayedAmount != other.PayedAmount)
	add("pendingAmount", s.PendingAmount != other.PendingAmount)
	add("notValidatedAmount", s.NotValidatedAmount != other.NotValidatedAmount)
	add("amountLateOrIncomplete", s.AmountLateOrIncomplete != other.AmountLateOrIncomplete)
	add("surchargeAmount", s.SurchargeAmount != other.SurchargeAmount)
	add("paymentsLate", s.PaymentsLate != other.PaymentsLate)
	add("paymentsUpToDate", s.PaymentsUpToDate != other.PaymentsUpToDate)
	add("paymentsIncomplete", s.PaymentsIncomplete != other.PaymentsIncomplete)
	add("paymentsRemaining", s.PaymentsRemaining != other.PaymentsRemaining)
	add("daysExpired", s.DaysExpired != other.DaysExpired)
	add("daysAhead", s.DaysAhead != other.DaysAhead)
	add("todayIncomplete", s.TodayIncomplete != other.TodayIncomplete)
	add("daysPending", s.DaysPending != other.DaysPending)
	add("isOutdated", s.IsOutdated != other.IsOutdated)
	add("lastPaymentDate", !sameDate(s.LastPaymentDate, other.LastPaymentDate))
	add("icon", s.Icon != other.Icon)
	add("color", s.Color != other.Color)

	return changed
}

// Equal reports whether the statuses match on every compared field.
func (s PendingStatus) Equal(other PendingStatus) bool {
	return len(s.Diff(other)) == 0
}

func sameDate(a, b *generic.TimePoint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
