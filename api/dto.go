/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures of the admin API. Domain types never leave
  the process as-is: money is rendered as a decimal string, dates as
  "2006-01-02".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Status:     PendingStatusDTO
  Schedule:   ScheduleDTO, AllocationDTO
  Runs:       RunResultDTO, FailureDTO, RecomputeRunDTO, ContractResultDTO
  Calendar:   HolidayDTO, MaterializeRequest
  Arrears:    ArrearDTO

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// =============================================================================
// STATUS
// =============================================================================

// PendingStatusDTO is the persisted or freshly computed status of a contract.
type PendingStatusDTO struct {
	PayedAmount            string `json:"payed_amount"`
	PendingAmount          string `json:"pending_amount"`
	NotValidatedAmount     string `json:"not_validated_amount"`
	AmountLateOrIncomplete string `json:"amount_late_or_incomplete"`
	SurchargeAmount        string `json:"surcharge_amount"`

	PaymentsLate       int `json:"payments_late"`
	PaymentsUpToDate   int `json:"payments_up_to_date"`
	PaymentsIncomplete int `json:"payments_incomplete"`
	PaymentsRemaining  int `json:"payments_remaining"`

	DaysExpired     int  `json:"days_expired"`
	DaysAhead       int  `json:"days_ahead"`
	TodayIncomplete bool `json:"today_incomplete"`
	DaysPending     int  `json:"days_pending"`
	IsOutdated      bool `json:"is_outdated"`

	LastPaymentDate *string `json:"last_payment_date,omitempty"`
	Icon            string  `json:"icon"`
	Color           string  `json:"color"`
	EvaluatedOn     string  `json:"evaluated_on"`
}

func toPendingStatusDTO(st loan.PendingStatus) PendingStatusDTO {
	return PendingStatusDTO{
		PayedAmount:            st.PayedAmount.String(),
		PendingAmount:          st.PendingAmount.String(),
		NotValidatedAmount:     st.NotValidatedAmount.String(),
		AmountLateOrIncomplete: st.AmountLateOrIncomplete.String(),
		SurchargeAmount:        st.SurchargeAmount.String(),
		PaymentsLate:           st.PaymentsLate,
		PaymentsUpToDate:       st.PaymentsUpToDate,
		PaymentsIncomplete:     st.PaymentsIncomplete,
		PaymentsRemaining:      st.PaymentsRemaining,
		DaysExpired:            st.DaysExpired,
		DaysAhead:              st.DaysAhead,
		TodayIncomplete:        st.TodayIncomplete,
		DaysPending:            st.DaysPending,
		IsOutdated:             st.IsOutdated,
		LastPaymentDate:        datePtr(st.LastPaymentDate),
		Icon:                   st.Icon,
		Color:                  string(st.Color),
		EvaluatedOn:            st.EvaluatedOn.String(),
	}
}

// =============================================================================
// SCHEDULE
// =============================================================================

// AllocationDTO is one installment and what has been paid against it.
type AllocationDTO struct {
	Number      int     `json:"number"`
	DueDate     string  `json:"due_date"`
	DueAmount   string  `json:"due_amount"`
	Paid        string  `json:"paid"`
	Outstanding string  `json:"outstanding"`
	PaidAt      *string `json:"paid_at,omitempty"`
}

// ScheduleDTO is the schedule and allocation view of a contract.
type ScheduleDTO struct {
	ContractID         string           `json:"contract_id"`
	Frequency          string           `json:"frequency"`
	Origin             string           `json:"origin"`
	Total              string           `json:"total"`
	PaidAmount         string           `json:"paid_amount"`
	NotValidatedAmount string           `json:"not_validated_amount"`
	DiscardedAmount    string           `json:"discarded_amount"`
	Installments       []AllocationDTO  `json:"installments"`
	Status             PendingStatusDTO `json:"status"`
}

func toScheduleDTO(ev *loan.Evaluation) ScheduleDTO {
	rec := ev.Reconciliation
	dto := ScheduleDTO{
		ContractID:         string(ev.Schedule.ContractID),
		Frequency:          string(ev.Schedule.Frequency),
		Origin:             ev.Schedule.Origin.String(),
		Total:              ev.Schedule.Total.String(),
		PaidAmount:         rec.PaidAmount.String(),
		NotValidatedAmount: rec.NotValidatedAmount.String(),
		DiscardedAmount:    rec.DiscardedAmount.String(),
		Installments:       make([]AllocationDTO, 0, len(rec.Allocations)),
		Status:             toPendingStatusDTO(ev.Status),
	}
	for _, a := range rec.Allocations {
		dto.Installments = append(dto.Installments, AllocationDTO{
			Number:      a.Number,
			DueDate:     a.DueDate.String(),
			DueAmount:   a.DueAmount.String(),
			Paid:        a.Paid.String(),
			Outstanding: a.Outstanding().String(),
			PaidAt:      datePtr(a.PaidAt),
		})
	}
	return dto
}

// =============================================================================
// RECOMPUTE
// =============================================================================

type FailureDTO struct {
	ContractID string `json:"contract_id"`
	CompanyID  string `json:"company_id"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// RunResultDTO summarizes a recompute pass.
type RunResultDTO struct {
	RunID     string       `json:"run_id"`
	CompanyID string       `json:"company_id,omitempty"`
	Updated   int          `json:"updated"`
	Unchanged int          `json:"unchanged"`
	Failed    []FailureDTO `json:"failed"`
}

func toRunResultDTO(res *loan.RunResult) RunResultDTO {
	dto := RunResultDTO{
		RunID:     res.RunID,
		CompanyID: string(res.CompanyID),
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
		Failed:    make([]FailureDTO, 0, len(res.Failed)),
	}
	for _, f := range res.Failed {
		dto.Failed = append(dto.Failed, FailureDTO{
			ContractID: string(f.ContractID),
			CompanyID:  string(f.CompanyID),
			Kind:       f.Kind,
			Reason:     f.Reason,
		})
	}
	return dto
}

// RecomputeRunDTO is one row of the run history.
type RecomputeRunDTO struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id,omitempty"`
	Status      string `json:"status"`
	Trigger     string `json:"trigger"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toRecomputeRunDTO(run loan.RecomputeRun) RecomputeRunDTO {
	dto := RecomputeRunDTO{
		ID:        run.ID,
		CompanyID: string(run.CompanyID),
		Status:    string(run.Status),
		Trigger:   run.Trigger,
		Updated:   run.Updated,
		Unchanged: run.Unchanged,
		Failed:    run.Failed,
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// ContractResultDTO is the outcome of recomputing one contract.
type ContractResultDTO struct {
	ContractID string           `json:"contract_id"`
	Written    bool             `json:"written"`
	Changed    []string         `json:"changed"`
	Status     PendingStatusDTO `json:"status"`
}

// =============================================================================
// CALENDAR & ARREARS
// =============================================================================

type HolidayDTO struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	RestDay     bool   `json:"rest_day"`
}

func toHolidayDTO(h generic.Holiday) HolidayDTO {
	return HolidayDTO{
		ID:          h.ID,
		CompanyID:   string(h.CompanyID),
		Date:        h.Date.String(),
		Description: h.Description,
		RestDay:     h.IsRestDay(),
	}
}

// MaterializeRequest asks for rest days to be generated through a date.
type MaterializeRequest struct {
	Through string `json:"through"`
}

type ArrearDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Percent   string `json:"percent"`
}

// ErrorResponse is returned for every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func datePtr(tp *generic.TimePoint) *string {
	if tp == nil {
		return nil
	}
	s := tp.String()
	return &s
}
