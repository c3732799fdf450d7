/*
handlers.go - HTTP API handlers for the collection engine

PURPOSE:
  Exposes the recompute runner, the calendar job, the cleanup job and the
  collector work queue to operators. Handlers parse the request, attach
  the operator to the context for auditing, delegate to the loan package
  and serialize the result.

ENDPOINTS:
  Recompute:
    POST   /api/recompute?company_id=            Run a recompute pass
    GET    /api/recompute/runs                   Run history
    POST   /api/contracts/{id}/recompute         Recompute one contract
    GET    /api/contracts/{id}/status            Persisted status
    GET    /api/contracts/{id}/schedule          Live schedule + allocations

  Calendar:
    GET    /api/companies/{companyID}/holidays
    POST   /api/companies/{companyID}/holidays/rest-days

  Arrears:
    GET    /api/companies/{companyID}/arrears/{year}/{month}

  Work queue:
    GET    /api/companies/{companyID}/work-queue.xlsx
    POST   /api/companies/{companyID}/work-queue/export

  Admin:
    POST   /api/admin/cleanup

ERROR HANDLING:
  Errors are returned as JSON with a status derived from the error kind:
  - 400: ErrInvalidInput, malformed body or parameters
  - 404: ErrNotFound
  - 422: ErrConfiguration, ErrDataIntegrity
  - 503: ErrTransient
  - 500: Anything else

ACTOR:
  The X-Actor header names the operator; the client IP comes from
  RemoteAddr (after middleware.RealIP). Both end up on audit entries.

SECURITY NOTE:
  No authentication. Deploy behind the internal gateway only.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/collection-engine/export"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// ActorHeader carries the operator name on admin requests.
const ActorHeader = "X-Actor"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      loan.Repository
	Recomputer *loan.Recomputer
	Calendars  *loan.CalendarService
	Purger     *loan.Purger
	Exporter   *export.Exporter
	Log        *logrus.Entry
	Clock      func() time.Time
}

// NewHandler wires the engine services on top of store with defaults.
// Callers replace fields (audit sink, observer, uploader) before serving.
func NewHandler(store loan.Repository, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	calendars := loan.NewCalendarService(store, log.WithField("component", "calendar"))
	recomputer := loan.NewRecomputer(store, log.WithField("component", "recompute"))
	recomputer.Calendars = calendars
	purger := loan.NewPurger(store, loan.DefaultPurgeGrace, log.WithField("component", "cleanup"))

	recomputer.Audit = store
	calendars.Audit = store
	purger.Audit = store

	return &Handler{
		Store:      store,
		Recomputer: recomputer,
		Calendars:  calendars,
		Purger:     purger,
		Exporter:   export.NewExporter(store, nil, log.WithField("component", "export")),
		Log:        log,
		Clock:      time.Now,
	}
}

// SetClock replaces the clock of the handler and every service.
func (h *Handler) SetClock(clock func() time.Time) {
	h.Clock = clock
	h.Recomputer.Clock = clock
	h.Calendars.Clock = clock
	h.Exporter.Clock = clock
}

// SetAudit routes audit entries of every service to sink.
func (h *Handler) SetAudit(sink generic.AuditSink) {
	h.Recomputer.Audit = sink
	h.Calendars.Audit = sink
	h.Purger.Audit = sink
}

// SetObserver reports engine events of every service to obs.
func (h *Handler) SetObserver(obs loan.Observer) {
	h.Recomputer.Observer = obs
	h.Calendars.Observer = obs
	h.Purger.Observer = obs
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// WithActor attaches the requesting operator and IP to the request context.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		switch actor {
		case "":
			actor = "anonymous"
		case generic.ActorSystem:
			writeError(w, http.StatusBadRequest, "actor "+generic.ActorSystem+" is reserved for scheduled jobs", nil)
			return
		}
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(generic.WithActor(r.Context(), actor, ip)))
	})
}

// =============================================================================
// RECOMPUTE HANDLERS
// =============================================================================

// TriggerRecompute runs a recompute pass over one company or all of them.
// POST /api/recompute?company_id=
func (h *Handler) TriggerRecompute(w http.ResponseWriter, r *http.Request) {
	companyID := generic.CompanyID(r.URL.Query().Get("company_id"))

	res, err := h.Recomputer.RunRecompute(r.Context(), companyID)
	if err != nil {
		h.writeDomainError(w, "Recompute failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResultDTO(res))
}

// ListRecomputeRuns returns the run history, most recent first.
// GET /api/recompute/runs?limit=
func (h *Handler) ListRecomputeRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRecomputeRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list recompute runs", err)
		return
	}

	dtos := make([]RecomputeRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRecomputeRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// RecomputeContract recomputes a single contract.
// POST /api/contracts/{id}/recompute
func (h *Handler) RecomputeContract(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))

	res, err := h.Recomputer.RecomputeContract(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Recompute failed", err)
		return
	}

	changed := res.Changed
	if changed == nil {
		changed = []string{}
	}
	writeJSON(w, http.StatusOK, ContractResultDTO{
		ContractID: string(id),
		Written:    res.Written,
		Changed:    changed,
		Status:     toPendingStatusDTO(res.Evaluation.Status),
	})
}

// GetContractStatus returns the persisted status of a contract.
// GET /api/contracts/{id}/status
func (h *Handler) GetContractStatus(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))

	st, err := h.Store.GetPendingStatus(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get status", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Status not computed yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPendingStatusDTO(*st))
}

// GetContractSchedule evaluates a contract as of today without writing.
// GET /api/contracts/{id}/schedule
func (h *Handler) GetContractSchedule(w http.ResponseWriter, r *http.Request) {
	id := generic.ContractID(chi.URLParam(r, "id"))

	ev, err := h.Recomputer.Inspect(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to evaluate contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(ev))
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListHolidays returns the holidays of a company.
// GET /api/companies/{companyID}/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	companyID := generic.CompanyID(chi.URLParam(r, "companyID"))

	holidays, err := h.Store.ListHolidays(r.Context(), companyID)
	if err != nil {
		h.writeDomainError(w, "Failed to get holidays", err)
		return
	}

	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, toHolidayDTO(hol))
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// MaterializeRestDays generates rest-day holidays through a date.
// POST /api/companies/{companyID}/holidays/rest-days
func (h *Handler) MaterializeRestDays(w http.ResponseWriter, r *http.Request) {
	companyID := generic.CompanyID(chi.URLParam(r, "companyID"))

	var req MaterializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	through, err := generic.ParseDate(req.Through)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid through date", err)
		return
	}

	n, err := h.Calendars.MaterializeRestDaysUntil(r.Context(), companyID, through)
	if err != nil {
		h.writeDomainError(w, "Failed to materialize rest days", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"company_id": companyID,
		"through":    through.String(),
		"inserted":   n,
	})
}

// =============================================================================
// ARREAR HANDLERS
// =============================================================================

// GetArrear returns the surcharge rate effective for a month.
// GET /api/companies/{companyID}/arrears/{year}/{month}
func (h *Handler) GetArrear(w http.ResponseWriter, r *http.Request) {
	companyID := generic.CompanyID(chi.URLParam(r, "companyID"))

	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	a, err := h.Store.GetArrear(r.Context(), companyID, year, time.Month(month))
	if err != nil {
		h.writeDomainError(w, "Failed to get arrear", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "No arrear for month", nil)
		return
	}
	writeJSON(w, http.StatusOK, ArrearDTO{
		ID:        a.ID,
		CompanyID: string(a.CompanyID),
		Year:      a.Year,
		Month:     int(a.Month),
		Percent:   a.Percent.StringFixed(2),
	})
}

// =============================================================================
// WORK QUEUE HANDLERS
// =============================================================================

// DownloadWorkQueue streams the collector work queue as XLSX.
// GET /api/companies/{companyID}/work-queue.xlsx
func (h *Handler) DownloadWorkQueue(w http.ResponseWriter, r *http.Request) {
	companyID := generic.CompanyID(chi.URLParam(r, "companyID"))

	var buf bytes.Buffer
	if err := h.Exporter.Render(r.Context(), companyID, &buf); err != nil {
		h.writeDomainError(w, "Failed to render work queue", err)
		return
	}

	w.Header().Set("Content-Type", export.ContentTypeXLSX)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="work-queue-%s-%s.xlsx"`, companyID, generic.DateOf(h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ExportWorkQueue uploads the work queue to object storage.
// POST /api/companies/{companyID}/work-queue/export
func (h *Handler) ExportWorkQueue(w http.ResponseWriter, r *http.Request) {
	companyID := generic.CompanyID(chi.URLParam(r, "companyID"))

	key, err := h.Exporter.Export(r.Context(), companyID)
	if err != nil {
		h.writeDomainError(w, "Failed to export work queue", err)
		return
	}
	h.recordAudit(r.Context(), companyID, "work queue exported to "+key)
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerCleanup purges contracts that finished more than the grace period ago.
// POST /api/admin/cleanup
func (h *Handler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.Purger.Purge(r.Context(), h.now())
	if err != nil {
		h.writeDomainError(w, "Cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) recordAudit(ctx context.Context, companyID generic.CompanyID, description string) {
	sink := h.Recomputer.Audit
	if sink == nil {
		return
	}
	entry := generic.NewAuditEntry(ctx, description)
	entry.CompanyID = companyID
	if err := sink.RecordEvent(ctx, entry); err != nil {
		h.Log.WithError(err).Warn("audit event not recorded")
	}
}

// writeDomainError maps err to a status code and logs server-side failures.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithError(err).WithField("kind", generic.ErrorKind(err)).Error(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConfiguration), errors.Is(err, generic.ErrDataIntegrity):
		return http.StatusUnprocessableEntity
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
