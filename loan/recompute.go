/*
recompute.go - Recompute job runner

PURPOSE:
  Drives the schedule -> reconcile -> classify pipeline over every active
  contract and keeps the persisted PendingStatus cache in sync with it.
  It is the only code path that writes PendingStatus.

FLOW:
  1. Record a RecomputeRun (status=running)
  2. List active contracts in scope (one company, or all)
  3. Load each company's configuration once: parameters, calendar, arrears
  4. Worker pool (errgroup, bounded): per contract
       snapshot = GetContract(id)
       status   = Evaluate(snapshot, companyConfig, today)
       if status.Diff(persisted) is empty -> unchanged, no write
       else SavePendingStatus
  5. Record the run outcome, emit one audit event

FAILURE ISOLATION:
  A contract that fails (bad configuration, bad data, I/O) is logged with
  its contract and company IDs, reported in RunResult.Failed and never
  written. Other contracts are unaffected. Nothing is retried in-process:
  the next scheduled run picks the contract up again.

CONSISTENCY:
  Each contract is computed from a single snapshot read. A movement
  recorded while the pipeline runs may be missed; the next run corrects
  it because the runner only ever derives, never accumulates.

SEE ALSO:
  - classify.go: Evaluate, the per-contract pipeline
  - calendar.go: CalendarService.Load
  - api/scheduler.go: Cron trigger
  - api/handlers.go: Manual trigger
*/
package loan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warp/collection-engine/generic"
)

// DefaultWorkers is the pool size used when Recomputer.Workers is unset.
const DefaultWorkers = 8

// Run triggers recorded on RecomputeRun.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

type triggerKey struct{}

// WithTrigger marks ctx with the trigger recorded on runs started under it.
// Runs started without one are recorded as TriggerManual.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if trigger, ok := ctx.Value(triggerKey{}).(string); ok && trigger != "" {
		return trigger
	}
	return TriggerManual
}

// RecomputeRepository is what the runner needs from the store.
type RecomputeRepository interface {
	ContractRepository
	ParameterRepository
	ArrearRepository
	RunRepository
	generic.HolidayStore
}

// =============================================================================
// OBSERVER - Metrics hook
// =============================================================================

// Outcomes reported per contract.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Observer receives engine events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ContractRecomputed(outcome, kind string)
	RunFinished(duration time.Duration, result RunResult)
	HolidaysMaterialized(companyID generic.CompanyID, count int)
	ContractsPurged(count int)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ContractRecomputed(string, string)           {}
func (NopObserver) RunFinished(time.Duration, RunResult)        {}
func (NopObserver) HolidaysMaterialized(generic.CompanyID, int) {}
func (NopObserver) ContractsPurged(int)                         {}

// =============================================================================
// RESULTS
// =============================================================================

// Failure is one contract the runner could not recompute.
type Failure struct {
	ContractID generic.ContractID
	CompanyID  generic.CompanyID
	Kind       string // generic.Kind*
	Reason     string
}

// RunResult summarizes a recompute pass.
type RunResult struct {
	RunID     string
	CompanyID generic.CompanyID
	Updated   int
	Unchanged int
	Failed    []Failure
}

// ContractResult is the outcome of recomputing a single contract.
type ContractResult struct {
	Evaluation *Evaluation
	Changed    []string // field names that differed from the persisted status
	Written    bool
}

// =============================================================================
// RECOMPUTER
// =============================================================================

type Recomputer struct {
	Repo      RecomputeRepository
	Calendars *CalendarService
	Audit     generic.AuditSink // optional
	Observer  Observer          // optional
	Log       *logrus.Entry
	Workers   int
	Clock     func() time.Time
}

func NewRecomputer(repo RecomputeRepository, log *logrus.Entry) *Recomputer {
	return &Recomputer{
		Repo:      repo,
		Calendars: NewCalendarService(repo, log),
		Observer:  NopObserver{},
		Log:       log,
		Workers:   DefaultWorkers,
		Clock:     time.Now,
	}
}

func (r *Recomputer) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock()
}

func (r *Recomputer) observer() Observer {
	if r.Observer == nil {
		return NopObserver{}
	}
	return r.Observer
}

func (r *Recomputer) log() *logrus.Entry {
	if r.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return r.Log
}

func (r *Recomputer) calendars() *CalendarService {
	if r.Calendars == nil {
		return &CalendarService{Repo: r.Repo, Log: r.Log, Clock: r.Clock}
	}
	return r.Calendars
}

// RunRecompute recomputes every active contract of companyScope (all
// companies when empty) and records the run. The returned error covers
// only failures to enumerate contracts; per-contract failures are in
// RunResult.Failed.
func (r *Recomputer) RunRecompute(ctx context.Context, companyScope generic.CompanyID) (*RunResult, error) {
	started := r.now()
	trigger := triggerFrom(ctx)

	run := RecomputeRun{
		ID:        uuid.NewString(),
		CompanyID: companyScope,
		Status:    RunRunning,
		Trigger:   trigger,
		StartedAt: started,
	}
	log := r.log().WithFields(logrus.Fields{"run_id": run.ID, "company_id": companyScope, "trigger": trigger})
	if err := r.Repo.SaveRecomputeRun(ctx, run); err != nil {
		log.WithError(err).Warn("could not record recompute run start")
	}

	refs, err := r.Repo.ListActiveContracts(ctx, companyScope)
	if err != nil {
		r.finishRun(ctx, run, nil, err)
		return nil, fmt.Errorf("list active contracts: %w", err)
	}

	log.WithField("contracts", len(refs)).Info("recompute started")
	result := r.RecomputeAll(ctx, refs)
	result.RunID = run.ID
	result.CompanyID = companyScope

	r.finishRun(ctx, run, &result, nil)
	r.observer().RunFinished(r.now().Sub(started), result)
	log.WithFields(logrus.Fields{
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"failed":    len(result.Failed),
		"duration":  r.now().Sub(started).String(),
	}).Info("recompute finished")

	if r.Audit != nil {
		entry := generic.NewAuditEntry(ctx, fmt.Sprintf("recompute run %s: %d updated, %d unchanged, %d failed",
			run.ID, result.Updated, result.Unchanged, len(result.Failed)))
		entry.CompanyID = companyScope
		_ = r.Audit.RecordEvent(ctx, entry)
	}
	return &result, nil
}

func (r *Recomputer) finishRun(ctx context.Context, run RecomputeRun, result *RunResult, runErr error) {
	completed := r.now()
	run.CompletedAt = &completed
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = RunCompleted
	}
	if result != nil {
		run.Updated = result.Updated
		run.Unchanged = result.Unchanged
		run.Failed = len(result.Failed)
	}
	if err := r.Repo.SaveRecomputeRun(ctx, run); err != nil {
		r.log().WithError(err).WithField("run_id", run.ID).Warn("could not record recompute run outcome")
	}
}

// RecomputeAll recomputes the given contracts with bounded parallelism.
// Failed entries are ordered by contract ID.
func (r *Recomputer) RecomputeAll(ctx context.Context, refs []ContractRef) RunResult {
	today := generic.DateOf(r.now())
	configs, configErrs := r.loadConfigs(ctx, refs)

	var (
		mu     sync.Mutex
		result RunResult
	)
	record := func(ref ContractRef, outcome string, err error) {
		mu.Lock()
		defer mu.Unlock()
		kind := ""
		switch outcome {
		case OutcomeUpdated:
			result.Updated++
		case OutcomeUnchanged:
			result.Unchanged++
		case OutcomeFailed:
			kind = generic.ErrorKind(err)
			result.Failed = append(result.Failed, Failure{
				ContractID: ref.ID,
				CompanyID:  ref.CompanyID,
				Kind:       kind,
				Reason:     err.Error(),
			})
		}
		r.observer().ContractRecomputed(outcome, kind)
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(ref, OutcomeFailed, generic.Transient("recompute", err))
				return nil
			}
			if err, bad := configErrs[ref.CompanyID]; bad {
				r.logFailure(ref, err)
				record(ref, OutcomeFailed, err)
				return nil
			}

			res, err := r.recompute(ctx, ref.ID, configs[ref.CompanyID], today)
			if err != nil {
				r.logFailure(ref, err)
				record(ref, OutcomeFailed, err)
				return nil
			}
			if res.Written {
				record(ref, OutcomeUpdated, nil)
			} else {
				record(ref, OutcomeUnchanged, nil)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failed, func(i, j int) bool {
		return result.Failed[i].ContractID < result.Failed[j].ContractID
	})
	return result
}

// RecomputeContract recomputes one contract and writes its status on change.
func (r *Recomputer) RecomputeContract(ctx context.Context, id generic.ContractID) (*ContractResult, error) {
	c, err := r.Repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := r.LoadCompanyConfig(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}
	res, err := r.apply(ctx, c, cfg, generic.DateOf(r.now()))
	if err != nil {
		r.logFailure(ContractRef{ID: id, CompanyID: c.CompanyID}, err)
		r.observer().ContractRecomputed(OutcomeFailed, generic.ErrorKind(err))
		return nil, err
	}
	outcome := OutcomeUnchanged
	if res.Written {
		outcome = OutcomeUpdated
	}
	r.observer().ContractRecomputed(outcome, "")
	return res, nil
}

// Inspect runs the pipeline for one contract without writing anything.
func (r *Recomputer) Inspect(ctx context.Context, id generic.ContractID) (*Evaluation, error) {
	c, err := r.Repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := r.LoadCompanyConfig(ctx, c.CompanyID)
	if err != nil {
		return nil, err
	}
	return Evaluate(c, cfg, generic.DateOf(r.now()))
}

// LoadCompanyConfig reads the parameters, calendar and arrear table of a
// company. Missing parameters are a ConfigurationError.
func (r *Recomputer) LoadCompanyConfig(ctx context.Context, companyID generic.CompanyID) (CompanyConfig, error) {
	params, err := r.Repo.GetParameters(ctx, companyID)
	if errors.Is(err, generic.ErrNotFound) {
		return CompanyConfig{}, &generic.ConfigurationError{CompanyID: companyID, Field: "parameters", Reason: "missing"}
	}
	if err != nil {
		return CompanyConfig{}, err
	}
	cal, err := r.calendars().Load(ctx, companyID)
	if err != nil {
		return CompanyConfig{}, err
	}
	arrears, err := r.Repo.ListArrears(ctx, companyID)
	if err != nil {
		return CompanyConfig{}, err
	}
	return CompanyConfig{
		Parameters: *params,
		Calendar:   cal,
		Arrears:    NewArrearTable(arrears...),
	}, nil
}

func (r *Recomputer) loadConfigs(ctx context.Context, refs []ContractRef) (map[generic.CompanyID]CompanyConfig, map[generic.CompanyID]error) {
	configs := make(map[generic.CompanyID]CompanyConfig)
	errs := make(map[generic.CompanyID]error)
	for _, ref := range refs {
		if _, done := configs[ref.CompanyID]; done {
			continue
		}
		if _, done := errs[ref.CompanyID]; done {
			continue
		}
		cfg, err := r.LoadCompanyConfig(ctx, ref.CompanyID)
		if err != nil {
			r.log().WithError(err).WithField("company_id", ref.CompanyID).Warn("company configuration unavailable")
			errs[ref.CompanyID] = err
			continue
		}
		configs[ref.CompanyID] = cfg
	}
	return configs, errs
}

func (r *Recomputer) recompute(ctx context.Context, id generic.ContractID, cfg CompanyConfig, today generic.TimePoint) (*ContractResult, error) {
	c, err := r.Repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.apply(ctx, c, cfg, today)
}

// apply evaluates a contract snapshot and persists the status if it differs
// from the one the snapshot carries.
func (r *Recomputer) apply(ctx context.Context, c *Contract, cfg CompanyConfig, today generic.TimePoint) (*ContractResult, error) {
	eval, err := Evaluate(c, cfg, today)
	if err != nil {
		return nil, err
	}

	res := &ContractResult{Evaluation: eval}
	if c.PendingStatus != nil {
		res.Changed = eval.Status.Diff(*c.PendingStatus)
		if len(res.Changed) == 0 {
			return res, nil
		}
	} else {
		res.Changed = eval.Status.Diff(PendingStatus{})
	}

	if err := r.Repo.SavePendingStatus(ctx, c.ID, eval.Status); err != nil {
		return nil, err
	}
	res.Written = true

	r.log().WithFields(logrus.Fields{
		"contract_id": c.ID,
		"company_id":  c.CompanyID,
		"color":       eval.Status.Color,
		"changed":     res.Changed,
	}).Debug("pending status updated")
	return res, nil
}

func (r *Recomputer) logFailure(ref ContractRef, err error) {
	r.log().WithFields(logrus.Fields{
		"contract_id": ref.ID,
		"company_id":  ref.CompanyID,
		"kind":        generic.ErrorKind(err),
	}).WithError(err).Warn("contract recompute failed")
}
