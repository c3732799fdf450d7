/*
memory.go - In-memory implementation of the engine repositories

PURPOSE:
  Provides a thread-safe in-memory store for tests and local experiments.
  It implements loan.Repository, so it can stand in for the SQLite or
  PostgreSQL store anywhere.

THREAD SAFETY:
  All operations are protected by a RWMutex. Reads return copies so
  callers never observe later writes through shared slices or pointers.

TEST HOOKS:
  - Fail(id, err): make GetContract fail for one contract
  - StatusWrites(): number of SavePendingStatus calls
  - AuditEvents(): recorded audit entries

SEE ALSO:
  - store/sqlite/sqlite.go: Persistent implementation
  - loan/store.go: Repository interfaces
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// Store is an in-memory loan.Repository.
type Store struct {
	mu sync.RWMutex

	contracts  map[generic.ContractID]*loan.Contract
	statuses   map[generic.ContractID]loan.PendingStatus
	parameters map[generic.CompanyID]loan.Parameters
	arrears    map[generic.CompanyID][]loan.Arrear
	holidays   map[generic.CompanyID][]generic.Holiday
	runs       []loan.RecomputeRun
	audit      []generic.AuditEntry

	failures     map[generic.ContractID]error
	statusWrites int
}

var _ loan.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		contracts:  make(map[generic.ContractID]*loan.Contract),
		statuses:   make(map[generic.ContractID]loan.PendingStatus),
		parameters: make(map[generic.CompanyID]loan.Parameters),
		arrears:    make(map[generic.CompanyID][]loan.Arrear),
		holidays:   make(map[generic.CompanyID][]generic.Holiday),
		failures:   make(map[generic.ContractID]error),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// PutContract stores a copy of c. Its PendingStatus, if set, is stored too.
func (s *Store) PutContract(c loan.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyContract(&c)
	if cp.PendingStatus != nil {
		s.statuses[c.ID] = *cp.PendingStatus
	}
	cp.PendingStatus = nil
	s.contracts[c.ID] = cp
}

// AddMovements appends movements to an existing contract.
func (s *Store) AddMovements(id generic.ContractID, movements ...loan.Movement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contracts[id]; ok {
		c.Movements = append(c.Movements, movements...)
	}
}

func (s *Store) PutParameters(p loan.Parameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parameters[p.CompanyID] = p
}

func (s *Store) PutArrear(a loan.Arrear) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrears[a.CompanyID] = append(s.arrears[a.CompanyID], a)
}

// Fail makes GetContract return err for id. A nil err clears it.
func (s *Store) Fail(id generic.ContractID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, id)
		return
	}
	s.failures[id] = err
}

func (s *Store) StatusWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusWrites
}

func (s *Store) AuditEvents() []generic.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]generic.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (s *Store) ListActiveContracts(ctx context.Context, companyID generic.CompanyID) ([]loan.ContractRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []loan.ContractRef
	for _, c := range s.contracts {
		if !c.IsActive {
			continue
		}
		if companyID != "" && c.CompanyID != companyID {
			continue
		}
		refs = append(refs, loan.ContractRef{ID: c.ID, CompanyID: c.CompanyID})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (*loan.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failures[id]; ok {
		return nil, err
	}
	c, ok := s.contracts[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	cp := copyContract(c)
	if st, ok := s.statuses[id]; ok {
		cp.PendingStatus = copyStatus(st)
	}
	return cp, nil
}

func (s *Store) GetPendingStatus(ctx context.Context, id generic.ContractID) (*loan.PendingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	if !ok {
		return nil, nil
	}
	return copyStatus(st), nil
}

func (s *Store) SavePendingStatus(ctx context.Context, id generic.ContractID, status loan.PendingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[id]; !ok {
		return generic.ErrNotFound
	}
	s.statuses[id] = *copyStatus(status)
	s.statusWrites++
	return nil
}

func (s *Store) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, c := range s.contracts {
		if c.IsActive || c.FinishedAt == nil || !c.FinishedAt.Before(cutoff) {
			continue
		}
		delete(s.contracts, id)
		delete(s.statuses, id)
		purged++
	}
	return purged, nil
}

func (s *Store) ListCompanyIDs(ctx context.Context) ([]generic.CompanyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]generic.CompanyID, 0, len(s.parameters))
	for id := range s.parameters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ListWorkQueue(ctx context.Context, companyID generic.CompanyID) ([]loan.WorkQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []loan.WorkQueueItem
	for _, c := range s.contracts {
		if !c.IsActive || c.CompanyID != companyID {
			continue
		}
		item := loan.WorkQueueItem{
			ContractID: c.ID,
			CompanyID:  c.CompanyID,
			RouteID:    c.RouteID,
			ClientName: c.ClientName,
		}
		if st, ok := s.statuses[c.ID]; ok {
			item.Status = copyStatus(st)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ContractID < items[j].ContractID })
	return items, nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (s *Store) GetParameters(ctx context.Context, companyID generic.CompanyID) (*loan.Parameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parameters[companyID]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetArrear(ctx context.Context, companyID generic.CompanyID, year int, month time.Month) (*loan.Arrear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.arrears[companyID] {
		if a.Year == year && a.Month == month {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) ListArrears(ctx context.Context, companyID generic.CompanyID) ([]loan.Arrear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.Arrear, len(s.arrears[companyID]))
	copy(out, s.arrears[companyID])
	return out, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (s *Store) ListHolidays(ctx context.Context, companyID generic.CompanyID) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]generic.Holiday, len(s.holidays[companyID]))
	copy(out, s.holidays[companyID])
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) InsertHolidays(ctx context.Context, companyID generic.CompanyID, holidays []generic.Holiday) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[string]bool, len(s.holidays[companyID]))
	for _, h := range s.holidays[companyID] {
		taken[h.Date.String()] = true
	}
	inserted := 0
	for _, h := range holidays {
		key := h.Date.String()
		if taken[key] {
			continue
		}
		h.CompanyID = companyID
		s.holidays[companyID] = append(s.holidays[companyID], h)
		taken[key] = true
		inserted++
	}
	return inserted, nil
}

// =============================================================================
// RUNS & AUDIT
// =============================================================================

func (s *Store) SaveRecomputeRun(ctx context.Context, run loan.RecomputeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

// ListRecomputeRuns returns the most recent runs first.
func (s *Store) ListRecomputeRuns(ctx context.Context, limit int) ([]loan.RecomputeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]loan.RecomputeRun, len(s.runs))
	copy(out, s.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordEvent(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func copyContract(c *loan.Contract) *loan.Contract {
	cp := *c
	if c.Modality != nil {
		m := *c.Modality
		cp.Modality = &m
	}
	if c.FinishedAt != nil {
		f := *c.FinishedAt
		cp.FinishedAt = &f
	}
	cp.Movements = append([]loan.Movement(nil), c.Movements...)
	cp.Payments = append([]loan.Movement(nil), c.Payments...)
	if c.PendingStatus != nil {
		cp.PendingStatus = copyStatus(*c.PendingStatus)
	}
	return &cp
}

func copyStatus(st loan.PendingStatus) *loan.PendingStatus {
	cp := st
	if st.LastPaymentDate != nil {
		d := *st.LastPaymentDate
		cp.LastPaymentDate = &d
	}
	return &cp
}
