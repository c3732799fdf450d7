/*
Package sqlite provides a SQLite-backed implementation of the engine repositories.

PURPOSE:
  Implements loan.Repository using SQLite. The PostgreSQL store
  (store/postgres) follows the same schema with dialect differences only.

INTERFACES IMPLEMENTED:
  loan.ContractRepository:  Contracts, movements, pending-status cache
  loan.ParameterRepository: Company parameter documents
  loan.ArrearRepository:    Monthly surcharge rates
  loan.RunRepository:       Recompute run history
  generic.HolidayStore:     Company holidays
  generic.AuditSink:        Audit trail

KEY TABLES:
  contracts:        One row per loan, modality snapshot as JSON
  movements:        Cash/bank entries (source = movement | payment)
  pending_statuses: Derived cache, written only by the recompute runner
  holidays:         UNIQUE(company_id, date)
  parameters:       One JSON document per company
  arrears:          Soft-deleted; one live row per (company, year, month)
  recompute_runs:   Run history for the admin UI
  audit_events:     Who triggered what

MONEY:
  Stored as INTEGER minor units. Never REAL.

SNAPSHOTS:
  GetContract reads the contract, its movements and its status inside one
  read transaction so the pipeline sees a consistent snapshot.

ERRORS:
  Missing rows map to generic.ErrNotFound. Every other database failure is
  wrapped as generic.TransientError so the runner can classify it.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/collections.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  runner := loan.NewRecomputer(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - loan/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
  - factory/config.go: JSON documents stored in contracts and parameters
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/collection-engine/factory"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// Movement sources stored in movements.source.
const (
	SourceMovement = "movement"
	SourcePayment  = "payment"
)

// timestampLayout has a fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store implements loan.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ loan.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return generic.Transient("ping", s.db.PingContext(ctx))
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		route_id TEXT NOT NULL DEFAULT '',
		client_id TEXT NOT NULL DEFAULT '',
		client_name TEXT NOT NULL DEFAULT '',
		modality_json TEXT,
		principal INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		finished_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_company_active
		ON contracts(company_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_contracts_finished
		ON contracts(finished_at) WHERE is_active = FALSE;

	-- Append-only from the engine's point of view
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		source TEXT NOT NULL DEFAULT 'movement',
		amount INTEGER NOT NULL,
		date TEXT NOT NULL,
		validated BOOLEAN NOT NULL DEFAULT TRUE,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_contract_date
		ON movements(contract_id, date);

	-- Derived cache: only the recompute runner writes here
	CREATE TABLE IF NOT EXISTS pending_statuses (
		contract_id TEXT PRIMARY KEY REFERENCES contracts(id) ON DELETE CASCADE,
		payed_amount INTEGER NOT NULL,
		pending_amount INTEGER NOT NULL,
		not_validated_amount INTEGER NOT NULL,
		amount_late_or_incomplete INTEGER NOT NULL,
		surcharge_amount INTEGER NOT NULL,
		payments_late INTEGER NOT NULL,
		payments_up_to_date INTEGER NOT NULL,
		payments_incomplete INTEGER NOT NULL,
		payments_remaining INTEGER NOT NULL,
		days_expired INTEGER NOT NULL,
		days_ahead INTEGER NOT NULL,
		today_incomplete BOOLEAN NOT NULL,
		days_pending INTEGER NOT NULL,
		is_outdated BOOLEAN NOT NULL,
		last_payment_date TEXT,
		icon TEXT NOT NULL,
		color TEXT NOT NULL,
		evaluated_on TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_company_date
		ON holidays(company_id, date);

	CREATE TABLE IF NOT EXISTS parameters (
		company_id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS arrears (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		percent TEXT NOT NULL,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_arrears_live
		ON arrears(company_id, year, month) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS recompute_runs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		run_trigger TEXT NOT NULL,
		updated INTEGER NOT NULL DEFAULT 0,
		unchanged INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_recompute_runs_started
		ON recompute_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		description TEXT NOT NULL,
		actor TEXT NOT NULL,
		ip TEXT,
		company_id TEXT,
		contract_id TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACTS (write side, used by seeding and the admin surface)
// =============================================================================

// SaveContract upserts a contract and its movements and payments.
// The persisted pending status is left untouched.
func (s *Store) SaveContract(ctx context.Context, c loan.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modalityJSON sql.NullString
	if c.Modality != nil {
		raw, err := factory.MarshalModality(c.Modality)
		if err != nil {
			return err
		}
		modalityJSON = sql.NullString{String: raw, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Transient("begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contracts (id, company_id, route_id, client_id, client_name, modality_json,
			principal, start_date, is_active, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			route_id = excluded.route_id,
			client_name = excluded.client_name,
			is_active = excluded.is_active,
			finished_at = excluded.finished_at`,
		c.ID, c.CompanyID, c.RouteID, c.ClientID, c.ClientName, modalityJSON,
		c.Principal.MinorUnits(), c.StartDate.String(), c.IsActive, formatTimePtr(c.FinishedAt),
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return generic.Transient("save contract", err)
	}

	for _, m := range c.Movements {
		if err := insertMovement(ctx, tx, c.ID, m, SourceMovement); err != nil {
			return err
		}
	}
	for _, m := range c.Payments {
		if err := insertMovement(ctx, tx, c.ID, m, SourcePayment); err != nil {
			return err
		}
	}
	return generic.Transient("commit", tx.Commit())
}

// RecordMovement appends a movement (source "movement" or "payment").
// Re-recording the same ID is a no-op.
func (s *Store) RecordMovement(ctx context.Context, contractID generic.ContractID, m loan.Movement, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertMovement(ctx, s.db, contractID, m, source)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMovement(ctx context.Context, db execer, contractID generic.ContractID, m loan.Movement, source string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO movements (id, contract_id, source, amount, date, validated, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, contractID, source, m.Amount.MinorUnits(), m.Date.String(), m.Validated, string(m.Kind),
		time.Now().Format(time.RFC3339),
	)
	return generic.Transient("record movement", err)
}

// =============================================================================
// CONTRACT REPOSITORY
// =============================================================================

// ListActiveContracts returns active contracts ordered by ID.
func (s *Store) ListActiveContracts(ctx context.Context, companyID generic.CompanyID) ([]loan.ContractRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, company_id FROM contracts WHERE is_active = TRUE`
	var args []any
	if companyID != "" {
		query += ` AND company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, generic.Transient("list active contracts", err)
	}
	defer rows.Close()

	var refs []loan.ContractRef
	for rows.Next() {
		var ref loan.ContractRef
		if err := rows.Scan(&ref.ID, &ref.CompanyID); err != nil {
			return nil, generic.Transient("list active contracts", err)
		}
		refs = append(refs, ref)
	}
	return refs, generic.Transient("list active contracts", rows.Err())
}

// GetContract returns a consistent snapshot of the contract.
func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (*loan.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, generic.Transient("begin snapshot", err)
	}
	defer tx.Rollback()

	var (
		c            loan.Contract
		modalityJSON sql.NullString
		principal    int64
		startDate    string
		finishedAt   sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, company_id, route_id, client_id, client_name, modality_json,
			principal, start_date, is_active, finished_at
		FROM contracts WHERE id = ?`, id,
	).Scan(&c.ID, &c.CompanyID, &c.RouteID, &c.ClientID, &c.ClientName, &modalityJSON,
		&principal, &startDate, &c.IsActive, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, generic.Transient("get contract", err)
	}

	c.Principal = generic.Money(principal)
	if c.StartDate, err = generic.ParseDate(startDate); err != nil {
		return nil, &generic.DataIntegrityError{ContractID: id, Reason: "invalid start date " + startDate}
	}
	c.FinishedAt = parseTimePtr(finishedAt)
	if modalityJSON.Valid {
		m, err := factory.ParseModality(modalityJSON.String)
		if err != nil {
			return nil, err
		}
		c.Modality = m
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, source, amount, date, validated, kind
		FROM movements WHERE contract_id = ?
		ORDER BY date ASC, id ASC`, id)
	if err != nil {
		return nil, generic.Transient("load movements", err)
	}
	if c.Movements, c.Payments, err = scanMovements(rows, id); err != nil {
		return nil, err
	}

	st, err := scanStatus(tx.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM pending_statuses WHERE contract_id = ?`, id))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, generic.Transient("load pending status", err)
	}
	c.PendingStatus = st

	return &c, nil
}

// movementRows is the part of *sql.Rows scanMovements reads.
type movementRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// scanMovements drains rows into movements and payments and closes them.
// An iteration error fails the whole load so a snapshot is never partial.
func scanMovements(rows movementRows, id generic.ContractID) (movements, payments []loan.Movement, err error) {
	defer rows.Close()
	for rows.Next() {
		var (
			m       loan.Movement
			source  string
			amount  int64
			dateStr string
			kind    string
		)
		if err := rows.Scan(&m.ID, &source, &amount, &dateStr, &m.Validated, &kind); err != nil {
			return nil, nil, generic.Transient("load movements", err)
		}
		m.ContractID = id
		m.Amount = generic.Money(amount)
		m.Kind = loan.MovementKind(kind)
		if m.Date, err = generic.ParseDate(dateStr); err != nil {
			return nil, nil, &generic.DataIntegrityError{ContractID: id, MovementID: m.ID, Reason: "invalid date " + dateStr}
		}
		if source == SourcePayment {
			payments = append(payments, m)
		} else {
			movements = append(movements, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, generic.Transient("load movements", err)
	}
	if err := rows.Close(); err != nil {
		return nil, nil, generic.Transient("load movements", err)
	}
	return movements, payments, nil
}

// GetPendingStatus returns the persisted status, or nil if none.
func (s *Store) GetPendingStatus(ctx context.Context, id generic.ContractID) (*loan.PendingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := scanStatus(s.db.QueryRowContext(ctx, `SELECT `+statusColumns+` FROM pending_statuses WHERE contract_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, generic.Transient("get pending status", err)
	}
	return st, nil
}

// SavePendingStatus upserts the status row of a contract.
func (s *Store) SavePendingStatus(ctx context.Context, id generic.ContractID, st loan.PendingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastPayment sql.NullString
	if st.LastPaymentDate != nil {
		lastPayment = sql.NullString{String: st.LastPaymentDate.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_statuses (contract_id, `+statusColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			payed_amount = excluded.payed_amount,
			pending_amount = excluded.pending_amount,
			not_validated_amount = excluded.not_validated_amount,
			amount_late_or_incomplete = excluded.amount_late_or_incomplete,
			surcharge_amount = excluded.surcharge_amount,
			payments_late = excluded.payments_late,
			payments_up_to_date = excluded.payments_up_to_date,
			payments_incomplete = excluded.payments_incomplete,
			payments_remaining = excluded.payments_remaining,
			days_expired = excluded.days_expired,
			days_ahead = excluded.days_ahead,
			today_incomplete = excluded.today_incomplete,
			days_pending = excluded.days_pending,
			is_outdated = excluded.is_outdated,
			last_payment_date = excluded.last_payment_date,
			icon = excluded.icon,
			color = excluded.color,
			evaluated_on = excluded.evaluated_on,
			updated_at = excluded.updated_at`,
		id,
		st.PayedAmount.MinorUnits(), st.PendingAmount.MinorUnits(), st.NotValidatedAmount.MinorUnits(),
		st.AmountLateOrIncomplete.MinorUnits(), st.SurchargeAmount.MinorUnits(),
		st.PaymentsLate, st.PaymentsUpToDate, st.PaymentsIncomplete, st.PaymentsRemaining,
		st.DaysExpired, st.DaysAhead, st.TodayIncomplete, st.DaysPending, st.IsOutdated,
		lastPayment, st.Icon, string(st.Color), st.EvaluatedOn.String(),
		time.Now().Format(time.RFC3339),
	)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return generic.ErrNotFound
	}
	return generic.Transient("save pending status", err)
}

// PurgeFinishedBefore deletes inactive contracts finished before cutoff.
// Movements and pending statuses go with them (ON DELETE CASCADE).
func (s *Store) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM contracts
		WHERE is_active = FALSE AND finished_at IS NOT NULL AND finished_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, generic.Transient("purge contracts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, generic.Transient("purge contracts", err)
	}
	return int(n), nil
}

// ListCompanyIDs returns companies with parameters configured.
func (s *Store) ListCompanyIDs(ctx context.Context) ([]generic.CompanyID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT company_id FROM parameters ORDER BY company_id`)
	if err != nil {
		return nil, generic.Transient("list companies", err)
	}
	defer rows.Close()

	var ids []generic.CompanyID
	for rows.Next() {
		var id generic.CompanyID
		if err := rows.Scan(&id); err != nil {
			return nil, generic.Transient("list companies", err)
		}
		ids = append(ids, id)
	}
	return ids, generic.Transient("list companies", rows.Err())
}

// ListWorkQueue returns the active contracts of a company with their status.
func (s *Store) ListWorkQueue(ctx context.Context, companyID generic.CompanyID) ([]loan.WorkQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, route_id, client_name
		FROM contracts WHERE company_id = ? AND is_active = TRUE
		ORDER BY id`, companyID)
	if err != nil {
		return nil, generic.Transient("list work queue", err)
	}
	var items []loan.WorkQueueItem
	index := make(map[generic.ContractID]int)
	for rows.Next() {
		var it loan.WorkQueueItem
		if err := rows.Scan(&it.ContractID, &it.CompanyID, &it.RouteID, &it.ClientName); err != nil {
			rows.Close()
			return nil, generic.Transient("list work queue", err)
		}
		index[it.ContractID] = len(items)
		items = append(items, it)
	}
	if err := rows.Close(); err != nil {
		return nil, generic.Transient("list work queue", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT ps.contract_id, `+prefixed("ps.", statusColumns)+`
		FROM pending_statuses ps JOIN contracts c ON c.id = ps.contract_id
		WHERE c.company_id = ? AND c.is_active = TRUE`, companyID)
	if err != nil {
		return nil, generic.Transient("list work queue", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id generic.ContractID
		st, err := scanStatusWith(rows, &id)
		if err != nil {
			return nil, generic.Transient("list work queue", err)
		}
		if i, ok := index[id]; ok {
			items[i].Status = st
		}
	}
	return items, generic.Transient("list work queue", rows.Err())
}

// =============================================================================
// PARAMETERS & ARREARS
// =============================================================================

// SaveParameters upserts a company parameter document.
func (s *Store) SaveParameters(ctx context.Context, p loan.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := factory.MarshalParameters(&p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parameters (company_id, config_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at`,
		p.CompanyID, raw, time.Now().Format(time.RFC3339))
	return generic.Transient("save parameters", err)
}

func (s *Store) GetParameters(ctx context.Context, companyID generic.CompanyID) (*loan.Parameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM parameters WHERE company_id = ?`, companyID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, generic.Transient("get parameters", err)
	}
	p, err := factory.ParseParameters(raw)
	if err != nil {
		return nil, err
	}
	p.CompanyID = companyID
	return p, nil
}

// SaveArrear replaces the live arrear of (company, year, month).
func (s *Store) SaveArrear(ctx context.Context, a loan.Arrear) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Transient("begin", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		UPDATE arrears SET deleted_at = ?
		WHERE company_id = ? AND year = ? AND month = ? AND deleted_at IS NULL`,
		now, a.CompanyID, a.Year, int(a.Month)); err != nil {
		return generic.Transient("save arrear", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO arrears (id, company_id, year, month, percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.CompanyID, a.Year, int(a.Month), a.Percent.String(), now); err != nil {
		return generic.Transient("save arrear", err)
	}
	return generic.Transient("commit", tx.Commit())
}

// DeleteArrear soft-deletes an arrear by ID.
func (s *Store) DeleteArrear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE arrears SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().Format(time.RFC3339), id)
	return generic.Transient("delete arrear", err)
}

func (s *Store) GetArrear(ctx context.Context, companyID generic.CompanyID, year int, month time.Month) (*loan.Arrear, error) {
	arrears, err := s.queryArrears(ctx, `
		SELECT id, company_id, year, month, percent FROM arrears
		WHERE company_id = ? AND year = ? AND month = ? AND deleted_at IS NULL`,
		companyID, year, int(month))
	if err != nil || len(arrears) == 0 {
		return nil, err
	}
	return &arrears[0], nil
}

func (s *Store) ListArrears(ctx context.Context, companyID generic.CompanyID) ([]loan.Arrear, error) {
	return s.queryArrears(ctx, `
		SELECT id, company_id, year, month, percent FROM arrears
		WHERE company_id = ? AND deleted_at IS NULL
		ORDER BY year, month`, companyID)
}

func (s *Store) queryArrears(ctx context.Context, query string, args ...any) ([]loan.Arrear, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, generic.Transient("query arrears", err)
	}
	defer rows.Close()

	var arrears []loan.Arrear
	for rows.Next() {
		var (
			a       loan.Arrear
			month   int
			percent string
		)
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Year, &month, &percent); err != nil {
			return nil, generic.Transient("query arrears", err)
		}
		a.Month = time.Month(month)
		if a.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, &generic.ConfigurationError{CompanyID: a.CompanyID, Field: "arrear.percent", Reason: err.Error()}
		}
		arrears = append(arrears, a)
	}
	return arrears, generic.Transient("query arrears", rows.Err())
}

// =============================================================================
// HOLIDAY STORE
// =============================================================================

func (s *Store) ListHolidays(ctx context.Context, companyID generic.CompanyID) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, date, description
		FROM holidays WHERE company_id = ?
		ORDER BY date ASC`, companyID)
	if err != nil {
		return nil, generic.Transient("list holidays", err)
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var h generic.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &h.CompanyID, &dateStr, &h.Description); err != nil {
			return nil, generic.Transient("list holidays", err)
		}
		if h.Date, err = generic.ParseDate(dateStr); err != nil {
			return nil, &generic.ConfigurationError{CompanyID: companyID, Field: "holiday.date", Reason: err.Error()}
		}
		holidays = append(holidays, h)
	}
	return holidays, generic.Transient("list holidays", rows.Err())
}

// InsertHolidays inserts holidays, skipping dates the company already has.
func (s *Store) InsertHolidays(ctx context.Context, companyID generic.CompanyID, holidays []generic.Holiday) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, generic.Transient("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO holidays (id, company_id, date, description, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(company_id, date) DO NOTHING`)
	if err != nil {
		return 0, generic.Transient("insert holidays", err)
	}
	defer stmt.Close()

	now := time.Now().Format(time.RFC3339)
	inserted := 0
	for _, h := range holidays {
		res, err := stmt.ExecContext(ctx, h.ID, companyID, h.Date.String(), h.Description, now)
		if err != nil {
			return 0, generic.Transient("insert holidays", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, generic.Transient("commit", err)
	}
	return inserted, nil
}

// =============================================================================
// RECOMPUTE RUNS
// =============================================================================

func (s *Store) SaveRecomputeRun(ctx context.Context, r loan.RecomputeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recompute_runs (id, company_id, status, run_trigger, updated, unchanged, failed,
			error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated = excluded.updated,
			unchanged = excluded.unchanged,
			failed = excluded.failed,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		r.ID, r.CompanyID, string(r.Status), r.Trigger, r.Updated, r.Unchanged, r.Failed,
		nullString(r.Error), r.StartedAt.UTC().Format(timestampLayout), formatTimePtr(r.CompletedAt),
	)
	return generic.Transient("save recompute run", err)
}

// ListRecomputeRuns returns the most recent runs first.
func (s *Store) ListRecomputeRuns(ctx context.Context, limit int) ([]loan.RecomputeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, status, run_trigger, updated, unchanged, failed, error, started_at, completed_at
		FROM recompute_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, generic.Transient("list recompute runs", err)
	}
	defer rows.Close()

	var runs []loan.RecomputeRun
	for rows.Next() {
		var (
			r           loan.RecomputeRun
			status      string
			errMsg      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.CompanyID, &status, &r.Trigger, &r.Updated, &r.Unchanged, &r.Failed,
			&errMsg, &startedAt, &completedAt); err != nil {
			return nil, generic.Transient("list recompute runs", err)
		}
		r.Status = loan.RunStatus(status)
		r.Error = errMsg.String
		r.StartedAt, _ = time.Parse(timestampLayout, startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		runs = append(runs, r)
	}
	return runs, generic.Transient("list recompute runs", rows.Err())
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) RecordEvent(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, at, description, actor, ip, company_id, contract_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.At.UTC().Format(timestampLayout), e.Description, e.Actor,
		nullString(e.IP), nullString(string(e.CompanyID)), nullString(string(e.ContractID)),
	)
	return generic.Transient("record audit event", err)
}

// ListAuditEvents returns the most recent audit entries first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, description, actor, ip, company_id, contract_id
		FROM audit_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, generic.Transient("list audit events", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                         generic.AuditEntry
			at                        string
			ip, companyID, contractID sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Description, &e.Actor, &ip, &companyID, &contractID); err != nil {
			return nil, generic.Transient("list audit events", err)
		}
		e.At, _ = time.Parse(timestampLayout, at)
		e.IP = ip.String
		e.CompanyID = generic.CompanyID(companyID.String)
		e.ContractID = generic.ContractID(contractID.String)
		entries = append(entries, e)
	}
	return entries, generic.Transient("list audit events", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

const statusColumns = `payed_amount, pending_amount, not_validated_amount, amount_late_or_incomplete,
	surcharge_amount, payments_late, payments_up_to_date, payments_incomplete, payments_remaining,
	days_expired, days_ahead, today_incomplete, days_pending, is_outdated, last_payment_date,
	icon, color, evaluated_on`

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (*loan.PendingStatus, error) {
	return scanStatusWith(row)
}

// scanStatusWith scans statusColumns preceded by the given leading columns.
func scanStatusWith(row scanner, leading ...any) (*loan.PendingStatus, error) {
	var (
		st                                            loan.PendingStatus
		payed, pending, notValidated, late, surcharge int64
		lastPayment                                   sql.NullString
		color, evaluatedOn                            string
	)
	dest := append(leading,
		&payed, &pending, &notValidated, &late, &surcharge,
		&st.PaymentsLate, &st.PaymentsUpToDate, &st.PaymentsIncomplete, &st.PaymentsRemaining,
		&st.DaysExpired, &st.DaysAhead, &st.TodayIncomplete, &st.DaysPending, &st.IsOutdated,
		&lastPayment, &st.Icon, &color, &evaluatedOn,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	st.PayedAmount = generic.Money(payed)
	st.PendingAmount = generic.Money(pending)
	st.NotValidatedAmount = generic.Money(notValidated)
	st.AmountLateOrIncomplete = generic.Money(late)
	st.SurchargeAmount = generic.Money(surcharge)
	st.Color = loan.Color(color)
	if lastPayment.Valid {
		if d, err := generic.ParseDate(lastPayment.String); err == nil {
			st.LastPaymentDate = &d
		}
	}
	st.EvaluatedOn, _ = generic.ParseDate(evaluatedOn)
	return &st, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
