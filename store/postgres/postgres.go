/*
Package postgres provides a PostgreSQL-backed implementation of the engine
repositories using pgx.

PURPOSE:
  Same contract and schema as store/sqlite, for deployments where several
  processes share one database. Concurrency control is left to PostgreSQL:
  there is no process-level mutex here.

DIALECT DIFFERENCES FROM SQLITE:
  - Dates are DATE, timestamps TIMESTAMPTZ, percentages NUMERIC
  - Money is BIGINT minor units
  - GetContract uses a REPEATABLE READ, READ ONLY transaction so the
    contract, its movements and its status come from one snapshot

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite/sqlite.go: Embedded implementation, same semantics
  - loan/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
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

const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	route_id TEXT NOT NULL DEFAULT '',
	client_id TEXT NOT NULL DEFAULT '',
	client_name TEXT NOT NULL DEFAULT '',
	modality_json JSONB,
	principal BIGINT NOT NULL,
	start_date DATE NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	finished_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_contracts_company_active ON contracts(company_id, is_active);

CREATE TABLE IF NOT EXISTS movements (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	source TEXT NOT NULL DEFAULT 'movement',
	amount BIGINT NOT NULL,
	date DATE NOT NULL,
	validated BOOLEAN NOT NULL DEFAULT TRUE,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_movements_contract_date ON movements(contract_id, date);

CREATE TABLE IF NOT EXISTS pending_statuses (
	contract_id TEXT PRIMARY KEY REFERENCES contracts(id) ON DELETE CASCADE,
	payed_amount BIGINT NOT NULL,
	pending_amount BIGINT NOT NULL,
	not_validated_amount BIGINT NOT NULL,
	amount_late_or_incomplete BIGINT NOT NULL,
	surcharge_amount BIGINT NOT NULL,
	payments_late INTEGER NOT NULL,
	payments_up_to_date INTEGER NOT NULL,
	payments_incomplete INTEGER NOT NULL,
	payments_remaining INTEGER NOT NULL,
	days_expired INTEGER NOT NULL,
	days_ahead INTEGER NOT NULL,
	today_incomplete BOOLEAN NOT NULL,
	days_pending INTEGER NOT NULL,
	is_outdated BOOLEAN NOT NULL,
	last_payment_date DATE,
	icon TEXT NOT NULL,
	color TEXT NOT NULL,
	evaluated_on DATE NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS holidays (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	date DATE NOT NULL,
	description TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, date)
);

CREATE TABLE IF NOT EXISTS parameters (
	company_id TEXT PRIMARY KEY,
	config_json JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS arrears (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	month INTEGER NOT NULL,
	percent NUMERIC(9,4) NOT NULL,
	deleted_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_arrears_live ON arrears(company_id, year, month) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS recompute_runs (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	run_trigger TEXT NOT NULL,
	updated INTEGER NOT NULL DEFAULT 0,
	unchanged INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	at TIMESTAMPTZ NOT NULL,
	description TEXT NOT NULL,
	actor TEXT NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	company_id TEXT NOT NULL DEFAULT '',
	contract_id TEXT NOT NULL DEFAULT ''
);
`

const statusColumns = `payed_amount, pending_amount, not_validated_amount, amount_late_or_incomplete,
	surcharge_amount, payments_late, payments_up_to_date, payments_incomplete, payments_remaining,
	days_expired, days_ahead, today_incomplete, days_pending, is_outdated, last_payment_date,
	icon, color, evaluated_on`

// Store implements loan.Repository on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ loan.Repository = (*Store)(nil)

// New connects, pings and migrates.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return generic.Transient("ping", s.pool.Ping(ctx))
}

// =============================================================================
// CONTRACTS (write side)
// =============================================================================

// SaveContract upserts a contract and its movements and payments.
func (s *Store) SaveContract(ctx context.Context, c loan.Contract) error {
	var modalityJSON *string
	if c.Modality != nil {
		raw, err := factory.MarshalModality(c.Modality)
		if err != nil {
			return err
		}
		modalityJSON = &raw
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return generic.Transient("begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO contracts (id, company_id, route_id, client_id, client_name, modality_json,
			principal, start_date, is_active, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			route_id    = EXCLUDED.route_id,
			client_name = EXCLUDED.client_name,
			is_active   = EXCLUDED.is_active,
			finished_at = EXCLUDED.finished_at`,
		string(c.ID), string(c.CompanyID), c.RouteID, c.ClientID, c.ClientName, modalityJSON,
		c.Principal.MinorUnits(), c.StartDate.Time, c.IsActive, c.FinishedAt,
	)
	if err != nil {
		return generic.Transient("save contract", err)
	}

	batch := &pgx.Batch{}
	for _, m := range c.Movements {
		queueMovement(batch, c.ID, m, SourceMovement)
	}
	for _, m := range c.Payments {
		queueMovement(batch, c.ID, m, SourcePayment)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return generic.Transient("save movements", err)
		}
	}
	return generic.Transient("commit", tx.Commit(ctx))
}

const insertMovementSQL = `
	INSERT INTO movements (id, contract_id, source, amount, date, validated, kind)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

func queueMovement(batch *pgx.Batch, contractID generic.ContractID, m loan.Movement, source string) {
	batch.Queue(insertMovementSQL, m.ID, string(contractID), source, m.Amount.MinorUnits(), m.Date.Time, m.Validated, string(m.Kind))
}

// RecordMovement appends a movement. Re-recording the same ID is a no-op.
func (s *Store) RecordMovement(ctx context.Context, contractID generic.ContractID, m loan.Movement, source string) error {
	_, err := s.pool.Exec(ctx, insertMovementSQL,
		m.ID, string(contractID), source, m.Amount.MinorUnits(), m.Date.Time, m.Validated, string(m.Kind))
	return generic.Transient("record movement", err)
}

// =============================================================================
// CONTRACT REPOSITORY
// =============================================================================

func (s *Store) ListActiveContracts(ctx context.Context, companyID generic.CompanyID) ([]loan.ContractRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id FROM contracts
		WHERE is_active AND ($1 = '' OR company_id = $1)
		ORDER BY id`, string(companyID))
	if err != nil {
		return nil, generic.Transient("list active contracts", err)
	}
	defer rows.Close()

	var refs []loan.ContractRef
	for rows.Next() {
		var id, company string
		if err := rows.Scan(&id, &company); err != nil {
			return nil, generic.Transient("list active contracts", err)
		}
		refs = append(refs, loan.ContractRef{ID: generic.ContractID(id), CompanyID: generic.CompanyID(company)})
	}
	return refs, generic.Transient("list active contracts", rows.Err())
}

func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (*loan.Contract, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, generic.Transient("begin snapshot", err)
	}
	defer tx.Rollback(ctx)

	var (
		c            loan.Contract
		companyID    string
		modalityJSON *string
		principal    int64
		startDate    time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT company_id, route_id, client_id, client_name, modality_json::text,
			principal, start_date, is_active, finished_at
		FROM contracts WHERE id = $1`, string(id),
	).Scan(&companyID, &c.RouteID, &c.ClientID, &c.ClientName, &modalityJSON,
		&principal, &startDate, &c.IsActive, &c.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, generic.Transient("get contract", err)
	}
	c.ID = id
	c.CompanyID = generic.CompanyID(companyID)
	c.Principal = generic.Money(principal)
	c.StartDate = generic.DateOf(startDate)
	if modalityJSON != nil {
		m, err := factory.ParseModality(*modalityJSON)
		if err != nil {
			return nil, err
		}
		c.Modality = m
	}

	rows, err := tx.Query(ctx, `
		SELECT id, source, amount, date, validated, kind
		FROM movements WHERE contract_id = $1
		ORDER BY date, id`, string(id))
	if err != nil {
		return nil, generic.Transient("load movements", err)
	}
	for rows.Next() {
		var (
			m      loan.Movement
			source string
			amount int64
			date   time.Time
			kind   string
		)
		if err := rows.Scan(&m.ID, &source, &amount, &date, &m.Validated, &kind); err != nil {
			rows.Close()
			return nil, generic.Transient("load movements", err)
		}
		m.ContractID = id
		m.Amount = generic.Money(amount)
		m.Date = generic.DateOf(date)
		m.Kind = loan.MovementKind(kind)
		if source == SourcePayment {
			c.Payments = append(c.Payments, m)
		} else {
			c.Movements = append(c.Movements, m)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, generic.Transient("load movements", err)
	}

	st, err := scanStatus(tx.QueryRow(ctx, `SELECT `+statusColumns+` FROM pending_statuses WHERE contract_id = $1`, string(id)))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.Transient("load pending status", err)
	}
	c.PendingStatus = st

	return &c, nil
}

func (s *Store) GetPendingStatus(ctx context.Context, id generic.ContractID) (*loan.PendingStatus, error) {
	st, err := scanStatus(s.pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM pending_statuses WHERE contract_id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, generic.Transient("get pending status", err)
	}
	return st, nil
}

func (s *Store) SavePendingStatus(ctx context.Context, id generic.ContractID, st loan.PendingStatus) error {
	var lastPayment *time.Time
	if st.LastPaymentDate != nil {
		t := st.LastPaymentDate.Time
		lastPayment = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_statuses (contract_id, `+statusColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, now())
		ON CONFLICT (contract_id) DO UPDATE SET
			payed_amount              = EXCLUDED.payed_amount,
			pending_amount            = EXCLUDED.pending_amount,
			not_validated_amount      = EXCLUDED.not_validated_amount,
			amount_late_or_incomplete = EXCLUDED.amount_late_or_incomplete,
			surcharge_amount          = EXCLUDED.surcharge_amount,
			payments_late             = EXCLUDED.payments_late,
			payments_up_to_date       = EXCLUDED.payments_up_to_date,
			payments_incomplete       = EXCLUDED.payments_incomplete,
			payments_remaining        = EXCLUDED.payments_remaining,
			days_expired              = EXCLUDED.days_expired,
			days_ahead                = EXCLUDED.days_ahead,
			today_incomplete          = EXCLUDED.today_incomplete,
			days_pending              = EXCLUDED.days_pending,
			is_outdated               = EXCLUDED.is_outdated,
			last_payment_date         = EXCLUDED.last_payment_date,
			icon                      = EXCLUDED.icon,
			color                     = EXCLUDED.color,
			evaluated_on              = EXCLUDED.evaluated_on,
			updated_at                = EXCLUDED.updated_at`,
		string(id),
		st.PayedAmount.MinorUnits(), st.PendingAmount.MinorUnits(), st.NotValidatedAmount.MinorUnits(),
		st.AmountLateOrIncomplete.MinorUnits(), st.SurchargeAmount.MinorUnits(),
		st.PaymentsLate, st.PaymentsUpToDate, st.PaymentsIncomplete, st.PaymentsRemaining,
		st.DaysExpired, st.DaysAhead, st.TodayIncomplete, st.DaysPending, st.IsOutdated,
		lastPayment, st.Icon, string(st.Color), st.EvaluatedOn.Time,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return generic.ErrNotFound
	}
	return generic.Transient("save pending status", err)
}

func (s *Store) PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM contracts
		WHERE NOT is_active AND finished_at IS NOT NULL AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, generic.Transient("purge contracts", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListCompanyIDs(ctx context.Context) ([]generic.CompanyID, error) {
	rows, err := s.pool.Query(ctx, `SELECT company_id FROM parameters ORDER BY company_id`)
	if err != nil {
		return nil, generic.Transient("list companies", err)
	}
	defer rows.Close()

	var ids []generic.CompanyID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, generic.Transient("list companies", err)
		}
		ids = append(ids, generic.CompanyID(id))
	}
	return ids, generic.Transient("list companies", rows.Err())
}

func (s *Store) ListWorkQueue(ctx context.Context, companyID generic.CompanyID) ([]loan.WorkQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.route_id, c.client_name, ps.contract_id IS NOT NULL,
			COALESCE(ps.payed_amount, 0), COALESCE(ps.pending_amount, 0), COALESCE(ps.not_validated_amount, 0),
			COALESCE(ps.amount_late_or_incomplete, 0), COALESCE(ps.surcharge_amount, 0),
			COALESCE(ps.payments_late, 0), COALESCE(ps.payments_up_to_date, 0),
			COALESCE(ps.payments_incomplete, 0), COALESCE(ps.payments_remaining, 0),
			COALESCE(ps.days_expired, 0), COALESCE(ps.days_ahead, 0), COALESCE(ps.today_incomplete, FALSE),
			COALESCE(ps.days_pending, 0), COALESCE(ps.is_outdated, FALSE), ps.last_payment_date,
			COALESCE(ps.icon, ''), COALESCE(ps.color, ''), COALESCE(ps.evaluated_on, c.start_date)
		FROM contracts c LEFT JOIN pending_statuses ps ON ps.contract_id = c.id
		WHERE c.company_id = $1 AND c.is_active
		ORDER BY c.id`, string(companyID))
	if err != nil {
		return nil, generic.Transient("list work queue", err)
	}
	defer rows.Close()

	var items []loan.WorkQueueItem
	for rows.Next() {
		var (
			id        string
			hasStatus bool
			it        = loan.WorkQueueItem{CompanyID: companyID}
		)
		st, err := scanStatusWith(rows, &id, &it.RouteID, &it.ClientName, &hasStatus)
		if err != nil {
			return nil, generic.Transient("list work queue", err)
		}
		it.ContractID = generic.ContractID(id)
		if hasStatus {
			it.Status = st
		}
		items = append(items, it)
	}
	return items, generic.Transient("list work queue", rows.Err())
}

// =============================================================================
// PARAMETERS & ARREARS
// =============================================================================

func (s *Store) SaveParameters(ctx context.Context, p loan.Parameters) error {
	raw, err := factory.MarshalParameters(&p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO parameters (company_id, config_json, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (company_id) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = EXCLUDED.updated_at`,
		string(p.CompanyID), raw)
	return generic.Transient("save parameters", err)
}

func (s *Store) GetParameters(ctx context.Context, companyID generic.CompanyID) (*loan.Parameters, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT config_json::text FROM parameters WHERE company_id = $1`, string(companyID)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return generic.Transient("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE arrears SET deleted_at = now()
		WHERE company_id = $1 AND year = $2 AND month = $3 AND deleted_at IS NULL`,
		string(a.CompanyID), a.Year, int(a.Month)); err != nil {
		return generic.Transient("save arrear", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO arrears (id, company_id, year, month, percent) VALUES ($1, $2, $3, $4, $5::numeric)`,
		a.ID, string(a.CompanyID), a.Year, int(a.Month), a.Percent.String()); err != nil {
		return generic.Transient("save arrear", err)
	}
	return generic.Transient("commit", tx.Commit(ctx))
}

func (s *Store) DeleteArrear(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE arrears SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	return generic.Transient("delete arrear", err)
}

func (s *Store) GetArrear(ctx context.Context, companyID generic.CompanyID, year int, month time.Month) (*loan.Arrear, error) {
	arrears, err := s.queryArrears(ctx, `
		SELECT id, company_id, year, month, percent::text FROM arrears
		WHERE company_id = $1 AND year = $2 AND month = $3 AND deleted_at IS NULL`,
		string(companyID), year, int(month))
	if err != nil || len(arrears) == 0 {
		return nil, err
	}
	return &arrears[0], nil
}

func (s *Store) ListArrears(ctx context.Context, companyID generic.CompanyID) ([]loan.Arrear, error) {
	return s.queryArrears(ctx, `
		SELECT id, company_id, year, month, percent::text FROM arrears
		WHERE company_id = $1 AND deleted_at IS NULL
		ORDER BY year, month`, string(companyID))
}

func (s *Store) queryArrears(ctx context.Context, query string, args ...any) ([]loan.Arrear, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, generic.Transient("query arrears", err)
	}
	defer rows.Close()

	var arrears []loan.Arrear
	for rows.Next() {
		var (
			a                loan.Arrear
			company, percent string
			month            int
		)
		if err := rows.Scan(&a.ID, &company, &a.Year, &month, &percent); err != nil {
			return nil, generic.Transient("query arrears", err)
		}
		a.CompanyID = generic.CompanyID(company)
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
	rows, err := s.pool.Query(ctx, `
		SELECT id, date, description FROM holidays
		WHERE company_id = $1 ORDER BY date`, string(companyID))
	if err != nil {
		return nil, generic.Transient("list holidays", err)
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var (
			h    = generic.Holiday{CompanyID: companyID}
			date time.Time
		)
		if err := rows.Scan(&h.ID, &date, &h.Description); err != nil {
			return nil, generic.Transient("list holidays", err)
		}
		h.Date = generic.DateOf(date)
		holidays = append(holidays, h)
	}
	return holidays, generic.Transient("list holidays", rows.Err())
}

func (s *Store) InsertHolidays(ctx context.Context, companyID generic.CompanyID, holidays []generic.Holiday) (int, error) {
	batch := &pgx.Batch{}
	for _, h := range holidays {
		batch.Queue(`
			INSERT INTO holidays (id, company_id, date, description) VALUES ($1, $2, $3, $4)
			ON CONFLICT (company_id, date) DO NOTHING`,
			h.ID, string(companyID), h.Date.Time, h.Description)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, generic.Transient("begin", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range holidays {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, generic.Transient("insert holidays", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, generic.Transient("insert holidays", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, generic.Transient("commit", err)
	}
	return inserted, nil
}

// =============================================================================
// RECOMPUTE RUNS & AUDIT
// =============================================================================

func (s *Store) SaveRecomputeRun(ctx context.Context, r loan.RecomputeRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recompute_runs (id, company_id, status, run_trigger, updated, unchanged, failed,
			error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status       = EXCLUDED.status,
			updated      = EXCLUDED.updated,
			unchanged    = EXCLUDED.unchanged,
			failed       = EXCLUDED.failed,
			error        = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		r.ID, string(r.CompanyID), string(r.Status), r.Trigger, r.Updated, r.Unchanged, r.Failed,
		r.Error, r.StartedAt, r.CompletedAt,
	)
	return generic.Transient("save recompute run", err)
}

func (s *Store) ListRecomputeRuns(ctx context.Context, limit int) ([]loan.RecomputeRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, status, run_trigger, updated, unchanged, failed, error, started_at, completed_at
		FROM recompute_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, generic.Transient("list recompute runs", err)
	}
	defer rows.Close()

	var runs []loan.RecomputeRun
	for rows.Next() {
		var (
			r               loan.RecomputeRun
			company, status string
		)
		if err := rows.Scan(&r.ID, &company, &status, &r.Trigger, &r.Updated, &r.Unchanged, &r.Failed,
			&r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, generic.Transient("list recompute runs", err)
		}
		r.CompanyID = generic.CompanyID(company)
		r.Status = loan.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, generic.Transient("list recompute runs", rows.Err())
}

func (s *Store) RecordEvent(ctx context.Context, e generic.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, at, description, actor, ip, company_id, contract_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.At, e.Description, e.Actor, e.IP, string(e.CompanyID), string(e.ContractID))
	return generic.Transient("record audit event", err)
}

// ListAuditEvents returns the most recent audit entries first.
func (s *Store) ListAuditEvents(ctx context.Context, limit int) ([]generic.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, at, description, actor, ip, company_id, contract_id
		FROM audit_events ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, generic.Transient("list audit events", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                     generic.AuditEntry
			companyID, contractID string
		)
		if err := rows.Scan(&e.ID, &e.At, &e.Description, &e.Actor, &e.IP, &companyID, &contractID); err != nil {
			return nil, generic.Transient("list audit events", err)
		}
		e.CompanyID = generic.CompanyID(companyID)
		e.ContractID = generic.ContractID(contractID)
		entries = append(entries, e)
	}
	return entries, generic.Transient("list audit events", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func scanStatus(row pgx.Row) (*loan.PendingStatus, error) {
	return scanStatusWith(row)
}

// scanStatusWith scans statusColumns preceded by the given leading columns.
func scanStatusWith(row pgx.Row, leading ...any) (*loan.PendingStatus, error) {
	var (
		st                                            loan.PendingStatus
		payed, pending, notValidated, late, surcharge int64
		lastPayment                                   *time.Time
		color                                         string
		evaluatedOn                                   time.Time
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
	if lastPayment != nil {
		d := generic.DateOf(*lastPayment)
		st.LastPaymentDate = &d
	}
	st.EvaluatedOn = generic.DateOf(evaluatedOn)
	return &st, nil
}
