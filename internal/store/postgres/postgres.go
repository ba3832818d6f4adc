// Package postgres is the PostgreSQL store.Store, built on database/sql
// with the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS providers (
	name   TEXT PRIMARY KEY,
	kind   TEXT NOT NULL,
	params JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	provider   TEXT NOT NULL,
	data       JSONB NOT NULL,
	currency   TEXT NOT NULL DEFAULT 'USD',
	validated  BOOLEAN NOT NULL DEFAULT FALSE,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS billings (
	id         BIGSERIAL PRIMARY KEY,
	account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	period     TEXT NOT NULL,
	start_date TIMESTAMPTZ NOT NULL,
	end_date   TIMESTAMPTZ NOT NULL,
	total      NUMERIC(14, 2) NOT NULL,
	balance    NUMERIC(14, 2),
	UNIQUE (account_id, period)
);

CREATE TABLE IF NOT EXISTS metrics (
	id         BIGSERIAL PRIMARY KEY,
	account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	time       TIMESTAMPTZ NOT NULL,
	instances  INTEGER NOT NULL
);
`

// Store is a store.Store over a *sql.DB
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing handle
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close implements store.Store
func (s *Store) Close() error { return s.db.Close() }

// Accounts implements store.Store
func (s *Store) Accounts() store.AccountRepository { return accounts{s.db} }

// Billing implements store.Store
func (s *Store) Billing() store.BillingRepository { return billings{s.db} }

// Metrics implements store.Store
func (s *Store) Metrics() store.MetricRepository { return metrics{s.db} }

// Providers implements store.Store
func (s *Store) Providers() store.ProviderRepository { return providers{s.db} }

// mapError translates driver errors into store sentinels
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type scanner interface {
	Scan(dest ...any) error
}

type accounts struct{ db *sql.DB }

const accountColumns = `id, name, provider, data, currency, validated, last_error`

func scanAccount(row scanner) (store.Account, error) {
	var (
		a       store.Account
		data    []byte
		lastErr sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Provider, &data, &a.Currency, &a.Validated, &lastErr); err != nil {
		return store.Account{}, err
	}
	if err := json.Unmarshal(data, &a.Data); err != nil {
		return store.Account{}, fmt.Errorf("account %d has malformed data: %w", a.ID, err)
	}
	if lastErr.Valid {
		a.LastError = &lastErr.String
	}
	return a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r accounts) Get(ctx context.Context, id int64) (store.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return store.Account{}, mapError(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

func (r accounts) List(ctx context.Context) ([]store.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, mapError(err, "list accounts")
	}
	defer rows.Close()

	var out []store.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, mapError(err, "list accounts")
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err(), "list accounts")
}

func (r accounts) Insert(ctx context.Context, a store.Account) (store.Account, error) {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return store.Account{}, err
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO accounts (name, provider, data, currency, validated, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.Name, a.Provider, data, a.Currency, a.Validated, nullString(a.LastError),
	).Scan(&a.ID)
	if err != nil {
		return store.Account{}, mapError(err, fmt.Sprintf("insert account %q", a.Name))
	}
	return a, nil
}

func (r accounts) Save(ctx context.Context, a store.Account) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET name = $2, provider = $3, data = $4, currency = $5 WHERE id = $1`,
		a.ID, a.Name, a.Provider, data, a.Currency,
	)
	if err != nil {
		return mapError(err, fmt.Sprintf("save account %d", a.ID))
	}
	return affected(res, fmt.Sprintf("account %d", a.ID))
}

func (r accounts) SetValidation(ctx context.Context, id int64, validated bool, lastError *string) (store.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET validated = $2, last_error = $3 WHERE id = $1 RETURNING `+accountColumns,
		id, validated, nullString(lastError),
	)
	a, err := scanAccount(row)
	if err != nil {
		return store.Account{}, mapError(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

func affected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

type billings struct{ db *sql.DB }

const billingColumns = `id, account_id, period, start_date, end_date, total, balance`

func scanBilling(row scanner) (store.Billing, error) {
	var (
		b       store.Billing
		balance decimal.NullDecimal
	)
	if err := row.Scan(&b.ID, &b.AccountID, &b.Period, &b.StartDate, &b.EndDate, &b.Total, &balance); err != nil {
		return store.Billing{}, err
	}
	b.StartDate = b.StartDate.UTC()
	b.EndDate = b.EndDate.UTC()
	if balance.Valid {
		b.Balance = &balance.Decimal
	}
	return b, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func (r billings) Create(ctx context.Context, b store.Billing) (store.Billing, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO billings (account_id, period, start_date, end_date, total, balance)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		b.AccountID, b.Period, b.StartDate, b.EndDate, b.Total, nullDecimal(b.Balance),
	).Scan(&b.ID)
	if err != nil {
		return store.Billing{}, mapError(err, fmt.Sprintf("billing %d/%s", b.AccountID, b.Period))
	}
	return b, nil
}

func (r billings) GetByAccountAndPeriod(ctx context.Context, accountID int64, period string) (store.Billing, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+billingColumns+` FROM billings WHERE account_id = $1 AND period = $2`, accountID, period)
	b, err := scanBilling(row)
	if err != nil {
		return store.Billing{}, mapError(err, fmt.Sprintf("billing %d/%s", accountID, period))
	}
	return b, nil
}

func (r billings) Update(ctx context.Context, b store.Billing) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE billings SET account_id = $2, period = $3, start_date = $4, end_date = $5, total = $6, balance = $7
		 WHERE id = $1`,
		b.ID, b.AccountID, b.Period, b.StartDate, b.EndDate, b.Total, nullDecimal(b.Balance),
	)
	if err != nil {
		return mapError(err, fmt.Sprintf("billing %d", b.ID))
	}
	return affected(res, fmt.Sprintf("billing %d", b.ID))
}

func (r billings) ListByAccount(ctx context.Context, accountID int64) ([]store.Billing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+billingColumns+` FROM billings WHERE account_id = $1 ORDER BY period`, accountID)
	if err != nil {
		return nil, mapError(err, "list billings")
	}
	defer rows.Close()

	var out []store.Billing
	for rows.Next() {
		b, err := scanBilling(rows)
		if err != nil {
			return nil, mapError(err, "list billings")
		}
		out = append(out, b)
	}
	return out, mapError(rows.Err(), "list billings")
}

type metrics struct{ db *sql.DB }

func (r metrics) Create(ctx context.Context, m store.Metric) (store.Metric, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO metrics (account_id, time, instances) VALUES ($1, $2, $3) RETURNING id`,
		m.AccountID, m.Time, m.Instances,
	).Scan(&m.ID)
	if err != nil {
		return store.Metric{}, mapError(err, fmt.Sprintf("metric for account %d", m.AccountID))
	}
	return m, nil
}

func (r metrics) ListByAccount(ctx context.Context, accountID int64) ([]store.Metric, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, time, instances FROM metrics WHERE account_id = $1 ORDER BY time`, accountID)
	if err != nil {
		return nil, mapError(err, "list metrics")
	}
	defer rows.Close()

	var out []store.Metric
	for rows.Next() {
		var m store.Metric
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Time, &m.Instances); err != nil {
			return nil, mapError(err, "list metrics")
		}
		m.Time = m.Time.UTC()
		out = append(out, m)
	}
	return out, mapError(rows.Err(), "list metrics")
}

type providers struct{ db *sql.DB }

func (r providers) SyncProviders(ctx context.Context, descs []provider.Descriptor) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, "sync providers")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM providers`); err != nil {
		return mapError(err, "sync providers")
	}
	for _, d := range descs {
		params, err := json.Marshal(d.Params)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO providers (name, kind, params) VALUES ($1, $2, $3)`,
			d.Name, string(d.Kind), params,
		); err != nil {
			return mapError(err, fmt.Sprintf("provider %s", d.Name))
		}
	}
	return mapError(tx.Commit(), "sync providers")
}

func (r providers) ListProviders(ctx context.Context) ([]provider.Descriptor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, kind, params FROM providers ORDER BY name`)
	if err != nil {
		return nil, mapError(err, "list providers")
	}
	defer rows.Close()

	var out []provider.Descriptor
	for rows.Next() {
		var (
			d      provider.Descriptor
			kind   string
			params []byte
		)
		if err := rows.Scan(&d.Name, &kind, &params); err != nil {
			return nil, mapError(err, "list providers")
		}
		d.Kind = provider.Kind(kind)
		if err := json.Unmarshal(params, &d.Params); err != nil {
			return nil, fmt.Errorf("provider %s has malformed params: %w", d.Name, err)
		}
		out = append(out, d)
	}
	return out, mapError(rows.Err(), "list providers")
}
