// Package store defines the persistence contract for accounts, billing
// periods, instance metrics and the provider catalogue.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/provider"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("conflict")
)

// Account is a set of credentials against one provider
type Account struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Data     map[string]string `json:"data"`
	Currency string            `json:"currency"`

	// Validated and LastError are only changed by the task layer
	Validated bool    `json:"validated"`
	LastError *string `json:"last_error"`
}

// Billing is the figure of one account for one period. (AccountID, Period)
// is unique.
type Billing struct {
	ID        int64            `json:"id"`
	AccountID int64            `json:"account_id"`
	Period    string           `json:"period"`
	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
	Total     decimal.Decimal  `json:"total"`
	Balance   *decimal.Decimal `json:"balance"`
}

// Metric is one instance-count sample of an account
type Metric struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Time      time.Time `json:"time"`
	Instances int       `json:"instances"`
}

// PeriodKey derives the YYYY-MM period of a billing whose exclusive end is end
func PeriodKey(end time.Time) string {
	return end.UTC().AddDate(0, 0, -1).Format("2006-01")
}

// NewBilling builds the row for resp
func NewBilling(accountID int64, resp provider.BillingResponse) Billing {
	return Billing{
		AccountID: accountID,
		Period:    PeriodKey(resp.EndDate),
		StartDate: resp.StartDate,
		EndDate:   resp.EndDate,
		Total:     resp.Total,
		Balance:   resp.Balance,
	}
}

// AccountRepository persists accounts
type AccountRepository interface {
	Get(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context) ([]Account, error)
	// Insert stores a new account and returns it with its assigned ID.
	// Account names are unique.
	Insert(ctx context.Context, account Account) (Account, error)
	// Save persists name, provider, data and currency. Validated and
	// LastError are left as stored.
	Save(ctx context.Context, account Account) error
	// SetValidation writes only the validation state and returns the
	// account as stored afterwards
	SetValidation(ctx context.Context, id int64, validated bool, lastError *string) (Account, error)
}

// BillingRepository persists billing periods
type BillingRepository interface {
	// Create returns ErrConflict when the (account, period) row already exists
	Create(ctx context.Context, billing Billing) (Billing, error)
	GetByAccountAndPeriod(ctx context.Context, accountID int64, period string) (Billing, error)
	Update(ctx context.Context, billing Billing) error
	ListByAccount(ctx context.Context, accountID int64) ([]Billing, error)
}

// MetricRepository persists instance-count samples
type MetricRepository interface {
	Create(ctx context.Context, metric Metric) (Metric, error)
	ListByAccount(ctx context.Context, accountID int64) ([]Metric, error)
}

// ProviderRepository persists the provider catalogue
type ProviderRepository interface {
	// SyncProviders replaces the stored catalogue with descs
	SyncProviders(ctx context.Context, descs []provider.Descriptor) error
	ListProviders(ctx context.Context) ([]provider.Descriptor, error)
}

// Store bundles the repositories of one backend
type Store interface {
	Accounts() AccountRepository
	Billing() BillingRepository
	Metrics() MetricRepository
	Providers() ProviderRepository
	Ping(ctx context.Context) error
	Close() error
}
