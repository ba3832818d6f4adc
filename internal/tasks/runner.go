package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zgpcy/cloudspend/internal/account"
	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

// Task names
const (
	TaskBilling   = "billing"
	TaskInstances = "instances"
	TaskValidate  = "validate"
)

// ErrSIPAccount is returned when an instance count is requested for a SIP account
var ErrSIPAccount = errors.New("SIP accounts have no instances")

// Recorder receives task outcomes, typically the prometheus collector
type Recorder interface {
	RecordRun(task, providerName, outcome string, d time.Duration)
	RecordBilling(a store.Account, b store.Billing)
	RecordInstances(a store.Account, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, string, string, time.Duration) {}
func (nopRecorder) RecordBilling(store.Account, store.Billing) {}
func (nopRecorder) RecordInstances(store.Account, int) {}

// Runner executes single task runs against the store
type Runner struct {
	store    store.Store
	accounts *account.Service
	factory  *factory.Factory
	clock    clock.Clock
	logger   *logger.Logger
	recorder Recorder
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithClock overrides the clock used for metric timestamps
func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) { r.clock = c }
}

// WithRecorder sets the recorder notified of persisted figures
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// WithAccounts sets the account service validation outcomes are recorded through
func WithAccounts(svc *account.Service) RunnerOption {
	return func(r *Runner) { r.accounts = svc }
}

// NewRunner creates a new runner
func NewRunner(s store.Store, f *factory.Factory, log *logger.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	r := &Runner{
		store:    s,
		factory:  f,
		clock:    clock.RealClock{},
		logger:   log,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.accounts == nil {
		r.accounts = account.NewService(s.Accounts(), f, log)
	}
	return r
}

// load fetches the account and its client. Every failure here is permanent.
func (r *Runner) load(ctx context.Context, accountID int64) (store.Account, provider.Client, error) {
	a, err := r.store.Accounts().Get(ctx, accountID)
	if err != nil {
		return store.Account{}, nil, backoff.Permanent(err)
	}
	client, err := r.factory.GetClient(a.Provider, a.Data)
	if err != nil {
		return a, nil, backoff.Permanent(err)
	}
	return a, client, nil
}

// fail applies the error policy to a provider error. Authorization failures
// invalidate the account and become permanent.
func (r *Runner) fail(ctx context.Context, a store.Account, err error) error {
	err = provider.Ensure(a.Provider, err)
	switch {
	case provider.IsAuthorization(err):
		if _, saveErr := r.accounts.RecordValidation(ctx, a.ID, err); saveErr != nil {
			r.logger.Error("Failed to invalidate account", "account_id", a.ID, "error", saveErr)
		}
		r.logger.Warn("Account credentials rejected", "account_id", a.ID, "provider", a.Provider, "error", err)
		return backoff.Permanent(err)
	case provider.IsRetryable(err):
		return err
	default:
		// ErrNotSupported and anything outside the taxonomy
		return backoff.Permanent(err)
	}
}

// markValid clears a previous invalidation
func (r *Runner) markValid(ctx context.Context, a store.Account) error {
	if a.Validated && a.LastError == nil {
		return nil
	}
	if _, err := r.accounts.RecordValidation(ctx, a.ID, nil); err != nil {
		return fmt.Errorf("failed to mark account %d valid: %w", a.ID, err)
	}
	return nil
}

// Billing fetches the current invoiced figure of an account and upserts it
// into the billing row of its period
func (r *Runner) Billing(ctx context.Context, accountID int64) (store.Billing, error) {
	a, client, err := r.load(ctx, accountID)
	if err != nil {
		return store.Billing{}, err
	}

	resp, err := client.CurrentInvoiced(ctx)
	if err != nil {
		return store.Billing{}, r.fail(ctx, a, err)
	}

	b, err := r.upsert(ctx, store.NewBilling(a.ID, resp))
	if err != nil {
		return store.Billing{}, err
	}
	r.recorder.RecordBilling(a, b)
	r.logger.Debug("Billing stored", "account_id", a.ID, "period", b.Period, "total", b.Total.StringFixed(2))

	return b, r.markValid(ctx, a)
}

func (r *Runner) upsert(ctx context.Context, b store.Billing) (store.Billing, error) {
	created, err := r.store.Billing().Create(ctx, b)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return store.Billing{}, err
	}

	existing, err := r.store.Billing().GetByAccountAndPeriod(ctx, b.AccountID, b.Period)
	if err != nil {
		return store.Billing{}, err
	}
	b.ID = existing.ID
	if err := r.store.Billing().Update(ctx, b); err != nil {
		return store.Billing{}, err
	}
	return b, nil
}

// InstanceCount samples the running instances of an IAAS or PAAS account
func (r *Runner) InstanceCount(ctx context.Context, accountID int64) (store.Metric, error) {
	now := r.clock.Now().UTC()
	a, client, err := r.load(ctx, accountID)
	if err != nil {
		return store.Metric{}, err
	}
	if d, err := r.factory.Descriptor(a.Provider); err == nil && d.Kind == provider.KindSIP {
		return store.Metric{}, backoff.Permanent(fmt.Errorf("account %d: %w", a.ID, ErrSIPAccount))
	}
	counter, ok := client.(provider.InstanceCounter)
	if !ok {
		return store.Metric{}, backoff.Permanent(provider.NotSupported(a.Provider, "instance count"))
	}

	n, err := counter.InstanceCount(ctx)
	if err != nil {
		return store.Metric{}, r.fail(ctx, a, err)
	}

	m, err := r.store.Metrics().Create(ctx, store.Metric{AccountID: a.ID, Time: now, Instances: n})
	if err != nil {
		return store.Metric{}, err
	}
	r.recorder.RecordInstances(a, n)

	return m, r.markValid(ctx, a)
}

// Validate checks the credentials of an account and records the outcome
func (r *Runner) Validate(ctx context.Context, accountID int64) error {
	a, client, err := r.load(ctx, accountID)
	if err != nil {
		return err
	}
	if err := client.ValidateAccount(ctx); err != nil {
		return r.fail(ctx, a, err)
	}
	return r.markValid(ctx, a)
}
