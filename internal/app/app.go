// Package app wires configuration, store, provider factory and task layer
// into one process.
package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zgpcy/cloudspend/internal/account"
	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/collector"
	"github.com/zgpcy/cloudspend/internal/config"
	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/scheduler"
	"github.com/zgpcy/cloudspend/internal/store"
	"github.com/zgpcy/cloudspend/internal/store/memory"
	"github.com/zgpcy/cloudspend/internal/store/postgres"
	"github.com/zgpcy/cloudspend/internal/tasks"
)

// App holds every long-lived component
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     store.Store
	Factory   *factory.Factory
	Accounts  *account.Service
	Runner    *tasks.Runner
	Queue     *tasks.Queue
	Tasks     *tasks.Service
	Scheduler *scheduler.Scheduler
	Spend     *collector.SpendCollector
	Registry  *prometheus.Registry
}

// Options customizes New, mostly for tests
type Options struct {
	// Store replaces the configured backend when set
	Store store.Store
	// Deps replaces the provider dependencies built from the config
	Deps *provider.Deps
}

// OpenStore opens the backend selected by cfg
func OpenStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// New builds the application. It syncs the provider catalogue, seeds the
// configured accounts and loads the latest figures into the collector.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	st := opts.Store
	if st == nil {
		var err error
		if st, err = OpenStore(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}

	deps := provider.Deps{
		HTTPClient: provider.NewHTTPClient(cfg.APITimeoutDuration()),
		Clock:      clock.RealClock{},
		Logger:     log,
	}
	if opts.Deps != nil {
		deps = *opts.Deps
	}
	f := factory.Default(deps)

	spend := collector.NewSpendCollector(log)
	reg := prometheus.NewRegistry()
	reg.MustRegister(spend)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	accounts := account.NewService(st.Accounts(), f, log)
	runner := tasks.NewRunner(st, f, log, tasks.WithRecorder(spend), tasks.WithAccounts(accounts))
	queue := tasks.NewQueue(tasks.QueueConfig{
		Workers:    cfg.Tasks.Workers,
		RetryDelay: cfg.Tasks.RetryDelayDuration(),
		MaxRetries: *cfg.Tasks.MaxRetries,
	}, log, spend)
	svc := tasks.NewService(runner, queue, st.Accounts(), f, log)
	sched := scheduler.New(scheduler.Config{
		BillingInterval: cfg.Tasks.BillingEvery(),
		MetricsInterval: cfg.Tasks.MetricsEvery(),
	}, svc, log)

	a := &App{
		Config:    cfg,
		Logger:    log,
		Store:     st,
		Factory:   f,
		Accounts:  accounts,
		Runner:    runner,
		Queue:     queue,
		Tasks:     svc,
		Scheduler: sched,
		Spend:     spend,
		Registry:  reg,
	}

	if err := a.bootstrap(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) bootstrap(ctx context.Context) error {
	if err := a.Store.Providers().SyncProviders(ctx, a.Factory.Providers()); err != nil {
		return fmt.Errorf("failed to sync providers: %w", err)
	}

	for _, seed := range a.Config.Accounts {
		acct, created, err := a.Accounts.Ensure(ctx, seed.Name, seed.Provider, seed.Data)
		if err != nil {
			return fmt.Errorf("failed to seed account %q: %w", seed.Name, err)
		}
		if created {
			a.Logger.Info("Seeded account from config", "account_id", acct.ID, "name", acct.Name)
		}
	}

	if err := a.Spend.Seed(ctx, a.Store); err != nil {
		return fmt.Errorf("failed to seed collector: %w", err)
	}
	return nil
}

// FindAccount resolves an account by numeric ID or by name
func (a *App) FindAccount(ctx context.Context, ref string) (store.Account, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return a.Accounts.Get(ctx, id)
	}
	all, err := a.Accounts.List(ctx)
	if err != nil {
		return store.Account{}, err
	}
	for _, acct := range all {
		if acct.Name == ref {
			return acct, nil
		}
	}
	return store.Account{}, fmt.Errorf("account %q: %w", ref, store.ErrNotFound)
}

// Close releases the store
func (a *App) Close() error {
	return a.Store.Close()
}
