package collector

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/store"
	"github.com/zgpcy/cloudspend/internal/tasks"
	"github.com/zgpcy/cloudspend/internal/version"
)

var _ tasks.Recorder = (*SpendCollector)(nil)

type accountKey struct {
	ID       int64
	Name     string
	Provider string
	Currency string
}

type billingSample struct {
	period  string
	total   float64
	balance *float64
}

type runKey struct {
	Task     string
	Provider string
}

type runSample struct {
	duration time.Duration
	at       time.Time
}

// SpendCollector implements prometheus.Collector for account spend and task
// health. It also satisfies tasks.Recorder.
type SpendCollector struct {
	logger *logger.Logger
	clock  clock.Clock

	// Metrics
	billingTotalMetric   *prometheus.Desc
	billingBalanceMetric *prometheus.Desc
	instancesMetric      *prometheus.Desc
	runDurationMetric    *prometheus.Desc
	lastRunTimeMetric    *prometheus.Desc
	taskRunsTotal        *prometheus.CounterVec
	buildInfo            *prometheus.GaugeVec

	// State
	mu        sync.RWMutex
	billings  map[accountKey]billingSample
	instances map[accountKey]int
	runs      map[runKey]runSample
	successes int
}

// NewSpendCollector creates a new SpendCollector
func NewSpendCollector(log *logger.Logger) *SpendCollector {
	if log == nil {
		log = logger.Discard()
	}

	taskRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudspend_task_runs_total",
			Help: "Total number of task attempts by task, provider and outcome",
		},
		[]string{"task", "provider", "outcome"},
	)

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudspend_build_info",
			Help: "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)
	versionInfo := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    versionInfo["version"],
		"git_commit": versionInfo["git_commit"],
		"build_date": versionInfo["build_date"],
		"go_version": versionInfo["go_version"],
	}).Set(1)

	accountLabels := []string{"account_id", "account", "provider", "currency"}
	return &SpendCollector{
		logger: log,
		clock:  clock.RealClock{},
		billingTotalMetric: prometheus.NewDesc(
			"cloudspend_billing_total",
			"Invoiced amount of the latest billing period stored for the account",
			append(accountLabels, "period"),
			nil,
		),
		billingBalanceMetric: prometheus.NewDesc(
			"cloudspend_billing_balance",
			"Account balance reported with the latest billing period",
			append(accountLabels, "period"),
			nil,
		),
		instancesMetric: prometheus.NewDesc(
			"cloudspend_instances",
			"Running instances at the last instance-count sample",
			[]string{"account_id", "account", "provider"},
			nil,
		),
		runDurationMetric: prometheus.NewDesc(
			"cloudspend_task_last_duration_seconds",
			"Duration of the last task attempt in seconds",
			[]string{"task", "provider"},
			nil,
		),
		lastRunTimeMetric: prometheus.NewDesc(
			"cloudspend_task_last_run_timestamp_seconds",
			"Unix timestamp of the last task attempt",
			[]string{"task", "provider"},
			nil,
		),
		taskRunsTotal: taskRunsTotal,
		buildInfo:     buildInfo,
		billings:      make(map[accountKey]billingSample),
		instances:     make(map[accountKey]int),
		runs:          make(map[runKey]runSample),
	}
}

func keyOf(a store.Account) accountKey {
	return accountKey{ID: a.ID, Name: a.Name, Provider: a.Provider, Currency: a.Currency}
}

// Describe implements prometheus.Collector
func (c *SpendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.billingTotalMetric
	ch <- c.billingBalanceMetric
	ch <- c.instancesMetric
	ch <- c.runDurationMetric
	ch <- c.lastRunTimeMetric
	c.taskRunsTotal.Describe(ch)
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *SpendCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for key, b := range c.billings {
		id := strconv.FormatInt(key.ID, 10)
		ch <- prometheus.MustNewConstMetric(
			c.billingTotalMetric,
			prometheus.GaugeValue,
			b.total,
			id, key.Name, key.Provider, key.Currency, b.period,
		)
		if b.balance != nil {
			ch <- prometheus.MustNewConstMetric(
				c.billingBalanceMetric,
				prometheus.GaugeValue,
				*b.balance,
				id, key.Name, key.Provider, key.Currency, b.period,
			)
		}
	}

	for key, n := range c.instances {
		ch <- prometheus.MustNewConstMetric(
			c.instancesMetric,
			prometheus.GaugeValue,
			float64(n),
			strconv.FormatInt(key.ID, 10), key.Name, key.Provider,
		)
	}

	for key, run := range c.runs {
		ch <- prometheus.MustNewConstMetric(
			c.runDurationMetric,
			prometheus.GaugeValue,
			run.duration.Seconds(),
			key.Task, key.Provider,
		)
		ch <- prometheus.MustNewConstMetric(
			c.lastRunTimeMetric,
			prometheus.GaugeValue,
			float64(run.at.Unix()),
			key.Task, key.Provider,
		)
	}

	c.taskRunsTotal.Collect(ch)
	c.buildInfo.Collect(ch)
}

// RecordRun counts one task attempt
func (c *SpendCollector) RecordRun(task, providerName, outcome string, d time.Duration) {
	c.taskRunsTotal.With(prometheus.Labels{"task": task, "provider": providerName, "outcome": outcome}).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[runKey{Task: task, Provider: providerName}] = runSample{duration: d, at: c.clock.Now()}
	if outcome == tasks.OutcomeSuccess {
		c.successes++
	}
}

// RecordBilling replaces the billing sample of the account. A sample for an
// earlier period never overwrites a later one.
func (c *SpendCollector) RecordBilling(a store.Account, b store.Billing) {
	sample := billingSample{period: b.Period, total: b.Total.InexactFloat64()}
	if b.Balance != nil {
		v := b.Balance.InexactFloat64()
		sample.balance = &v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := keyOf(a)
	if prev, ok := c.billings[key]; ok && prev.period > b.Period {
		return
	}
	c.billings[key] = sample
}

// RecordInstances replaces the instance sample of the account
func (c *SpendCollector) RecordInstances(a store.Account, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[keyOf(a)] = n
}

// Seed loads the latest stored billing and instance sample of every account
func (c *SpendCollector) Seed(ctx context.Context, s store.Store) error {
	accounts, err := s.Accounts().List(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		billings, err := s.Billing().ListByAccount(ctx, a.ID)
		if err != nil {
			return err
		}
		if len(billings) > 0 {
			c.RecordBilling(a, billings[len(billings)-1])
		}

		metrics, err := s.Metrics().ListByAccount(ctx, a.ID)
		if err != nil {
			return err
		}
		if len(metrics) > 0 {
			c.RecordInstances(a, metrics[len(metrics)-1].Instances)
		}
	}
	c.logger.Info("Collector seeded from store", "accounts", len(accounts))
	return nil
}

// Successes returns the number of successful task attempts since startup
func (c *SpendCollector) Successes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.successes
}
