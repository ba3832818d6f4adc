package collector

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/store"
	"github.com/zgpcy/cloudspend/internal/store/memory"
	"github.com/zgpcy/cloudspend/internal/tasks"
)

var testAccount = store.Account{ID: 3, Name: "prod-do", Provider: "digitalocean", Currency: "USD"}

func collect(c prometheus.Collector) []prometheus.Metric {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var metrics []prometheus.Metric
	for m := range ch {
		metrics = append(metrics, m)
	}
	return metrics
}

// TestDescribe tests the Describe method
func TestDescribe(t *testing.T) {
	c := NewSpendCollector(nil)

	ch := make(chan *prometheus.Desc, 16)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var descs []*prometheus.Desc
	for desc := range ch {
		descs = append(descs, desc)
	}

	// billing total, balance, instances, duration, last run, runs counter, build info
	if len(descs) != 7 {
		t.Errorf("Expected 7 descriptors, got %d", len(descs))
	}
}

// TestCollect_NoData only exports build info before any task ran
func TestCollect_NoData(t *testing.T) {
	metrics := collect(NewSpendCollector(nil))
	if len(metrics) != 1 {
		t.Errorf("Expected only build info, got %d metrics", len(metrics))
	}
}

func TestRecordBilling(t *testing.T) {
	c := NewSpendCollector(nil)
	balance := decimal.RequireFromString("-4.50")
	c.RecordBilling(testAccount, store.Billing{Period: "2024-05", Total: decimal.RequireFromString("12.34"), Balance: &balance})

	expected := `
# HELP cloudspend_billing_balance Account balance reported with the latest billing period
# TYPE cloudspend_billing_balance gauge
cloudspend_billing_balance{account="prod-do",account_id="3",currency="USD",period="2024-05",provider="digitalocean"} -4.5
# HELP cloudspend_billing_total Invoiced amount of the latest billing period stored for the account
# TYPE cloudspend_billing_total gauge
cloudspend_billing_total{account="prod-do",account_id="3",currency="USD",period="2024-05",provider="digitalocean"} 12.34
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "cloudspend_billing_total", "cloudspend_billing_balance"); err != nil {
		t.Error(err)
	}

	// older periods never replace newer ones
	c.RecordBilling(testAccount, store.Billing{Period: "2024-04", Total: decimal.NewFromInt(1)})
	if got := testutil.ToFloat64(gaugeFor(t, c, "cloudspend_billing_total")); got != 12.34 {
		t.Errorf("billing total: got %v, want 12.34", got)
	}
}

// gaugeFor re-exports the single sample named name as a collector
func gaugeFor(t *testing.T, c *SpendCollector, name string) prometheus.Collector {
	t.Helper()
	for _, m := range collect(c) {
		if strings.Contains(m.Desc().String(), `"`+name+`"`) {
			return constCollector{m}
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

type constCollector struct{ m prometheus.Metric }

func (c constCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.m.Desc() }
func (c constCollector) Collect(ch chan<- prometheus.Metric) { ch <- c.m }

func TestRecordRun(t *testing.T) {
	c := NewSpendCollector(nil)
	c.RecordRun(tasks.TaskBilling, "heroku", tasks.OutcomeRetry, time.Second)
	c.RecordRun(tasks.TaskBilling, "heroku", tasks.OutcomeSuccess, 2*time.Second)

	if got := testutil.ToFloat64(c.taskRunsTotal.WithLabelValues(tasks.TaskBilling, "heroku", tasks.OutcomeSuccess)); got != 1 {
		t.Errorf("success runs: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.taskRunsTotal.WithLabelValues(tasks.TaskBilling, "heroku", tasks.OutcomeRetry)); got != 1 {
		t.Errorf("retry runs: got %v, want 1", got)
	}
	if c.Successes() != 1 {
		t.Errorf("Successes: got %d, want 1", c.Successes())
	}
	if got := testutil.ToFloat64(gaugeFor(t, c, "cloudspend_task_last_duration_seconds")); got != 2 {
		t.Errorf("last duration: got %v, want 2", got)
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a, _ := s.Accounts().Insert(ctx, store.Account{Name: "ovh", Provider: "ovh", Currency: "EUR", Data: map[string]string{}})
	_, _ = s.Billing().Create(ctx, store.Billing{AccountID: a.ID, Period: "2024-04", Total: decimal.NewFromInt(5)})
	_, _ = s.Billing().Create(ctx, store.Billing{AccountID: a.ID, Period: "2024-05", Total: decimal.NewFromInt(8)})
	_, _ = s.Metrics().Create(ctx, store.Metric{AccountID: a.ID, Time: time.Now(), Instances: 6})

	c := NewSpendCollector(nil)
	if err := c.Seed(ctx, s); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if got := testutil.ToFloat64(gaugeFor(t, c, "cloudspend_billing_total")); got != 8 {
		t.Errorf("billing total: got %v, want 8", got)
	}
	if got := testutil.ToFloat64(gaugeFor(t, c, "cloudspend_instances")); got != 6 {
		t.Errorf("instances: got %v, want 6", got)
	}
}

// TestConcurrency_RecordDuringCollect checks the collector under -race
func TestConcurrency_RecordDuringCollect(t *testing.T) {
	c := NewSpendCollector(nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			a := testAccount
			a.ID = int64(i)
			c.RecordInstances(a, i)
			c.RecordRun(tasks.TaskInstances, "digitalocean", tasks.OutcomeSuccess, time.Millisecond)
		}(i)
		go func() {
			defer wg.Done()
			collect(c)
		}()
	}
	wg.Wait()
	if c.Successes() != 10 {
		t.Errorf("Successes: got %d, want 10", c.Successes())
	}
}
