package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

// fakeCloud scripts the behaviour of every client built for one provider name
type fakeCloud struct {
	mu        sync.Mutex
	total     decimal.Decimal
	instances int
	errs      []error // consumed one per call before succeeding
	calls     int
	now       time.Time
	// during runs inside every provider call, before it returns
	during func()
}

func (f *fakeCloud) next() error {
	f.mu.Lock()
	f.calls++
	during := f.during
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()
	if during != nil {
		during()
	}
	return err
}

func (f *fakeCloud) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClient struct{ cloud *fakeCloud }

func (c fakeClient) Currency() string { return "USD" }

func (c fakeClient) ValidateAccount(ctx context.Context) error { return c.cloud.next() }

func (c fakeClient) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	if err := c.cloud.next(); err != nil {
		return provider.BillingResponse{}, err
	}
	c.cloud.mu.Lock()
	total := c.cloud.total
	c.cloud.mu.Unlock()
	start, end := provider.MonthRange(c.cloud.now)
	return provider.Billing("fake", start, end, total, nil)
}

func (c fakeClient) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

func (c fakeClient) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	return provider.BillingResponse{}, provider.NotSupported("fake", "invoice")
}

type countingClient struct{ fakeClient }

func (c countingClient) InstanceCount(ctx context.Context) (int, error) {
	if err := c.cloud.next(); err != nil {
		return 0, err
	}
	return c.cloud.instances, nil
}

var testNow = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

// newFakeFactory registers "fake" (IAAS, counts instances), "fakepaas"
// (PAAS, cannot count) and "fakesip" (SIP)
func newFakeFactory(cloud *fakeCloud) *factory.Factory {
	cloud.now = testNow
	f := factory.New(provider.Deps{})
	params := []provider.ParamSpec{provider.MustParam("api_key", "API key", provider.ParamSecret)}
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(f.Register(factory.Registration{
		Name: "fake", Kind: provider.KindIAAS, Params: params,
		New: func(provider.Values, provider.Deps) (provider.Client, error) {
			return countingClient{fakeClient{cloud}}, nil
		},
	}))
	must(f.Register(factory.Registration{
		Name: "fakepaas", Kind: provider.KindPAAS, Params: params,
		New: func(provider.Values, provider.Deps) (provider.Client, error) {
			return fakeClient{cloud}, nil
		},
	}))
	must(f.Register(factory.Registration{
		Name: "fakesip", Kind: provider.KindSIP, Params: params,
		New: func(provider.Values, provider.Deps) (provider.Client, error) {
			return countingClient{fakeClient{cloud}}, nil
		},
	}))
	return f
}

func insertAccount(s store.Store, name, providerName string) store.Account {
	a, err := s.Accounts().Insert(context.Background(), store.Account{
		Name:     name,
		Provider: providerName,
		Data:     map[string]string{"api_key": "k"},
		Currency: "USD",
	})
	if err != nil {
		panic(err)
	}
	return a
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	billings int
	samples  int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: make(map[string]int)}
}

func (r *fakeRecorder) RecordRun(task, providerName, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *fakeRecorder) RecordBilling(store.Account, store.Billing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.billings++
}

func (r *fakeRecorder) RecordInstances(store.Account, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples++
}

func (r *fakeRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}
