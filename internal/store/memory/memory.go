// Package memory is an in-process store.Store. It enforces the same
// uniqueness constraints as the SQL backend and is safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

type billingKey struct {
	accountID int64
	period    string
}

// Store keeps every entity in maps guarded by one mutex
type Store struct {
	mu sync.RWMutex

	accounts  map[int64]store.Account
	billings  map[int64]store.Billing
	byPeriod  map[billingKey]int64
	metrics   []store.Metric
	providers []provider.Descriptor
	nextID    int64
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		accounts: make(map[int64]store.Account),
		billings: make(map[int64]store.Billing),
		byPeriod: make(map[billingKey]int64),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Accounts implements store.Store
func (s *Store) Accounts() store.AccountRepository { return accounts{s} }

// Billing implements store.Store
func (s *Store) Billing() store.BillingRepository { return billings{s} }

// Metrics implements store.Store
func (s *Store) Metrics() store.MetricRepository { return metrics{s} }

// Providers implements store.Store
func (s *Store) Providers() store.ProviderRepository { return providers{s} }

// Ping implements store.Store
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements store.Store
func (s *Store) Close() error { return nil }

func copyAccount(a store.Account) store.Account {
	data := make(map[string]string, len(a.Data))
	for k, v := range a.Data {
		data[k] = v
	}
	a.Data = data
	if a.LastError != nil {
		msg := *a.LastError
		a.LastError = &msg
	}
	return a
}

type accounts struct{ s *Store }

func (r accounts) Get(ctx context.Context, id int64) (store.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return store.Account{}, fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	return copyAccount(a), nil
}

func (r accounts) List(ctx context.Context) ([]store.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]store.Account, 0, len(r.s.accounts))
	for _, a := range r.s.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r accounts) nameTaken(name string, except int64) bool {
	for _, a := range r.s.accounts {
		if a.Name == name && a.ID != except {
			return true
		}
	}
	return false
}

func (r accounts) Insert(ctx context.Context, a store.Account) (store.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.nameTaken(a.Name, 0) {
		return store.Account{}, fmt.Errorf("account name %q: %w", a.Name, store.ErrConflict)
	}
	a = copyAccount(a)
	a.ID = r.s.id()
	r.s.accounts[a.ID] = a
	return copyAccount(a), nil
}

func (r accounts) Save(ctx context.Context, a store.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %d: %w", a.ID, store.ErrNotFound)
	}
	if r.nameTaken(a.Name, a.ID) {
		return fmt.Errorf("account name %q: %w", a.Name, store.ErrConflict)
	}
	a = copyAccount(a)
	a.Validated = current.Validated
	a.LastError = current.LastError
	r.s.accounts[a.ID] = a
	return nil
}

func (r accounts) SetValidation(ctx context.Context, id int64, validated bool, lastError *string) (store.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return store.Account{}, fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	a.Validated = validated
	a.LastError = lastError
	a = copyAccount(a)
	r.s.accounts[id] = a
	return copyAccount(a), nil
}

type billings struct{ s *Store }

func (r billings) Create(ctx context.Context, b store.Billing) (store.Billing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := billingKey{b.AccountID, b.Period}
	if _, exists := r.s.byPeriod[key]; exists {
		return store.Billing{}, fmt.Errorf("billing %d/%s: %w", b.AccountID, b.Period, store.ErrConflict)
	}
	b.ID = r.s.id()
	r.s.billings[b.ID] = b
	r.s.byPeriod[key] = b.ID
	return b, nil
}

func (r billings) GetByAccountAndPeriod(ctx context.Context, accountID int64, period string) (store.Billing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byPeriod[billingKey{accountID, period}]
	if !ok {
		return store.Billing{}, fmt.Errorf("billing %d/%s: %w", accountID, period, store.ErrNotFound)
	}
	return r.s.billings[id], nil
}

func (r billings) Update(ctx context.Context, b store.Billing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.billings[b.ID]
	if !ok {
		return fmt.Errorf("billing %d: %w", b.ID, store.ErrNotFound)
	}
	newKey := billingKey{b.AccountID, b.Period}
	if other, exists := r.s.byPeriod[newKey]; exists && other != b.ID {
		return fmt.Errorf("billing %d/%s: %w", b.AccountID, b.Period, store.ErrConflict)
	}
	delete(r.s.byPeriod, billingKey{old.AccountID, old.Period})
	r.s.byPeriod[newKey] = b.ID
	r.s.billings[b.ID] = b
	return nil
}

func (r billings) ListByAccount(ctx context.Context, accountID int64) ([]store.Billing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []store.Billing
	for _, b := range r.s.billings {
		if b.AccountID == accountID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

type metrics struct{ s *Store }

func (r metrics) Create(ctx context.Context, m store.Metric) (store.Metric, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = r.s.id()
	r.s.metrics = append(r.s.metrics, m)
	return m, nil
}

func (r metrics) ListByAccount(ctx context.Context, accountID int64) ([]store.Metric, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []store.Metric
	for _, m := range r.s.metrics {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

type providers struct{ s *Store }

func (r providers) SyncProviders(ctx context.Context, descs []provider.Descriptor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.providers = append([]provider.Descriptor(nil), descs...)
	sort.Slice(r.s.providers, func(i, j int) bool { return r.s.providers[i].Name < r.s.providers[j].Name })
	return nil
}

func (r providers) ListProviders(ctx context.Context) ([]provider.Descriptor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]provider.Descriptor(nil), r.s.providers...), nil
}
