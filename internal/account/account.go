// Package account manages account records. Connection data always passes
// the factory's validation gate before it reaches the store.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

// ErrInvalidName is returned for blank account names
var ErrInvalidName = errors.New("account name is required")

// Public is the account view safe to return to API clients
type Public struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Provider  string            `json:"provider"`
	Kind      provider.Kind     `json:"type"`
	Data      map[string]string `json:"data"`
	Currency  string            `json:"currency"`
	Validated bool              `json:"validated"`
	LastError *string           `json:"last_error"`
}

// Service creates and updates accounts
type Service struct {
	repo    store.AccountRepository
	factory *factory.Factory
	logger  *logger.Logger
}

// NewService creates a new account service
func NewService(repo store.AccountRepository, f *factory.Factory, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{repo: repo, factory: f, logger: log}
}

// Create validates data against providerName and stores a new account. The
// currency is taken from the constructed client and never changes afterwards.
func (s *Service) Create(ctx context.Context, name, providerName string, data map[string]string) (store.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Account{}, ErrInvalidName
	}
	client, err := s.factory.GetClient(providerName, data)
	if err != nil {
		return store.Account{}, err
	}

	a, err := s.repo.Insert(ctx, store.Account{
		Name:     name,
		Provider: providerName,
		Data:     data,
		Currency: client.Currency(),
	})
	if err != nil {
		return store.Account{}, err
	}
	s.logger.Info("Account created", "account_id", a.ID, "name", a.Name, "provider", a.Provider)
	return a, nil
}

// Update merges partial into the stored data and re-validates the result
// against the account's provider. Keys absent from partial keep their value.
func (s *Service) Update(ctx context.Context, id int64, partial map[string]string) (store.Account, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return store.Account{}, err
	}

	merged := make(map[string]string, len(a.Data)+len(partial))
	for k, v := range a.Data {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	if _, err := s.factory.GetClient(a.Provider, merged); err != nil {
		return store.Account{}, err
	}

	a.Data = merged
	if err := s.repo.Save(ctx, a); err != nil {
		return store.Account{}, err
	}
	s.logger.Info("Account updated", "account_id", a.ID)
	return a, nil
}

// Rename changes the display name of an account
func (s *Service) Rename(ctx context.Context, id int64, name string) (store.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Account{}, ErrInvalidName
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return store.Account{}, err
	}
	a.Name = name
	if err := s.repo.Save(ctx, a); err != nil {
		return store.Account{}, err
	}
	return a, nil
}

// RecordValidation stores the outcome of a provider call. A nil cause marks
// the account valid and clears its last error; otherwise the account is
// invalidated with cause as its last error. Other fields are not touched.
func (s *Service) RecordValidation(ctx context.Context, id int64, cause error) (store.Account, error) {
	if cause == nil {
		return s.repo.SetValidation(ctx, id, true, nil)
	}
	msg := cause.Error()
	a, err := s.repo.SetValidation(ctx, id, false, &msg)
	if err != nil {
		return store.Account{}, err
	}
	s.logger.Info("Account invalidated", "account_id", id, "error", msg)
	return a, nil
}

// Get returns one account
func (s *Service) Get(ctx context.Context, id int64) (store.Account, error) {
	return s.repo.Get(ctx, id)
}

// List returns every account
func (s *Service) List(ctx context.Context) ([]store.Account, error) {
	return s.repo.List(ctx)
}

// Ensure creates the account when no account with that name exists yet and
// returns the stored one otherwise. Used for config-seeded accounts.
func (s *Service) Ensure(ctx context.Context, name, providerName string, data map[string]string) (store.Account, bool, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return store.Account{}, false, err
	}
	for _, a := range all {
		if a.Name != name {
			continue
		}
		if a.Provider != providerName {
			return store.Account{}, false, fmt.Errorf("account %q exists with provider %s: %w", name, a.Provider, store.ErrConflict)
		}
		return a, false, nil
	}
	a, err := s.Create(ctx, name, providerName, data)
	if err != nil {
		return store.Account{}, false, err
	}
	return a, true, nil
}

// Public returns a with every secret connection field removed
func (s *Service) Public(a store.Account) Public {
	p := Public{
		ID:        a.ID,
		Name:      a.Name,
		Provider:  a.Provider,
		Data:      s.factory.Redact(a.Data),
		Currency:  a.Currency,
		Validated: a.Validated,
		LastError: a.LastError,
	}
	if d, err := s.factory.Descriptor(a.Provider); err == nil {
		p.Kind = d.Kind
	}
	return p
}
