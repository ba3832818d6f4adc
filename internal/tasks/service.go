package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

// ErrNoAccounts is returned by the fan-out entry points when nothing is stored
var ErrNoAccounts = errors.New("no accounts found")

// Service submits task runs to the queue
type Service struct {
	runner   *Runner
	queue    *Queue
	accounts store.AccountRepository
	factory  *factory.Factory
	logger   *logger.Logger
}

// NewService creates a new task service
func NewService(runner *Runner, queue *Queue, accounts store.AccountRepository, f *factory.Factory, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{runner: runner, queue: queue, accounts: accounts, factory: f, logger: log}
}

// Queue returns the queue tasks are submitted to
func (s *Service) Queue() *Queue {
	return s.queue
}

func (s *Service) submit(name string, a store.Account, run func(ctx context.Context) error) string {
	return s.queue.Submit(Task{
		Name:      name,
		AccountID: a.ID,
		Provider:  a.Provider,
		Run:       run,
	})
}

func (s *Service) account(ctx context.Context, id int64) (store.Account, error) {
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return store.Account{}, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

// GetBilling submits the billing task of one account
func (s *Service) GetBilling(ctx context.Context, accountID int64) (string, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return "", err
	}
	return s.billing(a), nil
}

func (s *Service) billing(a store.Account) string {
	return s.submit(TaskBilling, a, func(ctx context.Context) error {
		_, err := s.runner.Billing(ctx, a.ID)
		return err
	})
}

// GetAllBilling submits one billing task per account
func (s *Service) GetAllBilling(ctx context.Context) ([]string, error) {
	all, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoAccounts
	}
	ids := make([]string, 0, len(all))
	for _, a := range all {
		ids = append(ids, s.billing(a))
	}
	s.logger.Info("Billing tasks submitted", "count", len(ids))
	return ids, nil
}

// GetInstanceCount submits the instance-count task of one account
func (s *Service) GetInstanceCount(ctx context.Context, accountID int64) (string, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return "", err
	}
	return s.instances(a), nil
}

func (s *Service) instances(a store.Account) string {
	return s.submit(TaskInstances, a, func(ctx context.Context) error {
		_, err := s.runner.InstanceCount(ctx, a.ID)
		return err
	})
}

// GetInstanceCountAll submits one instance-count task per IAAS and PAAS account
func (s *Service) GetInstanceCountAll(ctx context.Context) ([]string, error) {
	all, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoAccounts
	}
	var ids []string
	for _, a := range all {
		if d, err := s.factory.Descriptor(a.Provider); err == nil && d.Kind == provider.KindSIP {
			continue
		}
		ids = append(ids, s.instances(a))
	}
	s.logger.Info("Instance count tasks submitted", "count", len(ids))
	return ids, nil
}

// ValidateAccount submits the credential check of one account
func (s *Service) ValidateAccount(ctx context.Context, accountID int64) (string, error) {
	a, err := s.account(ctx, accountID)
	if err != nil {
		return "", err
	}
	return s.submit(TaskValidate, a, func(ctx context.Context) error {
		return s.runner.Validate(ctx, a.ID)
	}), nil
}
