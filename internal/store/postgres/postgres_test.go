package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, "x"))
	assert.ErrorIs(t, mapError(sql.ErrNoRows, "account 1"), store.ErrNotFound)
	assert.ErrorIs(t, mapError(&pq.Error{Code: "23505"}, "billing"), store.ErrConflict)

	other := mapError(&pq.Error{Code: "42P01"}, "billing")
	assert.False(t, errors.Is(other, store.ErrConflict))
	assert.False(t, errors.Is(other, store.ErrNotFound))
}

// openTestStore connects to CLOUDSPEND_TEST_DSN, skipping when unset
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CLOUDSPEND_TEST_DSN")
	if dsn == "" {
		t.Skip("CLOUDSPEND_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	_, err = s.db.ExecContext(ctx, `TRUNCATE metrics, billings, accounts, providers RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a, err := s.Accounts().Insert(ctx, store.Account{
		Name:     "prod",
		Provider: "digitalocean",
		Data:     map[string]string{"api_key": "k"},
		Currency: "USD",
	})
	require.NoError(t, err)

	_, err = s.Accounts().Insert(ctx, store.Account{Name: "prod", Provider: "heroku", Data: map[string]string{}})
	assert.ErrorIs(t, err, store.ErrConflict)

	msg := "denied"
	_, err = s.Accounts().SetValidation(ctx, a.ID, false, &msg)
	require.NoError(t, err)
	a.Name = "production"
	require.NoError(t, s.Accounts().Save(ctx, a))
	got, err := s.Accounts().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "production", got.Name)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "denied", *got.LastError)
	assert.Equal(t, "k", got.Data["api_key"])

	balance := decimal.RequireFromString("-3.20")
	b := store.Billing{
		AccountID: a.ID,
		Period:    "2024-05",
		StartDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Total:     decimal.RequireFromString("10.25"),
		Balance:   &balance,
	}
	created, err := s.Billing().Create(ctx, b)
	require.NoError(t, err)
	_, err = s.Billing().Create(ctx, b)
	assert.ErrorIs(t, err, store.ErrConflict)

	created.Balance = nil
	require.NoError(t, s.Billing().Update(ctx, created))
	fetched, err := s.Billing().GetByAccountAndPeriod(ctx, a.ID, "2024-05")
	require.NoError(t, err)
	assert.Equal(t, "10.25", fetched.Total.StringFixed(2))
	assert.Nil(t, fetched.Balance)

	_, err = s.Metrics().Create(ctx, store.Metric{AccountID: a.ID, Time: time.Now().UTC(), Instances: 2})
	require.NoError(t, err)
	ms, err := s.Metrics().ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 1)

	descs := []provider.Descriptor{{
		Name:   "nexmo",
		Kind:   provider.KindSIP,
		Params: []provider.ParamSpec{provider.MustParam("api_key", "API key", provider.ParamSecret)},
	}}
	require.NoError(t, s.Providers().SyncProviders(ctx, descs))
	list, err := s.Providers().ListProviders(ctx)
	require.NoError(t, err)
	assert.Equal(t, descs, list)
}
