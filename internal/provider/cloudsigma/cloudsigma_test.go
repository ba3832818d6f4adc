package cloudsigma

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/provider"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	values, err := provider.Bind(Name, Params(), map[string]string{
		"username": "ops@example.com",
		"password": "pw",
		"endpoint": "zrh",
	})
	require.NoError(t, err)
	c, err := New(values, provider.Deps{
		HTTPClient: srv.Client(),
		Clock:      clock.NewFixed(time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://zrh.cloudsigma.com/api/2.0", c.baseURL)
	c.baseURL = srv.URL
	return c
}

func TestCurrentInvoiced_SumsPositiveLedgerEntries(t *testing.T) {
	var ledgerCalls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "ops@example.com", user)
		assert.Equal(t, "pw", pass)

		switch r.URL.Path {
		case "/balance/":
			fmt.Fprint(w, `{"balance":"120.5555","currency":"USD"}`)
		case "/ledger/":
			ledgerCalls++
			q := r.URL.Query()
			assert.Equal(t, "2024-01-01", q.Get("time__gt"))
			assert.Equal(t, "2024-02-01", q.Get("time__lt"))
			if q.Get("limit") == "0" {
				fmt.Fprint(w, `{"meta":{"total_count":3},"objects":[]}`)
				return
			}
			assert.Equal(t, "3", q.Get("limit"))
			fmt.Fprint(w, `{"meta":{"total_count":3},"objects":[
				{"amount":"10.10","reason":"burst"},
				{"amount":"-50.00","reason":"top-up"},
				{"amount":"2.333","reason":"subscription"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	resp, err := c.CurrentInvoiced(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ledgerCalls)
	assert.Equal(t, "12.43", resp.Total.StringFixed(2))
	require.NotNil(t, resp.Balance)
	assert.Equal(t, "120.56", resp.Balance.StringFixed(2))
}

func TestCurrentInvoiced_EmptyLedger(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/balance/":
			fmt.Fprint(w, `{"balance":"1","currency":"USD"}`)
		default:
			fmt.Fprint(w, `{"meta":{"total_count":0},"objects":[]}`)
		}
	})

	resp, err := c.CurrentInvoiced(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Total.IsZero())
}

func TestCurrentInvoiced_NumericAmounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/balance/":
			fmt.Fprint(w, `{"balance":87.125,"currency":"USD"}`)
		case r.URL.Query().Get("limit") == "0":
			fmt.Fprint(w, `{"meta":{"total_count":2},"objects":[]}`)
		default:
			fmt.Fprint(w, `{"meta":{"total_count":2},"objects":[
				{"amount":4.5,"reason":"burst"},
				{"amount":"0.75","reason":"subscription"}]}`)
		}
	})

	resp, err := c.CurrentInvoiced(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5.25", resp.Total.StringFixed(2))
	require.NotNil(t, resp.Balance)
	assert.Equal(t, "87.13", resp.Balance.StringFixed(2))
}

func TestCurrentInvoiced_BadFigures(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		ledger  string
	}{
		{"missing balance", `{"currency":"USD"}`, `{"meta":{"total_count":0},"objects":[]}`},
		{"non-numeric amount", `{"balance":"1"}`, `{"meta":{"total_count":1},"objects":[{"amount":"lots"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/balance/" {
					fmt.Fprint(w, tt.balance)
					return
				}
				fmt.Fprint(w, tt.ledger)
			})
			_, err := c.CurrentInvoiced(context.Background())
			assert.ErrorIs(t, err, provider.ErrUnknown)
		})
	}
}

func TestValidateAccount_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.ErrorIs(t, c.ValidateAccount(context.Background()), provider.ErrAuthorization)
}

func TestInstanceCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"meta":{"total_count":5},"objects":[]}`)
	})

	n, err := c.InstanceCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
