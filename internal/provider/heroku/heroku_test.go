package heroku

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

const invoicesBody = `[
	{"id":"a","period_start":"2024-01-01","period_end":"2024-02-01","total":1000,"state":1},
	{"id":"b","period_start":"2024-02-01","period_end":"2024-03-01","total":12345,"state":0}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	values, err := provider.Bind(Name, Params(), map[string]string{"api_key": "hk"})
	require.NoError(t, err)
	c, err := New(values, provider.Deps{
		HTTPClient: srv.Client(),
		Clock:      clock.NewFixed(time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	c.baseURL = srv.URL
	return c
}

func TestCurrentInvoiced_DividesCents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/invoices", r.URL.Path)
		assert.Equal(t, acceptHeader, r.Header.Get("Accept"))
		assert.Equal(t, "Bearer hk", r.Header.Get("Authorization"))
		fmt.Fprint(w, invoicesBody)
	})

	resp, err := c.CurrentInvoiced(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123.45", resp.Total.StringFixed(2))
	assert.Nil(t, resp.Balance)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), resp.StartDate)
}

func TestInvoice_PreviousMonth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, invoicesBody)
	})

	resp, err := c.Invoice(context.Background(), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "10.00", resp.Total.StringFixed(2))
}

func TestInvoice_NoInvoiceForMonth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	_, err := c.CurrentInvoiced(context.Background())
	assert.ErrorIs(t, err, provider.ErrUnknown)
}

func TestCurrentInvoiced_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.CurrentInvoiced(context.Background())
	assert.ErrorIs(t, err, provider.ErrAuthorization)
}

func TestValidateAccountAndInstanceCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account":
			fmt.Fprint(w, `{"id":"01234567-89ab-cdef-0123-456789abcdef","email":"ops@example.com"}`)
		case "/apps":
			fmt.Fprint(w, `[{"id":"1"},{"id":"2"},{"id":"3"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, c.ValidateAccount(context.Background()))
	n, err := c.InstanceCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
