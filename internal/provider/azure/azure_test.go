package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

type fakeCredential struct {
	token string
	err   error
	calls int
}

func (f *fakeCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type fakeQuerier struct {
	result armcostmanagement.QueryResult
	err    error
	scope  string
	def    armcostmanagement.QueryDefinition
}

func (f *fakeQuerier) Usage(ctx context.Context, scope string, def armcostmanagement.QueryDefinition,
	opts *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error) {
	f.scope = scope
	f.def = def
	if f.err != nil {
		return armcostmanagement.QueryClientUsageResponse{}, f.err
	}
	return armcostmanagement.QueryClientUsageResponse{QueryResult: f.result}, nil
}

func newTestClient(t *testing.T, srv *httptest.Server, cred *fakeCredential, q *fakeQuerier) *Client {
	t.Helper()
	httpClient := http.DefaultClient
	base := "http://unused.invalid"
	if srv != nil {
		httpClient = srv.Client()
		base = srv.URL
	}
	return &Client{
		cfg:           Config{SubscriptionID: "sub-1"},
		cred:          cred,
		query:         q,
		http:          provider.NewHTTP(Name, httpClient),
		clock:         clock.NewFixed(time.Date(2024, 8, 12, 0, 0, 0, 0, time.UTC)),
		logger:        logger.Discard(),
		managementURL: base,
	}
}

func TestNew(t *testing.T) {
	values, err := provider.Bind(Name, Params(), map[string]string{
		"subscription_id": "sub-1",
		"tenant_id":       "00000000-0000-0000-0000-000000000000",
		"client_id":       "11111111-1111-1111-1111-111111111111",
		"client_secret":   "secret",
	})
	require.NoError(t, err)

	c, err := New(values, provider.Deps{})
	require.NoError(t, err)
	assert.NotNil(t, c.cred)
	assert.NotNil(t, c.query)
	assert.Equal(t, "USD", c.Currency())
}

func TestCurrentInvoiced_FollowsNextLink(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/subscriptions/sub-1/providers/Microsoft.Consumption/usageDetails", r.URL.Path)
		if r.URL.Query().Get("skiptoken") == "p2" {
			fmt.Fprint(w, `{"value":[{"properties":{"paygCostInUSD":0.255}}]}`)
			return
		}
		assert.Equal(t, consumptionVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "properties/meterDetails", r.URL.Query().Get("$expand"))
		fmt.Fprintf(w, `{"value":[
			{"properties":{"paygCostInUSD":10.5,"servicePeriodStartDate":"2024-07-15T00:00:00.0000000Z","servicePeriodEndDate":"2024-08-15T00:00:00.0000000Z"}},
			{"properties":{"paygCostInUSD":1.25}}],
			"nextLink":"%s/subscriptions/sub-1/providers/Microsoft.Consumption/usageDetails?skiptoken=p2"}`, srvURL)
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(t, srv, &fakeCredential{token: "tok"}, nil)
	resp, err := c.CurrentInvoiced(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12.01", resp.Total.StringFixed(2))
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), resp.StartDate)
	assert.Equal(t, time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC), resp.EndDate)
}

func TestCurrentInvoiced_EmptyUsesCurrentMonth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeCredential{token: "tok"}, nil)
	resp, err := c.CurrentInvoiced(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Total.IsZero())
	assert.Equal(t, time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC), resp.StartDate)
}

func TestCurrentInvoiced_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeCredential{token: "tok"}, nil)
	_, err := c.CurrentInvoiced(context.Background())
	assert.ErrorIs(t, err, provider.ErrRateLimit)
}

func TestValidateAccount_TokenFailure(t *testing.T) {
	c := newTestClient(t, nil, &fakeCredential{err: errors.New("network down")}, nil)
	err := c.ValidateAccount(context.Background())
	assert.ErrorIs(t, err, provider.ErrUnknown)
}

func TestCurrentUsage(t *testing.T) {
	q := &fakeQuerier{result: armcostmanagement.QueryResult{
		Properties: &armcostmanagement.QueryProperties{
			Columns: []*armcostmanagement.QueryColumn{
				{Name: stringPtr("Cost")},
				{Name: stringPtr("Currency")},
			},
			Rows: [][]any{
				{12.345, "USD"},
				{0.005, "USD"},
			},
		},
	}}

	c := newTestClient(t, nil, &fakeCredential{token: "tok"}, q)
	resp, err := c.CurrentUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12.35", resp.Total.StringFixed(2))
	assert.Equal(t, "/subscriptions/sub-1", q.scope)
	require.NotNil(t, q.def.Timeframe)
	assert.Equal(t, armcostmanagement.TimeframeTypeMonthToDate, *q.def.Timeframe)
}

func TestCurrentUsage_ResponseErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, provider.ErrAuthorization},
		{http.StatusForbidden, provider.ErrAuthorization},
		{http.StatusTooManyRequests, provider.ErrRateLimit},
		{http.StatusInternalServerError, provider.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			q := &fakeQuerier{err: &azcore.ResponseError{StatusCode: tt.status, ErrorCode: "Code"}}
			c := newTestClient(t, nil, &fakeCredential{token: "tok"}, q)

			_, err := c.CurrentUsage(context.Background())
			assert.ErrorIs(t, err, tt.want)

			var respErr *azcore.ResponseError
			assert.False(t, errors.As(err, &respErr))
		})
	}
}

func TestSumCost(t *testing.T) {
	tests := []struct {
		name    string
		result  armcostmanagement.QueryResult
		want    string
		wantErr bool
	}{
		{name: "nil properties", result: armcostmanagement.QueryResult{}, want: "0.00"},
		{
			name: "no rows",
			result: armcostmanagement.QueryResult{Properties: &armcostmanagement.QueryProperties{
				Columns: []*armcostmanagement.QueryColumn{{Name: stringPtr("Cost")}},
			}},
			want: "0.00",
		},
		{
			name: "alias column",
			result: armcostmanagement.QueryResult{Properties: &armcostmanagement.QueryProperties{
				Columns: []*armcostmanagement.QueryColumn{{Name: stringPtr("totalCost")}},
				Rows:    [][]any{{float64(3)}, {int64(2)}, {"bogus"}},
			}},
			want: "5.00",
		},
		{
			name: "missing cost column",
			result: armcostmanagement.QueryResult{Properties: &armcostmanagement.QueryProperties{
				Columns: []*armcostmanagement.QueryColumn{{Name: stringPtr("Currency")}},
				Rows:    [][]any{{"USD"}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sumCost(tt.result)
			if tt.wantErr {
				assert.ErrorIs(t, err, provider.ErrUnknown)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}
