// Package heroku implements the Heroku adapter on the Platform API v3.
package heroku

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Heroku"

const (
	defaultBaseURL = "https://api.heroku.com"
	acceptHeader   = "application/vnd.heroku+json; version=3"
)

// Params returns the connection fields of a Heroku account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("api_key", "API Key", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	APIKey string
}

// Client talks to the Heroku Platform API for one account
type Client struct {
	cfg     Config
	http    *provider.HTTP
	clock   clock.Clock
	baseURL string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{APIKey: values.Get("api_key")}

	h := provider.NewHTTP(Name, deps.HTTPClient)
	h.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	h.Header.Set("Accept", acceptHeader)

	return &Client{
		cfg:     cfg,
		http:    h,
		clock:   deps.Clock,
		baseURL: defaultBaseURL,
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return provider.DefaultCurrency
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	var out struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := c.http.Do(ctx, provider.Request{URL: c.url("/account")}, &out); err != nil {
		return err
	}
	if out.ID == "" {
		return provider.Unknown(Name, "account response has no id", nil)
	}
	return nil
}

type invoice struct {
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Total       decimal.Decimal `json:"total"`
	State       int             `json:"state"`
}

// CurrentInvoiced implements provider.Client
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	return c.Invoice(ctx, c.clock.Now())
}

// CurrentUsage implements provider.Client. Heroku bills per invoice only, so
// usage equals invoiced.
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client: the invoice whose period_start falls in
// month, with the total converted from cents.
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	var invoices []invoice
	if err := c.http.Do(ctx, provider.Request{URL: c.url("/account/invoices")}, &invoices); err != nil {
		return provider.BillingResponse{}, err
	}

	start, end := provider.MonthRange(month)
	key := start.Format("2006-01")
	for _, inv := range invoices {
		if strings.Contains(inv.PeriodStart, key) {
			return provider.Billing(Name, start, end, inv.Total.Div(decimal.NewFromInt(100)), nil)
		}
	}
	return provider.BillingResponse{}, provider.Unknown(Name, fmt.Sprintf("no invoice found for %s", key), nil)
}

// InstanceCount implements provider.InstanceCounter as the number of apps
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	var apps []struct {
		ID string `json:"id"`
	}
	if err := c.http.Do(ctx, provider.Request{URL: c.url("/apps")}, &apps); err != nil {
		return 0, err
	}
	return len(apps), nil
}

func (c *Client) url(path string) string {
	return provider.JoinURL(c.baseURL, path)
}
