// Package nexmo implements the Nexmo (Vonage) SIP adapter. Nexmo is a prepaid
// service: the billing total is always zero and the account balance is reported.
package nexmo

import (
	"context"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Nexmo"

const (
	defaultBaseURL = "https://rest.nexmo.com"
	currency       = "EUR"
)

// Params returns the connection fields of a Nexmo account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("api_key", "API Key", provider.ParamSecret),
		provider.MustParam("api_secret", "API Secret", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	APIKey    string
	APISecret string
}

// Client talks to the Nexmo REST API for one account
type Client struct {
	cfg     Config
	http    *provider.HTTP
	clock   clock.Clock
	baseURL string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	return &Client{
		cfg: Config{
			APIKey:    values.Get("api_key"),
			APISecret: values.Get("api_secret"),
		},
		http:    provider.NewHTTP(Name, deps.HTTPClient),
		clock:   deps.Clock,
		baseURL: defaultBaseURL,
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return currency
}

func (c *Client) balance(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Value *decimal.Decimal `json:"value"`
	}
	req := provider.Request{
		URL: provider.JoinURL(c.baseURL, "/account/get-balance"),
		Query: url.Values{
			"api_key":    {c.cfg.APIKey},
			"api_secret": {c.cfg.APISecret},
		},
	}
	if err := c.http.Do(ctx, req, &out); err != nil {
		return decimal.Zero, err
	}
	if out.Value == nil {
		return decimal.Zero, provider.Unknown(Name, "balance response has no value", nil)
	}
	return *out.Value, nil
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	_, err := c.balance(ctx)
	return err
}

// CurrentInvoiced implements provider.Client
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	b, err := c.balance(ctx)
	if err != nil {
		return provider.BillingResponse{}, err
	}
	start, end := provider.MonthRange(c.clock.Now())
	return provider.Billing(Name, start, end, decimal.Zero, &b)
}

// CurrentUsage implements provider.Client
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	return provider.BillingResponse{}, provider.NotSupported(Name, "invoice by month")
}
