// Package ovh implements the OVHcloud adapter on top of the signed API client
// from github.com/ovh/go-ovh.
package ovh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	goovh "github.com/ovh/go-ovh/ovh"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "OVH"

var currencies = map[string]string{
	"ovh-eu": "EUR",
	"ovh-ca": "CAD",
	"ovh-us": "USD",
}

// Params returns the connection fields of an OVH account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("endpoint", "Endpoint", provider.ParamChoice, "ovh-eu", "ovh-ca", "ovh-us"),
		provider.MustParam("app_key", "App Key", provider.ParamString),
		provider.MustParam("app_secret", "App Secret", provider.ParamSecret),
		provider.MustParam("consumer_key", "Consumer Key", provider.ParamString),
	}
}

// Config holds the bound connection data
type Config struct {
	Endpoint    string
	AppKey      string
	AppSecret   string
	ConsumerKey string
}

// api is the subset of *goovh.Client used by the adapter
type api interface {
	GetWithContext(ctx context.Context, url string, resType any) error
}

// Client talks to the OVH API for one account
type Client struct {
	cfg    Config
	api    api
	clock  clock.Clock
	logger *logger.Logger
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{
		Endpoint:    values.Get("endpoint"),
		AppKey:      values.Get("app_key"),
		AppSecret:   values.Get("app_secret"),
		ConsumerKey: values.Get("consumer_key"),
	}

	sdk, err := goovh.NewClient(cfg.Endpoint, cfg.AppKey, cfg.AppSecret, cfg.ConsumerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ovh client: %w", err)
	}
	sdk.Client = deps.HTTPClient

	return newClient(cfg, sdk, deps), nil
}

func newClient(cfg Config, a api, deps provider.Deps) *Client {
	deps = deps.WithDefaults()
	return &Client{
		cfg:    cfg,
		api:    a,
		clock:  deps.Clock,
		logger: deps.Logger.WithFields("provider", Name, "endpoint", cfg.Endpoint),
	}
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	if cur, ok := currencies[c.cfg.Endpoint]; ok {
		return cur
	}
	return provider.DefaultCurrency
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.api.GetWithContext(ctx, path, out); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps go-ovh failures onto the error taxonomy
func classify(err error) error {
	var apiErr *goovh.APIError
	if !errors.As(err, &apiErr) {
		return provider.Unknown(Name, "request failed", err)
	}
	msg := fmt.Sprintf("%s (%d)", apiErr.Class, apiErr.Code)
	cause := errors.New(apiErr.Message)
	switch apiErr.Code {
	// unknown or expired consumer keys come back as 403
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.Authorization(Name, msg, cause)
	case http.StatusTooManyRequests:
		return provider.RateLimit(Name, msg, cause)
	default:
		return provider.Unknown(Name, msg, cause)
	}
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	var me struct {
		Nichandle string `json:"nichandle"`
	}
	if err := c.get(ctx, "/me", &me); err != nil {
		return err
	}
	if me.Nichandle == "" {
		return provider.Unknown(Name, "/me has no nichandle", nil)
	}
	return nil
}

type bill struct {
	BillID       string    `json:"billId"`
	Date         time.Time `json:"date"`
	PriceWithTax struct {
		Value        decimal.Decimal `json:"value"`
		CurrencyCode string          `json:"currencyCode"`
	} `json:"priceWithTax"`
}

func (c *Client) bills(ctx context.Context, path string) ([]bill, error) {
	var ids []string
	if err := c.get(ctx, path, &ids); err != nil {
		return nil, err
	}
	bills := make([]bill, 0, len(ids))
	for _, id := range ids {
		var b bill
		if err := c.get(ctx, "/me/bill/"+url.PathEscape(id), &b); err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, nil
}

// CurrentInvoiced implements provider.Client with the most recent bill
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	bills, err := c.bills(ctx, "/me/bill")
	if err != nil {
		return provider.BillingResponse{}, err
	}

	var latest *bill
	for i := range bills {
		if latest == nil || bills[i].Date.After(latest.Date) {
			latest = &bills[i]
		}
	}
	if latest == nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "no bill found", nil)
	}
	c.logger.Debug("Latest bill", "bill_id", latest.BillID, "date", latest.Date)

	start, end := provider.MonthRange(c.clock.Now())
	return provider.Billing(Name, start, end, latest.PriceWithTax.Value, nil)
}

// CurrentUsage implements provider.Client with the consumption forecast of the
// running month
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	var forecast []struct {
		Price struct {
			Value decimal.Decimal `json:"value"`
		} `json:"price"`
	}
	if err := c.get(ctx, "/me/consumption/usage/forecast", &forecast); err != nil {
		return provider.BillingResponse{}, err
	}

	total := decimal.Zero
	for _, f := range forecast {
		total = total.Add(f.Price.Value)
	}
	start, end := provider.MonthRange(c.clock.Now())
	return provider.Billing(Name, start, end, total, nil)
}

// Invoice implements provider.Client by summing the bills dated within month
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	start, end := provider.MonthRange(month)
	q := url.Values{
		"date.from": {start.Format("2006-01-02")},
		"date.to":   {end.Format("2006-01-02")},
	}
	bills, err := c.bills(ctx, "/me/bill?"+q.Encode())
	if err != nil {
		return provider.BillingResponse{}, err
	}

	total := decimal.Zero
	for _, b := range bills {
		if !b.Date.Before(start) && b.Date.Before(end) {
			total = total.Add(b.PriceWithTax.Value)
		}
	}
	return provider.Billing(Name, start, end, total, nil)
}

// InstanceCount implements provider.InstanceCounter across every public cloud project
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	var projects []string
	if err := c.get(ctx, "/cloud/project", &projects); err != nil {
		return 0, err
	}

	total := 0
	for _, p := range projects {
		var instances []struct {
			ID string `json:"id"`
		}
		if err := c.get(ctx, "/cloud/project/"+url.PathEscape(p)+"/instance", &instances); err != nil {
			return 0, err
		}
		total += len(instances)
	}
	return total, nil
}
