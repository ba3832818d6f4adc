// Package cloudsigma implements the CloudSigma adapter on the 2.0 REST API.
package cloudsigma

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "CloudSigma"

// Locations are the CloudSigma regions an account can live in
var Locations = []string{
	"crk", "dub", "fra", "gva", "hnl", "lla", "mel", "mnl",
	"mnl2", "per", "ruh", "sjc", "tyo", "wdc", "zrh",
}

// Params returns the connection fields of a CloudSigma account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("username", "Username", provider.ParamString),
		provider.MustParam("password", "Password", provider.ParamSecret),
		provider.MustParam("endpoint", "Endpoint", provider.ParamChoice, Locations...).AsReadOnly(),
	}
}

// Config holds the bound connection data
type Config struct {
	Username string
	Password string
	Endpoint string
}

// Client talks to one CloudSigma location for one account
type Client struct {
	cfg     Config
	http    *provider.HTTP
	clock   clock.Clock
	baseURL string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{
		Username: values.Get("username"),
		Password: values.Get("password"),
		Endpoint: values.Get("endpoint"),
	}
	return &Client{
		cfg:     cfg,
		http:    provider.NewHTTP(Name, deps.HTTPClient),
		clock:   deps.Clock,
		baseURL: fmt.Sprintf("https://%s.cloudsigma.com/api/2.0", cfg.Endpoint),
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return provider.DefaultCurrency
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.http.Do(ctx, provider.Request{
		URL:      provider.JoinURL(c.baseURL, path) + "/",
		Query:    q,
		Username: c.cfg.Username,
		Password: c.cfg.Password,
	}, out)
}

func (c *Client) balance(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Balance  decimal.NullDecimal `json:"balance"`
		Currency string              `json:"currency"`
	}
	if err := c.get(ctx, "/balance", nil, &out); err != nil {
		return decimal.Zero, err
	}
	if !out.Balance.Valid {
		return decimal.Zero, provider.Unknown(Name, "balance response has no balance", nil)
	}
	return out.Balance.Decimal, nil
}

type ledgerPage struct {
	Meta struct {
		TotalCount int `json:"total_count"`
	} `json:"meta"`
	Objects []struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	} `json:"objects"`
}

// charges sums the positive ledger amounts of [start, end). Negative entries
// are top-ups of the balance. The first request only asks for the count.
func (c *Client) charges(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	q := url.Values{
		"time__gt": {start.Format("2006-01-02")},
		"time__lt": {end.Format("2006-01-02")},
		"limit":    {"0"},
	}
	var head ledgerPage
	if err := c.get(ctx, "/ledger", q, &head); err != nil {
		return decimal.Zero, err
	}
	if head.Meta.TotalCount == 0 {
		return decimal.Zero, nil
	}

	q.Set("limit", strconv.Itoa(head.Meta.TotalCount))
	var page ledgerPage
	if err := c.get(ctx, "/ledger", q, &page); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, o := range page.Objects {
		if o.Amount.IsPositive() {
			total = total.Add(o.Amount)
		}
	}
	return total, nil
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	_, err := c.balance(ctx)
	return err
}

// CurrentInvoiced implements provider.Client
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	return c.Invoice(ctx, c.clock.Now())
}

// CurrentUsage implements provider.Client. Ledger entries are booked as they
// accrue so usage equals invoiced.
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	start, end := provider.MonthRange(month)

	balance, err := c.balance(ctx)
	if err != nil {
		return provider.BillingResponse{}, err
	}
	total, err := c.charges(ctx, start, end)
	if err != nil {
		return provider.BillingResponse{}, err
	}
	return provider.Billing(Name, start, end, total, &balance)
}

// InstanceCount implements provider.InstanceCounter
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	var out ledgerPage
	if err := c.get(ctx, "/servers", url.Values{"limit": {"0"}}, &out); err != nil {
		return 0, err
	}
	return out.Meta.TotalCount, nil
}
