// Package jelastic implements the adapter for Jelastic PaaS hosters. Every
// hoster runs the same platform API behind its own endpoint and currency.
package jelastic

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Jelastic"

// appID is the platform-wide application id accepted by every hoster
const appID = "1dd8d191d38fff45e62564fcf67fdcd6"

// resultInvalidSession is the platform result code for a rejected session
const resultInvalidSession = 702

const timeLayout = "2006-01-02 00:00:00"

// Endpoint is one Jelastic hoster
type Endpoint struct {
	URL      string
	Currency string
}

// Endpoints lists the supported hosters keyed by label
var Endpoints = map[string]Endpoint{
	"Layershift":  {URL: "https://app.j.layershift.co.uk", Currency: "GBP"},
	"Eapps":       {URL: "https://app.jelastic.eapps.com", Currency: "USD"},
	"Cloudsigma":  {URL: "https://app.env2.paas.ruh.cloudsigma.com", Currency: "USD"},
	"Mamazala":    {URL: "https://app.pass.mamazala.com", Currency: "USD"},
	"Mirhosting":  {URL: "https://app.mircloud.host", Currency: "EUR"},
	"Togglebox":   {URL: "https://app.togglebox.cloud", Currency: "USD"},
	"Cloudjiffy":  {URL: "https://app.cloudjiffy.com", Currency: "USD"},
	"Massivegrid": {URL: "https://app.paas.massivegrid.com", Currency: "USD"},
}

func endpointLabels() []string {
	labels := make([]string, 0, len(Endpoints))
	for k := range Endpoints {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// Params returns the connection fields of a Jelastic account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("endpoint", "Endpoint", provider.ParamChoice, endpointLabels()...).AsReadOnly(),
		provider.MustParam("api_key", "API Key", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	Endpoint string
	APIKey   string
}

// Client talks to one Jelastic hoster for one account
type Client struct {
	cfg      Config
	endpoint Endpoint
	http     *provider.HTTP
	clock    clock.Clock
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{
		Endpoint: values.Get("endpoint"),
		APIKey:   values.Get("api_key"),
	}
	ep, ok := Endpoints[cfg.Endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown jelastic endpoint %q", cfg.Endpoint)
	}
	return &Client{
		cfg:      cfg,
		endpoint: ep,
		http:     provider.NewHTTP(Name, deps.HTTPClient),
		clock:    deps.Clock,
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return c.endpoint.Currency
}

// envelope is the status part every platform response carries. The platform
// answers 200 even on failure.
type envelope struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

func (e envelope) err() error {
	switch e.Result {
	case 0:
		return nil
	case resultInvalidSession:
		return provider.Authorization(Name, "session rejected", fmt.Errorf("result %d: %s", e.Result, e.Error))
	default:
		return provider.Unknown(Name, fmt.Sprintf("result %d", e.Result), fmt.Errorf("%s", e.Error))
	}
}

func (c *Client) call(ctx context.Context, path string, extra url.Values, out any, env *envelope) error {
	q := url.Values{
		"appid":   {appID},
		"session": {c.cfg.APIKey},
	}
	for k, vs := range extra {
		q[k] = vs
	}
	if err := c.http.Do(ctx, provider.Request{URL: provider.JoinURL(c.endpoint.URL, path), Query: q}, out); err != nil {
		return err
	}
	return env.err()
}

type accountResponse struct {
	envelope
	Balance *decimal.Decimal `json:"balance"`
}

func (c *Client) account(ctx context.Context) (accountResponse, error) {
	var out accountResponse
	if err := c.call(ctx, "/1.0/billing/account/rest/getaccount", nil, &out, &out.envelope); err != nil {
		return accountResponse{}, err
	}
	return out, nil
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	_, err := c.account(ctx)
	return err
}

// CurrentInvoiced implements provider.Client
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	return c.Invoice(ctx, c.clock.Now())
}

// CurrentUsage implements provider.Client. The billing history is already
// accruing so usage equals invoiced.
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client by summing the billing history of month
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	start, end := provider.MonthRange(month)

	var history struct {
		envelope
		Array []struct {
			Cost decimal.Decimal `json:"cost"`
		} `json:"array"`
	}
	q := url.Values{
		"starttime": {start.Format(timeLayout)},
		"endtime":   {end.Format(timeLayout)},
		"period":    {"MONTH"},
	}
	if err := c.call(ctx, "/1.0/billing/account/rest/getaccountbillinghistorybyperiod", q, &history, &history.envelope); err != nil {
		return provider.BillingResponse{}, err
	}

	total := decimal.Zero
	for _, item := range history.Array {
		total = total.Add(item.Cost)
	}

	acct, err := c.account(ctx)
	if err != nil {
		return provider.BillingResponse{}, err
	}
	return provider.Billing(Name, start, end, total, acct.Balance)
}

// InstanceCount implements provider.InstanceCounter as the number of environments
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	var out struct {
		envelope
		Infos []struct {
			Env struct {
				EnvName string `json:"envName"`
			} `json:"env"`
		} `json:"infos"`
	}
	if err := c.call(ctx, "/1.0/environment/control/rest/getenvs", nil, &out, &out.envelope); err != nil {
		return 0, err
	}
	return len(out.Infos), nil
}
