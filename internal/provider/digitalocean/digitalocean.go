// Package digitalocean implements the DigitalOcean adapter on the public v2 REST API.
package digitalocean

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "DigitalOcean"

const defaultBaseURL = "https://api.digitalocean.com"

// Params returns the connection fields of a DigitalOcean account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("api_key", "Token", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	APIKey string
}

// Client talks to the DigitalOcean API for one account
type Client struct {
	cfg     Config
	http    *provider.HTTP
	clock   clock.Clock
	logger  *logger.Logger
	baseURL string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{APIKey: values.Get("api_key")}

	h := provider.NewHTTP(Name, deps.HTTPClient)
	h.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	return &Client{
		cfg:     cfg,
		http:    h,
		clock:   deps.Clock,
		logger:  deps.Logger.WithFields("provider", Name),
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
		Account struct {
			UUID   string `json:"uuid"`
			Status string `json:"status"`
		} `json:"account"`
	}
	if err := c.http.Do(ctx, provider.Request{URL: c.url("/v2/account")}, &out); err != nil {
		return err
	}
	if out.Account.UUID == "" {
		return provider.Unknown(Name, "account response has no uuid", nil)
	}
	return nil
}

type balanceResponse struct {
	MonthToDateUsage string `json:"month_to_date_usage"`
	AccountBalance   string `json:"account_balance"`
	GeneratedAt      string `json:"generated_at"`
}

// CurrentInvoiced implements provider.Client using the month-to-date usage
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	var out balanceResponse
	if err := c.http.Do(ctx, provider.Request{URL: c.url("/v2/customers/my/balance")}, &out); err != nil {
		return provider.BillingResponse{}, err
	}
	if out.MonthToDateUsage == "" {
		return provider.BillingResponse{}, provider.Unknown(Name, "balance response has no month_to_date_usage", nil)
	}

	total, err := provider.Decimal(Name, "month_to_date_usage", out.MonthToDateUsage)
	if err != nil {
		return provider.BillingResponse{}, err
	}

	var balance *decimal.Decimal
	if out.AccountBalance != "" {
		b, err := provider.Decimal(Name, "account_balance", out.AccountBalance)
		if err != nil {
			return provider.BillingResponse{}, err
		}
		balance = provider.DecimalPtr(b.Neg())
	}

	start, end := provider.MonthRange(c.clock.Now())
	return provider.Billing(Name, start, end, total, balance)
}

// CurrentUsage implements provider.Client. The balance endpoint is the only
// accruing figure DigitalOcean exposes, so usage equals invoiced.
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	return provider.BillingResponse{}, provider.NotSupported(Name, "invoice by month")
}

// InstanceCount implements provider.InstanceCounter
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	var out struct {
		Meta struct {
			Total *int `json:"total"`
		} `json:"meta"`
	}
	req := provider.Request{
		URL:   c.url("/v2/droplets"),
		Query: url.Values{"per_page": {"1"}},
	}
	if err := c.http.Do(ctx, req, &out); err != nil {
		return 0, err
	}
	if out.Meta.Total == nil {
		return 0, provider.Unknown(Name, "droplet listing has no meta.total", nil)
	}
	return *out.Meta.Total, nil
}

type droplet struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Tags     []string `json:"tags"`
	Networks struct {
		V4 []struct {
			IPAddress string `json:"ip_address"`
			Type      string `json:"type"`
		} `json:"v4"`
	} `json:"networks"`
	Region struct {
		Slug string `json:"slug"`
	} `json:"region"`
}

func (d droplet) toVM() provider.VirtualMachine {
	vm := provider.VirtualMachine{
		ID:       strconv.FormatInt(d.ID, 10),
		Name:     d.Name,
		State:    d.Status,
		Tags:     map[string]string{"region": d.Region.Slug},
		Provider: Name,
	}
	for _, tag := range d.Tags {
		vm.Tags[tag] = ""
	}
	for _, n := range d.Networks.V4 {
		if n.Type == "public" {
			vm.IP = n.IPAddress
			break
		}
	}
	return vm
}

// Instances implements provider.InstanceManager, following links.pages.next
func (c *Client) Instances(ctx context.Context) ([]provider.VirtualMachine, error) {
	var vms []provider.VirtualMachine
	next := c.url("/v2/droplets") + "?per_page=200"
	for next != "" {
		var page struct {
			Droplets []droplet `json:"droplets"`
			Links    struct {
				Pages struct {
					Next string `json:"next"`
				} `json:"pages"`
			} `json:"links"`
		}
		if err := c.http.Do(ctx, provider.Request{URL: next}, &page); err != nil {
			return nil, err
		}
		for _, d := range page.Droplets {
			vms = append(vms, d.toVM())
		}
		next = page.Links.Pages.Next
	}
	c.logger.Debug("Listed droplets", "count", len(vms))
	return vms, nil
}

// Instance implements provider.InstanceManager
func (c *Client) Instance(ctx context.Context, id string) (provider.VirtualMachine, error) {
	var out struct {
		Droplet *droplet `json:"droplet"`
	}
	if err := c.http.Do(ctx, provider.Request{URL: c.url("/v2/droplets/" + url.PathEscape(id))}, &out); err != nil {
		return provider.VirtualMachine{}, err
	}
	if out.Droplet == nil {
		return provider.VirtualMachine{}, provider.Unknown(Name, fmt.Sprintf("droplet %s missing from response", id), nil)
	}
	return out.Droplet.toVM(), nil
}

// DeleteInstance implements provider.InstanceManager
func (c *Client) DeleteInstance(ctx context.Context, vm provider.VirtualMachine) error {
	req := provider.Request{
		Method: http.MethodDelete,
		URL:    c.url("/v2/droplets/" + url.PathEscape(vm.ID)),
	}
	if err := c.http.Do(ctx, req, nil); err != nil {
		return err
	}
	c.logger.Info("Deleted droplet", "droplet_id", vm.ID)
	return nil
}

func (c *Client) url(path string) string {
	return provider.JoinURL(c.baseURL, path)
}
