// Package rackspace implements the Rackspace adapter. Every operation starts
// with an identity token exchange; the service catalog it returns also
// locates the regional Cloud Servers endpoints.
package rackspace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Rackspace"

const (
	defaultIdentityURL = "https://identity.api.rackspacecloud.com"
	defaultBillingURL  = "https://billing.api.rackspacecloud.com"
	serversService     = "cloudServersOpenStack"
)

// Params returns the connection fields of a Rackspace account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("username", "Username", provider.ParamString),
		provider.MustParam("ran", "Account Number", provider.ParamString),
		provider.MustParam("api_key", "API Key", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	Username string
	// RAN is the Rackspace account number
	RAN    string
	APIKey string
}

// Client talks to the Rackspace identity, billing and servers APIs for one account
type Client struct {
	cfg         Config
	http        *provider.HTTP
	identityURL string
	billingURL  string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	return &Client{
		cfg: Config{
			Username: values.Get("username"),
			RAN:      values.Get("ran"),
			APIKey:   values.Get("api_key"),
		},
		http:        provider.NewHTTP(Name, deps.HTTPClient),
		identityURL: defaultIdentityURL,
		billingURL:  defaultBillingURL,
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return provider.DefaultCurrency
}

type endpoint struct {
	Region    string `json:"region"`
	PublicURL string `json:"publicURL"`
}

type session struct {
	token   string
	servers []endpoint
}

func (c *Client) authenticate(ctx context.Context) (session, error) {
	body := map[string]any{
		"auth": map[string]any{
			"RAX-KSKEY:apiKeyCredentials": map[string]string{
				"username": c.cfg.Username,
				"apiKey":   c.cfg.APIKey,
			},
		},
	}
	var out struct {
		Access struct {
			Token struct {
				ID string `json:"id"`
			} `json:"token"`
			ServiceCatalog []struct {
				Name      string     `json:"name"`
				Endpoints []endpoint `json:"endpoints"`
			} `json:"serviceCatalog"`
		} `json:"access"`
	}
	req := provider.Request{
		Method: http.MethodPost,
		URL:    provider.JoinURL(c.identityURL, "/v2.0/tokens"),
		JSON:   body,
	}
	if err := c.http.Do(ctx, req, &out); err != nil {
		return session{}, err
	}
	if out.Access.Token.ID == "" {
		return session{}, provider.Unknown(Name, "token response has no access.token.id", nil)
	}

	s := session{token: out.Access.Token.ID}
	for _, svc := range out.Access.ServiceCatalog {
		if svc.Name == serversService {
			s.servers = append(s.servers, svc.Endpoints...)
		}
	}
	return s, nil
}

func (s session) header() http.Header {
	return http.Header{"X-Auth-Token": {s.token}}
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	_, err := c.authenticate(ctx)
	return err
}

// CurrentInvoiced implements provider.Client with the estimated charges of the
// running billing period
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	s, err := c.authenticate(ctx)
	if err != nil {
		return provider.BillingResponse{}, err
	}

	var out struct {
		EstimatedCharges *struct {
			ChargeTotal                   decimal.Decimal `json:"chargeTotal"`
			CurrentBillingPeriodStartDate string          `json:"currentBillingPeriodStartDate"`
			CurrentBillingPeriodEndDate   string          `json:"currentBillingPeriodEndDate"`
		} `json:"estimatedCharges"`
	}
	req := provider.Request{
		URL:    provider.JoinURL(c.billingURL, fmt.Sprintf("/v2/accounts/%s/estimated_charges", url.PathEscape(c.cfg.RAN))),
		Header: s.header(),
	}
	if err := c.http.Do(ctx, req, &out); err != nil {
		return provider.BillingResponse{}, err
	}
	ec := out.EstimatedCharges
	if ec == nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "response has no estimatedCharges", nil)
	}

	start, err := provider.ParseTime(ec.CurrentBillingPeriodStartDate)
	if err != nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "invalid billing period start", err)
	}
	end, err := provider.ParseTime(ec.CurrentBillingPeriodEndDate)
	if err != nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "invalid billing period end", err)
	}
	return provider.Billing(Name, start, end, ec.ChargeTotal, nil)
}

// CurrentUsage implements provider.Client. Estimated charges are the only
// figure available mid-period, so usage equals invoiced.
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	return provider.BillingResponse{}, provider.NotSupported(Name, "invoice by month")
}

// InstanceCount implements provider.InstanceCounter by summing the servers of
// every region in the service catalog
func (c *Client) InstanceCount(ctx context.Context) (int, error) {
	s, err := c.authenticate(ctx)
	if err != nil {
		return 0, err
	}

	counts := make([]int, len(s.servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range s.servers {
		g.Go(func() error {
			var out struct {
				Servers []struct {
					ID string `json:"id"`
				} `json:"servers"`
			}
			req := provider.Request{URL: provider.JoinURL(ep.PublicURL, "/servers"), Header: s.header()}
			if err := c.http.Do(gctx, req, &out); err != nil {
				return err
			}
			counts[i] = len(out.Servers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}
