// Package azure implements the Azure adapter. Credentials are a service
// principal (client id and secret) scoped to one subscription.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Azure"

const (
	defaultManagementURL = "https://management.azure.com"
	managementScope      = "https://management.azure.com/.default"
	consumptionVersion   = "2021-10-01"
)

// Params returns the connection fields of an Azure account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("subscription_id", "Subscription ID", provider.ParamString),
		provider.MustParam("tenant_id", "Tenant ID", provider.ParamString),
		provider.MustParam("client_id", "Client ID", provider.ParamString),
		provider.MustParam("client_secret", "Client Secret", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	SubscriptionID string
	TenantID       string
	ClientID       string
	ClientSecret   string
}

// costQuerier is the subset of *armcostmanagement.QueryClient used by the adapter
type costQuerier interface {
	Usage(ctx context.Context, scope string, parameters armcostmanagement.QueryDefinition,
		options *armcostmanagement.QueryClientUsageOptions) (armcostmanagement.QueryClientUsageResponse, error)
}

// Client talks to the Azure management plane for one subscription
type Client struct {
	cfg           Config
	cred          azcore.TokenCredential
	query         costQuerier
	http          *provider.HTTP
	clock         clock.Clock
	logger        *logger.Logger
	managementURL string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{
		SubscriptionID: values.Get("subscription_id"),
		TenantID:       values.Get("tenant_id"),
		ClientID:       values.Get("client_id"),
		ClientSecret:   values.Get("client_secret"),
	}

	clientOpts := azcore.ClientOptions{Transport: deps.HTTPClient}
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: clientOpts})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	query, err := armcostmanagement.NewQueryClient(cred, &arm.ClientOptions{ClientOptions: clientOpts})
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client: %w", err)
	}

	return &Client{
		cfg:           cfg,
		cred:          cred,
		query:         query,
		http:          provider.NewHTTP(Name, deps.HTTPClient),
		clock:         deps.Clock,
		logger:        deps.Logger.WithFields("provider", Name, "subscription_id", cfg.SubscriptionID),
		managementURL: defaultManagementURL,
	}, nil
}

// Currency implements provider.Client. Consumption figures are read in USD.
func (c *Client) Currency() string {
	return provider.DefaultCurrency
}

// token acquires a fresh management-plane token
func (c *Client) token(ctx context.Context) (string, error) {
	tok, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
	if err != nil {
		return "", classify(err)
	}
	return tok.Token, nil
}

// classify maps azidentity and azcore failures onto the error taxonomy
func classify(err error) error {
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return provider.Authorization(Name, "service principal rejected", err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		msg := fmt.Sprintf("%s (%d)", respErr.ErrorCode, respErr.StatusCode)
		switch respErr.StatusCode {
		// ARM answers 403 AuthorizationFailed when the principal lacks a cost role
		case http.StatusUnauthorized, http.StatusForbidden:
			return provider.Authorization(Name, msg, err)
		case http.StatusTooManyRequests:
			return provider.RateLimit(Name, msg, err)
		}
		return provider.Unknown(Name, msg, err)
	}
	return provider.Unknown(Name, "request failed", err)
}

// ValidateAccount implements provider.Client: the credential must yield a token
func (c *Client) ValidateAccount(ctx context.Context) error {
	_, err := c.token(ctx)
	return err
}

type usageDetailsPage struct {
	Value []struct {
		Properties struct {
			PaygCostInUSD          decimal.Decimal `json:"paygCostInUSD"`
			ServicePeriodStartDate string          `json:"servicePeriodStartDate"`
			ServicePeriodEndDate   string          `json:"servicePeriodEndDate"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

// CurrentInvoiced implements provider.Client by summing the consumption usage
// details of the current billing period
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return provider.BillingResponse{}, err
	}
	header := http.Header{"Authorization": {"Bearer " + tok}}

	q := url.Values{
		"api-version": {consumptionVersion},
		"$expand":     {"properties/meterDetails"},
	}
	next := provider.JoinURL(c.managementURL,
		fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Consumption/usageDetails", url.PathEscape(c.cfg.SubscriptionID))) +
		"?" + q.Encode()

	total := decimal.Zero
	var start, end time.Time
	pages := 0
	for next != "" {
		var page usageDetailsPage
		if err := c.http.Do(ctx, provider.Request{URL: next, Header: header}, &page); err != nil {
			return provider.BillingResponse{}, err
		}
		pages++
		for _, v := range page.Value {
			total = total.Add(v.Properties.PaygCostInUSD)
		}
		if start.IsZero() && len(page.Value) > 0 {
			p := page.Value[0].Properties
			if start, err = provider.ParseTime(p.ServicePeriodStartDate); err != nil {
				return provider.BillingResponse{}, provider.Unknown(Name, "invalid servicePeriodStartDate", err)
			}
			if end, err = provider.ParseTime(p.ServicePeriodEndDate); err != nil {
				return provider.BillingResponse{}, provider.Unknown(Name, "invalid servicePeriodEndDate", err)
			}
		}
		next = page.NextLink
	}
	c.logger.Debug("Read usage details", "pages", pages)

	if start.IsZero() {
		start, end = provider.MonthRange(c.clock.Now())
	}
	return provider.Billing(Name, start, end, total, nil)
}

// CurrentUsage implements provider.Client with a month-to-date actual cost
// query against Cost Management
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	queryType := armcostmanagement.ExportTypeActualCost
	timeframe := armcostmanagement.TimeframeTypeMonthToDate
	queryDef := armcostmanagement.QueryDefinition{
		Type:      &queryType,
		Timeframe: &timeframe,
		Dataset: &armcostmanagement.QueryDataset{
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {
					Name:     stringPtr("Cost"),
					Function: functionPtr(armcostmanagement.FunctionTypeSum),
				},
			},
		},
	}

	scope := fmt.Sprintf("/subscriptions/%s", c.cfg.SubscriptionID)
	resp, err := c.query.Usage(ctx, scope, queryDef, nil)
	if err != nil {
		return provider.BillingResponse{}, classify(err)
	}

	total, err := sumCost(resp.QueryResult)
	if err != nil {
		return provider.BillingResponse{}, err
	}
	start, end := provider.MonthRange(c.clock.Now())
	return provider.Billing(Name, start, end, total, nil)
}

// Invoice implements provider.Client
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	return provider.BillingResponse{}, provider.NotSupported(Name, "invoice by month")
}
