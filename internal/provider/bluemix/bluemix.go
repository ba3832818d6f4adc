// Package bluemix implements the IBM Bluemix adapter. Billing comes from the
// SoftLayer account API, instance counts from the Cloud Foundry regions
// reachable with an IBM Cloud IAM api key.
package bluemix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Bluemix"

const (
	defaultSoftlayerURL = "https://api.softlayer.com/rest/v3.1"
	defaultIAMURL       = "https://iam.cloud.ibm.com"
	defaultRegionsURL   = "https://mccp.us-south.cf.cloud.ibm.com/v2/regions"

	// paasFilter keeps only billing items whose category starts with paas
	paasFilter = "^=paas"
)

// Params returns the connection fields of a Bluemix account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("account_name", "Account Number", provider.ParamString),
		provider.MustParam("sl_apikey", "SL API Key", provider.ParamSecret),
		provider.MustParam("ibm_apikey", "Bluemix API Key", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	AccountName string
	// SoftlayerKey authenticates the SoftLayer billing API together with AccountName
	SoftlayerKey string
	// IBMKey is the IBM Cloud IAM api key
	IBMKey string
}

// Client talks to SoftLayer, IBM Cloud IAM and Cloud Foundry for one account
type Client struct {
	cfg    Config
	http   *provider.HTTP
	clock  clock.Clock
	logger *logger.Logger

	softlayerURL string
	iamURL       string
	regionsURL   string
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	return &Client{
		cfg: Config{
			AccountName:  values.Get("account_name"),
			SoftlayerKey: values.Get("sl_apikey"),
			IBMKey:       values.Get("ibm_apikey"),
		},
		http:         provider.NewHTTP(Name, deps.HTTPClient),
		clock:        deps.Clock,
		logger:       deps.Logger.WithFields("provider", Name),
		softlayerURL: defaultSoftlayerURL,
		iamURL:       defaultIAMURL,
		regionsURL:   defaultRegionsURL,
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return provider.DefaultCurrency
}

func (c *Client) softlayer(ctx context.Context, path string, q url.Values, out any) error {
	return c.softlayerWith(ctx, c.http, path, q, out)
}

func (c *Client) softlayerWith(ctx context.Context, h *provider.HTTP, path string, q url.Values, out any) error {
	return h.Do(ctx, provider.Request{
		URL:      provider.JoinURL(c.softlayerURL, path),
		Query:    q,
		Username: c.cfg.AccountName,
		Password: c.cfg.SoftlayerKey,
	}, out)
}

// ValidateAccount implements provider.Client. Both the SoftLayer key and the
// IAM key must be accepted.
func (c *Client) ValidateAccount(ctx context.Context) error {
	var user struct {
		ID int64 `json:"id"`
	}
	h := *c.http
	h.Classify = authClassifier("softlayer key")
	if err := c.softlayerWith(ctx, &h, "/SoftLayer_Account/getCurrentUser.json", nil, &user); err != nil {
		return err
	}
	_, err := c.login(ctx)
	return err
}

type billingItem struct {
	ID             int64           `json:"id"`
	CategoryCode   string          `json:"categoryCode"`
	RecurringFee   decimal.Decimal `json:"recurringFee"`
	CycleStartDate string          `json:"cycleStartDate"`
	NextBillDate   string          `json:"nextBillDate"`
}

func categoryFilter(root string) (string, error) {
	b, err := json.Marshal(map[string]any{
		root: map[string]any{
			"categoryCode": map[string]string{"operation": paasFilter},
		},
	})
	return string(b), err
}

// sumItems adds the recurring fee of every item and of its non-zero children
func (c *Client) sumItems(ctx context.Context, items []billingItem, childPath string) (decimal.Decimal, error) {
	total := decimal.Zero
	childMask := url.Values{"objectMask": {"mask[recurringFee]"}}
	for _, item := range items {
		total = total.Add(item.RecurringFee)

		var children []billingItem
		if err := c.softlayer(ctx, fmt.Sprintf(childPath, item.ID), childMask, &children); err != nil {
			return decimal.Zero, err
		}
		for _, child := range children {
			total = total.Add(child.RecurringFee)
		}
	}
	return total, nil
}

// CurrentInvoiced implements provider.Client with the latest recurring
// invoice. Its period is the month preceding the invoice creation date.
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	var inv *struct {
		ID         int64  `json:"id"`
		CreateDate string `json:"createDate"`
	}
	if err := c.softlayer(ctx, "/SoftLayer_Account/getLatestRecurringInvoice.json", nil, &inv); err != nil {
		return provider.BillingResponse{}, err
	}
	if inv == nil || inv.ID == 0 {
		return provider.BillingResponse{}, provider.Unknown(Name, "no previous invoice found", nil)
	}
	end, err := provider.ParseTime(inv.CreateDate)
	if err != nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "invalid invoice createDate", err)
	}

	filter, err := categoryFilter("invoiceTopLevelItems")
	if err != nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "could not build object filter", err)
	}
	q := url.Values{
		"objectMask":   {"mask[id,categoryCode,recurringFee,billingItemId]"},
		"objectFilter": {filter},
	}
	var items []billingItem
	if err := c.softlayer(ctx, fmt.Sprintf("/SoftLayer_Billing_Invoice/%d/getInvoiceTopLevelItems.json", inv.ID), q, &items); err != nil {
		return provider.BillingResponse{}, err
	}

	total, err := c.sumItems(ctx, items, "/SoftLayer_Billing_Invoice_Item/%d/getNonZeroAssociatedChildren.json")
	if err != nil {
		return provider.BillingResponse{}, err
	}
	return provider.Billing(Name, end.AddDate(0, -1, 0), end, total, nil)
}

// CurrentUsage implements provider.Client with the items of the next,
// still-open invoice
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	filter, err := categoryFilter("nextInvoiceTopLevelBillingItems")
	if err != nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "could not build object filter", err)
	}
	q := url.Values{
		"objectMask":   {"mask[id,categoryCode,recurringFee,cycleStartDate,nextBillDate]"},
		"objectFilter": {filter},
	}
	var items []billingItem
	if err := c.softlayer(ctx, "/SoftLayer_Account/getNextInvoiceTopLevelBillingItems.json", q, &items); err != nil {
		return provider.BillingResponse{}, err
	}

	start, end := provider.MonthRange(c.clock.Now())
	if len(items) > 0 {
		if start, err = provider.ParseTime(items[0].CycleStartDate); err != nil {
			return provider.BillingResponse{}, provider.Unknown(Name, "invalid cycleStartDate", err)
		}
		if end, err = provider.ParseTime(items[0].NextBillDate); err != nil {
			return provider.BillingResponse{}, provider.Unknown(Name, "invalid nextBillDate", err)
		}
	}

	total, err := c.sumItems(ctx, items, "/SoftLayer_Billing_Item/%d/getNonZeroNextInvoiceChildren.json")
	if err != nil {
		return provider.BillingResponse{}, err
	}
	return provider.Billing(Name, start, end, total, nil)
}

// Invoice implements provider.Client
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	return provider.BillingResponse{}, provider.NotSupported(Name, "invoice by month")
}

// authClassifier treats every 4xx from a login endpoint as rejected credentials
func authClassifier(stage string) func(int, []byte) error {
	return func(status int, body []byte) error {
		if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusTooManyRequests {
			return provider.Authorization(Name, stage+" rejected", fmt.Errorf("status %d: %s", status, body))
		}
		return provider.FromStatus(Name, status, body)
	}
}
