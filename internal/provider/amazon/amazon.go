// Package amazon implements the Amazon Web Services adapter on aws-sdk-go-v2.
// Billing comes from Cost Explorer, instance counts from EC2 across every
// enabled region.
package amazon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Name is the registry name of the adapter
const Name = "Amazon"

// homeRegion hosts the global Cost Explorer and STS endpoints
const homeRegion = "us-east-1"

const costMetric = "BlendedCost"

var authCodes = map[string]bool{
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"AccessDeniedException":       true,
	"AccessDenied":                true,
	"SignatureDoesNotMatch":       true,
	"AuthFailure":                 true,
	"UnauthorizedOperation":       true,
}

var throttleCodes = map[string]bool{
	"ThrottlingException":      true,
	"Throttling":               true,
	"RequestLimitExceeded":     true,
	"LimitExceededException":   true,
	"TooManyRequestsException": true,
}

// Params returns the connection fields of an AWS account
func Params() []provider.ParamSpec {
	return []provider.ParamSpec{
		provider.MustParam("access_key", "Access Key", provider.ParamString),
		provider.MustParam("secret_key", "Secret Key", provider.ParamSecret),
	}
}

// Config holds the bound connection data
type Config struct {
	AccessKey string
	SecretKey string
}

type costExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput,
		optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type ec2API interface {
	ec2.DescribeInstancesAPIClient
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput,
		optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput,
		optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Client talks to AWS for one set of access keys
type Client struct {
	cfg    Config
	ce     costExplorerAPI
	sts    stsAPI
	ec2For func(region string) ec2API
	clock  clock.Clock
	logger *logger.Logger
}

// New creates a client from bound connection values
func New(values provider.Values, deps provider.Deps) (*Client, error) {
	deps = deps.WithDefaults()
	cfg := Config{
		AccessKey: values.Get("access_key"),
		SecretKey: values.Get("secret_key"),
	}

	awsConfig, err := aConfig.LoadDefaultConfig(context.Background(),
		aConfig.WithRegion(homeRegion),
		aConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		aConfig.WithHTTPClient(deps.HTTPClient))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return &Client{
		cfg: cfg,
		ce:  costexplorer.NewFromConfig(awsConfig),
		sts: sts.NewFromConfig(awsConfig),
		ec2For: func(region string) ec2API {
			return ec2.NewFromConfig(awsConfig, func(o *ec2.Options) {
				o.Region = region
			})
		},
		clock:  deps.Clock,
		logger: deps.Logger.WithFields("provider", Name),
	}, nil
}

// Currency implements provider.Client
func (c *Client) Currency() string {
	return provider.DefaultCurrency
}

// classify maps SDK failures onto the error taxonomy
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := fmt.Sprintf("%s: %s", op, code)
		cause := errors.New(apiErr.ErrorMessage())
		switch {
		case authCodes[code]:
			return provider.Authorization(Name, msg, cause)
		case throttleCodes[code]:
			return provider.RateLimit(Name, msg, cause)
		}
		return provider.Unknown(Name, msg, cause)
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatusCode() {
		case http.StatusUnauthorized:
			return provider.Authorization(Name, op, err)
		case http.StatusTooManyRequests:
			return provider.RateLimit(Name, op, err)
		}
	}
	return provider.Unknown(Name, op, err)
}

// ValidateAccount implements provider.Client
func (c *Client) ValidateAccount(ctx context.Context) error {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return classify("GetCallerIdentity", err)
	}
	c.logger.Debug("Validated account", "aws_account", aws.ToString(out.Account))
	return nil
}

// CurrentInvoiced implements provider.Client
func (c *Client) CurrentInvoiced(ctx context.Context) (provider.BillingResponse, error) {
	return c.Invoice(ctx, c.clock.Now())
}

// CurrentUsage implements provider.Client. Cost Explorer already reports the
// accruing month, so usage equals invoiced.
func (c *Client) CurrentUsage(ctx context.Context) (provider.BillingResponse, error) {
	return c.CurrentInvoiced(ctx)
}

// Invoice implements provider.Client with the monthly blended cost of month
func (c *Client) Invoice(ctx context.Context, month time.Time) (provider.BillingResponse, error) {
	start, end := provider.MonthRange(month)

	out, err := c.ce.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(end.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{costMetric},
	})
	if err != nil {
		return provider.BillingResponse{}, classify("GetCostAndUsage", err)
	}
	if len(out.ResultsByTime) == 0 {
		return provider.BillingResponse{}, provider.Unknown(Name, "cost explorer returned no results", nil)
	}
	metric, ok := out.ResultsByTime[0].Total[costMetric]
	if !ok || metric.Amount == nil {
		return provider.BillingResponse{}, provider.Unknown(Name, "cost explorer result has no "+costMetric, nil)
	}

	total, err := provider.Decimal(Name, costMetric, aws.ToString(metric.Amount))
	if err != nil {
		return provider.BillingResponse{}, err
	}
	return provider.Billing(Name, start, end, total, nil)
}
