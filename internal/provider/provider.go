package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/zgpcy/cloudspend/internal/clock"
	"github.com/zgpcy/cloudspend/internal/logger"
)

// Kind is the category of a cloud provider
type Kind string

// Supported provider categories
const (
	KindIAAS Kind = "IAAS"
	KindPAAS Kind = "PAAS"
	KindSIP  Kind = "SIP"
)

// DefaultCurrency is reported by adapters whose billing API is not currency-bound
const DefaultCurrency = "USD"

// Client is the capability contract every provider adapter implements
type Client interface {
	// Currency returns the 3-letter currency code billing figures are expressed in
	Currency() string

	// ValidateAccount performs the cheapest call that proves the credentials work
	ValidateAccount(ctx context.Context) error

	// CurrentInvoiced returns the most recent finalized (or ledger-accrued) figure
	// for the current month
	CurrentInvoiced(ctx context.Context) (BillingResponse, error)

	// CurrentUsage returns the estimated, still-accruing figure for the current month
	CurrentUsage(ctx context.Context) (BillingResponse, error)

	// Invoice returns the billing for the calendar month containing month.
	// Adapters without a per-month query return ErrNotSupported.
	Invoice(ctx context.Context, month time.Time) (BillingResponse, error)
}

// InstanceCounter is implemented by IAAS/PAAS adapters able to count running instances
type InstanceCounter interface {
	InstanceCount(ctx context.Context) (int, error)
}

// InstanceManager is implemented by adapters supporting minimal instance management
type InstanceManager interface {
	Instances(ctx context.Context) ([]VirtualMachine, error)
	Instance(ctx context.Context, id string) (VirtualMachine, error)
	DeleteInstance(ctx context.Context, vm VirtualMachine) error
}

// VirtualMachine is a provider-neutral view of a compute instance
type VirtualMachine struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	IP       string            `json:"ip"`
	State    string            `json:"state"`
	Tags     map[string]string `json:"tags"`
	Provider string            `json:"iaas"`
}

// Descriptor is the static description of one registered adapter
type Descriptor struct {
	Name   string      `json:"name"`
	Kind   Kind        `json:"type"`
	Params []ParamSpec `json:"params"`
}

// Deps are the process-wide collaborators handed to every adapter at construction
type Deps struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *logger.Logger
}

// WithDefaults fills unset dependencies so adapters never deal with nil values
func (d Deps) WithDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = logger.Discard()
	}
	return d
}
