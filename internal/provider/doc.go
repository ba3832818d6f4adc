// Package provider defines the cloud provider abstraction layer.
//
// Every supported cloud or PaaS vendor is implemented as an adapter in a
// sub-package (amazon, azure, digitalocean, ...) satisfying the Client
// contract:
//
//	type Client interface {
//		Currency() string
//		ValidateAccount(ctx context.Context) error
//		CurrentInvoiced(ctx context.Context) (BillingResponse, error)
//		CurrentUsage(ctx context.Context) (BillingResponse, error)
//		Invoice(ctx context.Context, month time.Time) (BillingResponse, error)
//	}
//
// IAAS and PAAS adapters may also implement InstanceCounter, and a few
// implement InstanceManager for minimal instance enumeration and deletion.
//
// Adapters are only constructed from connection data that went through Bind,
// which checks the data against the adapter's declared ParamSpec list.
//
// Errors: adapters return *Error values that match exactly one of
// ErrAuthorization, ErrUnknown or ErrRateLimit (or ErrNotSupported for a
// missing optional operation). Vendor SDK and HTTP library errors never
// escape through errors.As.
//
// BillingResponse figures are rounded to 2 decimal places and always cover
// a half-open period with StartDate before EndDate.
package provider
