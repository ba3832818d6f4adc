package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BillingResponse is the normalized billing figure produced by every adapter.
// The period is half-open: EndDate is exclusive.
type BillingResponse struct {
	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
	Total     decimal.Decimal  `json:"total"`
	Balance   *decimal.Decimal `json:"balance"`
}

// NewBilling validates the period and total and rounds money to 2 places
func NewBilling(start, end time.Time, total decimal.Decimal, balance *decimal.Decimal) (BillingResponse, error) {
	if !start.Before(end) {
		return BillingResponse{}, fmt.Errorf("billing period start %s is not before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if total.IsNegative() {
		return BillingResponse{}, fmt.Errorf("billing total %s is negative", total)
	}
	resp := BillingResponse{
		StartDate: start.UTC(),
		EndDate:   end.UTC(),
		Total:     total.Round(2),
	}
	if balance != nil {
		b := balance.Round(2)
		resp.Balance = &b
	}
	return resp, nil
}

// Billing is NewBilling for adapters: invalid figures become ErrUnknown
func Billing(provider string, start, end time.Time, total decimal.Decimal, balance *decimal.Decimal) (BillingResponse, error) {
	resp, err := NewBilling(start, end, total, balance)
	if err != nil {
		return BillingResponse{}, Unknown(provider, "invalid billing figure", err)
	}
	return resp, nil
}

// MonthRange returns [first day of t's month, first day of next month) in UTC
func MonthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// ParseMonth parses a YYYY-MM string into its month range
func ParseMonth(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month %q: %w", month, err)
	}
	start, end := MonthRange(t)
	return start, end, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts the date formats seen across provider APIs
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Decimal parses a numeric string
func Decimal(provider, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, Unknown(provider, fmt.Sprintf("field %s is not numeric", field), err)
	}
	return d, nil
}

// DecimalPtr returns a pointer to d
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
