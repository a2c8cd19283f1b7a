// Package payment creates hosted checkouts on Stripe or PesaPal and reports
// their settlement status.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrGatewayUnavailable is returned when the selected gateway has no
// credentials configured.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Status is the settlement state reported by a gateway.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CheckoutRequest describes one payment to collect.
type CheckoutRequest struct {
	// OrderID is our purchase id; gateways echo it back as merchant reference.
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Phone       string
	CountryCode string
	Email       string
	Metadata    map[string]string
}

// Checkout is the hosted payment page created by a gateway.
type Checkout struct {
	Gateway   string `json:"gateway"`
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

// Gateway is a hosted-checkout payment provider.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	Status(ctx context.Context, reference string) (Status, error)
}

func validateRequest(req CheckoutRequest) error {
	if strings.TrimSpace(req.OrderID) == "" {
		return errors.New("order id required")
	}
	if !req.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	if len(strings.TrimSpace(req.Currency)) != 3 {
		return errors.New("currency must be an ISO 4217 code")
	}
	return nil
}
