// Package purchase models WhatsApp buyers and their tip purchases.
package purchase

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a buyer reached over WhatsApp, keyed by phone number.
type User struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	CountryCode string    `json:"countryCode"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Status is the payment state of a purchase.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Final reports whether the status can no longer change.
func (s Status) Final() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Purchase records one checkout of a QuickPurchase.
type Purchase struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	QuickPurchaseID string          `json:"quickPurchaseId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Gateway         string          `json:"gateway"`
	Reference       string          `json:"reference,omitempty"`
	CheckoutURL     string          `json:"checkoutUrl,omitempty"`
	Status          Status          `json:"status"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
