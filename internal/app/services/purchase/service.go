// Package purchase runs the WhatsApp purchase flow: buyers pick a listing,
// pay through the gateway chosen for their country and then unlock the
// prediction.
package purchase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/metrics"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/payment"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

// GatewaySelector resolves payment gateways.
type GatewaySelector interface {
	ForCountry(countryCode string) (payment.Route, error)
	Gateway(name string) (payment.Gateway, error)
}

// Service implements the purchase flow.
type Service struct {
	store    storage.PurchaseStore
	quick    storage.QuickPurchaseStore
	selector GatewaySelector
	log      *logger.Logger
	now      func() time.Time

	// reuseWindow is how long a pending checkout is handed out again instead
	// of opening a new one.
	reuseWindow time.Duration
}

// New constructs the purchase service.
func New(store storage.PurchaseStore, quick storage.QuickPurchaseStore, selector GatewaySelector, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("purchase")
	}
	return &Service{
		store:       store,
		quick:       quick,
		selector:    selector,
		log:         log,
		now:         time.Now,
		reuseWindow: 30 * time.Minute,
	}
}

// StartRequest is a buyer's request to pay for a listing.
type StartRequest struct {
	Phone           string `json:"phone"`
	CountryCode     string `json:"countryCode"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	QuickPurchaseID string `json:"quickPurchaseId"`
}

// StartResult is the purchase plus where to pay for it.
type StartResult struct {
	Purchase    domain.Purchase `json:"purchase"`
	CheckoutURL string          `json:"checkoutUrl,omitempty"`
	// AlreadyPaid is set when the buyer owns the listing already.
	AlreadyPaid bool `json:"alreadyPaid"`
	Reused      bool `json:"reused"`
}

// UnlockedTip is a paid listing with its prediction content.
type UnlockedTip struct {
	PurchaseID string            `json:"purchaseId"`
	PaidAt     *time.Time        `json:"paidAt,omitempty"`
	Tip        tip.QuickPurchase `json:"tip"`
}

// Start opens a checkout for req. A buyer who already paid gets the paid
// purchase back; a recent pending checkout is reused.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if len(country) != 2 {
		return StartResult{}, svcerrors.Validation("countryCode", "countryCode must be a 2-letter ISO code")
	}
	phone, err := NormalizePhone(req.Phone, country)
	if err != nil {
		return StartResult{}, err
	}
	if strings.TrimSpace(req.QuickPurchaseID) == "" {
		return StartResult{}, svcerrors.Validation("quickPurchaseId", "quickPurchaseId is required")
	}

	listing, err := s.quick.GetQuickPurchase(ctx, req.QuickPurchaseID)
	if err != nil {
		return StartResult{}, err
	}
	if !listing.IsActive {
		return StartResult{}, svcerrors.Conflict("this tip is no longer on sale")
	}

	user, err := s.store.UpsertUser(ctx, domain.User{
		Phone:       phone,
		CountryCode: country,
		Name:        strings.TrimSpace(req.Name),
	})
	if err != nil {
		return StartResult{}, err
	}

	if res, ok, err := s.existing(ctx, user.ID, listing.ID); err != nil || ok {
		return res, err
	}

	route, err := s.selector.ForCountry(country)
	if err != nil {
		return StartResult{}, err
	}
	amount, currency := price(listing, route)
	if !amount.IsPositive() {
		return StartResult{}, svcerrors.Validation("price", "listing has no price")
	}
	gatewayName := route.Gateway.Name()

	p, err := s.store.CreatePurchase(ctx, domain.Purchase{
		UserID:          user.ID,
		QuickPurchaseID: listing.ID,
		Amount:          amount,
		Currency:        currency,
		Gateway:         gatewayName,
		Status:          domain.StatusPending,
	})
	if err != nil {
		return StartResult{}, err
	}

	checkout, err := route.Gateway.CreateCheckout(ctx, payment.CheckoutRequest{
		OrderID:     p.ID,
		Amount:      amount,
		Currency:    currency,
		Description: listing.Name,
		Phone:       phone,
		CountryCode: country,
		Email:       strings.TrimSpace(req.Email),
		Metadata: map[string]string{
			"purchase_id":       p.ID,
			"quick_purchase_id": listing.ID,
			"user_id":           user.ID,
		},
	})
	if err != nil {
		metrics.RecordCheckout(gatewayName, false)
		p.Status = domain.StatusFailed
		if _, uerr := s.store.UpdatePurchase(ctx, p); uerr != nil {
			s.log.WithError(uerr).WithField("purchase_id", p.ID).Warn("failed to mark purchase failed")
		}
		s.log.WithError(err).WithField("purchase_id", p.ID).WithField("gateway", gatewayName).Error("checkout failed")
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return StartResult{}, err
		}
		return StartResult{}, svcerrors.PaymentFailure(gatewayName, err)
	}
	metrics.RecordCheckout(gatewayName, true)

	p.Reference = checkout.Reference
	p.CheckoutURL = checkout.URL
	if p, err = s.store.UpdatePurchase(ctx, p); err != nil {
		return StartResult{}, err
	}

	s.log.WithField("purchase_id", p.ID).
		WithField("gateway", gatewayName).
		WithField("amount", amount.String()+" "+currency).
		Info("checkout created")
	return StartResult{Purchase: p, CheckoutURL: p.CheckoutURL}, nil
}

func (s *Service) existing(ctx context.Context, userID, listingID string) (StartResult, bool, error) {
	purchases, err := s.store.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return StartResult{}, false, err
	}
	now := s.now()
	var reusable *domain.Purchase
	for i := range purchases {
		p := purchases[i]
		if p.QuickPurchaseID != listingID {
			continue
		}
		if p.Status == domain.StatusPaid {
			return StartResult{Purchase: p, AlreadyPaid: true}, true, nil
		}
		if reusable == nil && p.Status == domain.StatusPending && p.CheckoutURL != "" && now.Sub(p.CreatedAt) < s.reuseWindow {
			reusable = &purchases[i]
		}
	}
	if reusable != nil {
		return StartResult{Purchase: *reusable, CheckoutURL: reusable.CheckoutURL, Reused: true}, true, nil
	}
	return StartResult{}, false, nil
}

// Confirm asks the gateway for the settlement status of reference and
// records it. Paid purchases are returned unchanged.
func (s *Service) Confirm(ctx context.Context, gateway, reference string) (domain.Purchase, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	p, err := s.store.GetPurchaseByReference(ctx, gateway, reference)
	if err != nil {
		return domain.Purchase{}, err
	}
	if p.Status.Final() {
		return p, nil
	}
	gw, err := s.selector.Gateway(gateway)
	if err != nil {
		return domain.Purchase{}, err
	}
	status, err := gw.Status(ctx, reference)
	if err != nil {
		return domain.Purchase{}, err
	}
	return s.apply(ctx, p, status)
}

// ApplyStatus records a status reported by a verified gateway callback.
func (s *Service) ApplyStatus(ctx context.Context, gateway, reference string, status payment.Status) (domain.Purchase, error) {
	p, err := s.store.GetPurchaseByReference(ctx, strings.ToLower(gateway), reference)
	if err != nil {
		return domain.Purchase{}, err
	}
	return s.apply(ctx, p, status)
}

// apply moves p to status. Final states stick and pending never overwrites
// a settled state.
func (s *Service) apply(ctx context.Context, p domain.Purchase, status payment.Status) (domain.Purchase, error) {
	next := domain.Status(status)
	if p.Status.Final() || next == p.Status || next == domain.StatusPending {
		return p, nil
	}
	switch next {
	case domain.StatusPaid:
		paidAt := s.now().UTC()
		p.PaidAt = &paidAt
	case domain.StatusFailed, domain.StatusCancelled:
	default:
		return domain.Purchase{}, svcerrors.Validation("status", "unknown payment status "+string(status))
	}
	p.Status = next

	updated, err := s.store.UpdatePurchase(ctx, p)
	if err != nil {
		return domain.Purchase{}, err
	}
	metrics.RecordPaymentConfirmation(p.Gateway, string(next))
	s.log.WithField("purchase_id", p.ID).WithField("gateway", p.Gateway).WithField("status", string(next)).Info("purchase status updated")
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Purchase, error) {
	return s.store.GetPurchase(ctx, id)
}

// Unlocked lists the listings a buyer has paid for, with prediction content.
func (s *Service) Unlocked(ctx context.Context, phone, countryCode string) ([]UnlockedTip, error) {
	normalized, err := NormalizePhone(phone, countryCode)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByPhone(ctx, normalized)
	if errors.Is(err, storage.ErrNotFound) {
		return []UnlockedTip{}, nil
	}
	if err != nil {
		return nil, err
	}
	purchases, err := s.store.ListPurchasesByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	out := []UnlockedTip{}
	seen := make(map[string]bool)
	for _, p := range purchases {
		if p.Status != domain.StatusPaid || seen[p.QuickPurchaseID] {
			continue
		}
		seen[p.QuickPurchaseID] = true
		listing, err := s.quick.GetQuickPurchase(ctx, p.QuickPurchaseID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, UnlockedTip{PurchaseID: p.ID, PaidAt: p.PaidAt, Tip: listing})
	}
	return out, nil
}

// Quote is the price a buyer in a given country pays.
type Quote struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Gateway  string          `json:"gateway"`
}

// Quote reports what a buyer in countryCode would pay for a listing.
func (s *Service) Quote(ctx context.Context, listingID, countryCode string) (Quote, error) {
	listing, err := s.quick.GetQuickPurchase(ctx, listingID)
	if err != nil {
		return Quote{}, err
	}
	route, err := s.selector.ForCountry(countryCode)
	if err != nil {
		return Quote{}, err
	}
	amount, currency := price(listing, route)
	return Quote{Amount: amount, Currency: currency, Gateway: route.Gateway.Name()}, nil
}

// price applies the country override, falling back to the listing's own
// price and then the route currency.
func price(listing tip.QuickPurchase, route payment.Route) (decimal.Decimal, string) {
	if route.Price != nil {
		return *route.Price, route.Currency
	}
	currency := listing.Currency
	if currency == "" {
		currency = route.Currency
	}
	return listing.Price, currency
}
