package purchase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	"github.com/tipsterhub/service_layer/internal/app/storage/memory"
	"github.com/tipsterhub/service_layer/internal/config"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/payment"
)

type fakeGateway struct {
	name      string
	checkouts []payment.CheckoutRequest
	failWith  error
	status    payment.Status
	statusErr error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	if g.failWith != nil {
		return payment.Checkout{}, g.failWith
	}
	g.checkouts = append(g.checkouts, req)
	ref := fmt.Sprintf("%s-ref-%d", g.name, len(g.checkouts))
	return payment.Checkout{Gateway: g.name, Reference: ref, URL: "https://pay.example/" + ref}, nil
}

func (g *fakeGateway) Status(context.Context, string) (payment.Status, error) {
	return g.status, g.statusErr
}

type fixture struct {
	store   *memory.Store
	stripe  *fakeGateway
	pesapal *fakeGateway
	svc     *Service
	listing tip.QuickPurchase
}

func newFixture(t *testing.T, routing *config.PaymentRouting) *fixture {
	t.Helper()
	store := memory.New()
	stripe := &fakeGateway{name: config.GatewayStripe}
	pesapal := &fakeGateway{name: config.GatewayPesapal}
	if routing == nil {
		routing = config.DefaultPaymentRouting()
	}
	selector := payment.NewSelector(routing, stripe, pesapal)

	listing, err := store.CreateQuickPurchase(context.Background(), tip.QuickPurchase{
		MatchID:        "m1",
		Name:           "Arsenal vs Chelsea",
		Kind:           tip.KindPrediction,
		Price:          decimal.RequireFromString("4.50"),
		Currency:       "USD",
		IsActive:       true,
		PredictionData: []byte(`{"pick":"home"}`),
		Analysis:       "strong home form",
	})
	require.NoError(t, err)

	return &fixture{
		store:   store,
		stripe:  stripe,
		pesapal: pesapal,
		svc:     New(store, store, selector, nil),
		listing: listing,
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		phone, country, want string
		wantErr              bool
	}{
		{phone: "+254 712 345 678", country: "KE", want: "254712345678"},
		{phone: "0712345678", country: "KE", want: "254712345678"},
		{phone: "712345678", country: "ke", want: "254712345678"},
		{phone: "00447911123456", country: "", want: "447911123456"},
		{phone: "(202) 555-0100", country: "US", want: "12025550100"},
		{phone: "254712345678", country: "KE", want: "254712345678"},
		{phone: "0712345678", country: "FR", wantErr: true},
		{phone: "+2547abc", country: "KE", wantErr: true},
		{phone: "+1234", country: "", wantErr: true},
		{phone: "", country: "KE", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.phone, tc.country)
		if tc.wantErr {
			assert.Error(t, err, tc.phone)
			continue
		}
		require.NoError(t, err, tc.phone)
		assert.Equal(t, tc.want, got, tc.phone)
	}
}

func TestStart_RoutesByCountry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, StartRequest{Phone: "0712345678", CountryCode: "ke", QuickPurchaseID: f.listing.ID})
	require.NoError(t, err)
	assert.Equal(t, config.GatewayPesapal, res.Purchase.Gateway)
	assert.Equal(t, domain.StatusPending, res.Purchase.Status)
	assert.Equal(t, "https://pay.example/pesapal-ref-1", res.CheckoutURL)
	assert.Equal(t, "pesapal-ref-1", res.Purchase.Reference)
	require.Len(t, f.pesapal.checkouts, 1)
	assert.Equal(t, res.Purchase.ID, f.pesapal.checkouts[0].OrderID)
	assert.Equal(t, "254712345678", f.pesapal.checkouts[0].Phone)
	assert.Equal(t, "USD", f.pesapal.checkouts[0].Currency)

	gb, err := f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: f.listing.ID})
	require.NoError(t, err)
	assert.Equal(t, config.GatewayStripe, gb.Purchase.Gateway)
	assert.True(t, gb.Purchase.Amount.Equal(decimal.RequireFromString("4.50")))

	user, err := f.store.GetUserByPhone(ctx, "254712345678")
	require.NoError(t, err)
	assert.Equal(t, "KE", user.CountryCode)
}

func TestStart_CountryPriceOverride(t *testing.T) {
	routing := config.DefaultPaymentRouting()
	routing.Countries["KE"] = config.CountryRoute{Gateway: config.GatewayPesapal, Currency: "KES", Price: "500"}
	f := newFixture(t, routing)

	res, err := f.svc.Start(context.Background(), StartRequest{Phone: "0712345678", CountryCode: "KE", QuickPurchaseID: f.listing.ID})
	require.NoError(t, err)
	assert.Equal(t, "KES", res.Purchase.Currency)
	assert.True(t, res.Purchase.Amount.Equal(decimal.NewFromInt(500)))

	quote, err := f.svc.Quote(context.Background(), f.listing.ID, "KE")
	require.NoError(t, err)
	assert.Equal(t, "KES", quote.Currency)
	assert.Equal(t, config.GatewayPesapal, quote.Gateway)
}

func TestStart_ReusesPendingAndReturnsPaid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: f.listing.ID}

	first, err := f.svc.Start(ctx, req)
	require.NoError(t, err)

	again, err := f.svc.Start(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, first.Purchase.ID, again.Purchase.ID)
	assert.Len(t, f.stripe.checkouts, 1)

	_, err = f.svc.ApplyStatus(ctx, config.GatewayStripe, first.Purchase.Reference, payment.StatusPaid)
	require.NoError(t, err)

	paid, err := f.svc.Start(ctx, req)
	require.NoError(t, err)
	assert.True(t, paid.AlreadyPaid)
	assert.Empty(t, paid.CheckoutURL)
	assert.Len(t, f.stripe.checkouts, 1)
}

func TestStart_Failures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GBR", QuickPurchaseID: f.listing.ID})
	assert.Equal(t, svcerrors.CodeValidation, svcerrors.GetServiceError(err).Code)

	_, err = f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.stripe.failWith = errors.New("card network down")
	_, err = f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: f.listing.ID})
	require.Error(t, err)
	assert.Equal(t, svcerrors.CodePaymentFailure, svcerrors.GetServiceError(err).Code)

	user, err := f.store.GetUserByPhone(ctx, "447911123456")
	require.NoError(t, err)
	purchases, err := f.store.ListPurchasesByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, domain.StatusFailed, purchases[0].Status)

	inactive := f.listing
	inactive.IsActive = false
	_, err = f.store.UpdateQuickPurchase(ctx, inactive)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: f.listing.ID})
	assert.Equal(t, svcerrors.CodeConflict, svcerrors.GetServiceError(err).Code)
}

func TestStart_GatewayUnavailable(t *testing.T) {
	store := memory.New()
	listing, err := store.CreateQuickPurchase(context.Background(), tip.QuickPurchase{
		Name: "Solo", Kind: tip.KindTip, Price: decimal.NewFromInt(2), Currency: "USD", IsActive: true,
	})
	require.NoError(t, err)
	svc := New(store, store, payment.NewSelector(nil, &fakeGateway{name: config.GatewayStripe}), nil)

	_, err = svc.Start(context.Background(), StartRequest{Phone: "0712345678", CountryCode: "KE", QuickPurchaseID: listing.ID})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
}

func TestConfirm_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Start(ctx, StartRequest{Phone: "0712345678", CountryCode: "KE", QuickPurchaseID: f.listing.ID})
	require.NoError(t, err)

	f.pesapal.status = payment.StatusPending
	p, err := f.svc.Confirm(ctx, "pesapal", res.Purchase.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.Status)

	f.pesapal.status = payment.StatusPaid
	p, err = f.svc.Confirm(ctx, "PesaPal", res.Purchase.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, p.Status)
	require.NotNil(t, p.PaidAt)
	paidAt := *p.PaidAt

	// later failures never demote a paid purchase
	f.pesapal.status = payment.StatusFailed
	p, err = f.svc.Confirm(ctx, "pesapal", res.Purchase.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, p.Status)

	p, err = f.svc.ApplyStatus(ctx, "pesapal", res.Purchase.Reference, payment.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, p.Status)
	assert.True(t, p.PaidAt.Equal(paidAt))

	_, err = f.svc.Confirm(ctx, "pesapal", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyStatus_FailedCanStillBePaid(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: f.listing.ID})
	require.NoError(t, err)

	p, err := f.svc.ApplyStatus(ctx, "stripe", res.Purchase.Reference, payment.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, p.Status)

	p, err = f.svc.ApplyStatus(ctx, "stripe", res.Purchase.Reference, payment.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, p.Status)
}

func TestUnlocked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tips, err := f.svc.Unlocked(ctx, "+447911123456", "GB")
	require.NoError(t, err)
	assert.Empty(t, tips)

	res, err := f.svc.Start(ctx, StartRequest{Phone: "+447911123456", CountryCode: "GB", QuickPurchaseID: f.listing.ID})
	require.NoError(t, err)

	tips, err = f.svc.Unlocked(ctx, "+447911123456", "GB")
	require.NoError(t, err)
	assert.Empty(t, tips)

	f.svc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	_, err = f.svc.ApplyStatus(ctx, "stripe", res.Purchase.Reference, payment.StatusPaid)
	require.NoError(t, err)

	tips, err = f.svc.Unlocked(ctx, "447911123456", "")
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, res.Purchase.ID, tips[0].PurchaseID)
	assert.JSONEq(t, `{"pick":"home"}`, string(tips[0].Tip.PredictionData))
	assert.Equal(t, "strong home form", tips[0].Tip.Analysis)
}
