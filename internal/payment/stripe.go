package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/tipsterhub/service_layer/internal/config"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

const (
	defaultStripeBaseURL = "https://api.stripe.com"
	// WebhookTolerance is the maximum accepted age of a signed webhook.
	WebhookTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("stripe: missing signature header")
	ErrInvalidSignature = errors.New("stripe: signature mismatch")
	ErrSignatureExpired = errors.New("stripe: signature timestamp outside tolerance")
)

// zero-decimal currencies are charged in whole units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// StripeConfig configures the Stripe Checkout gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Stripe creates Checkout Sessions over the REST API.
type Stripe struct {
	http          *httputil.Client
	webhookSecret string
	successURL    string
	cancelURL     string
	now           func() time.Time
}

var _ Gateway = (*Stripe)(nil)

// NewStripe returns nil when no secret key is configured.
func NewStripe(cfg StripeConfig) *Stripe {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultStripeBaseURL
	}
	return &Stripe{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL: base,
			Timeout: cfg.Timeout,
			Authorize: func(_ context.Context, req *http.Request) error {
				req.Header.Set("Authorization", "Bearer "+key)
				return nil
			},
			HTTPClient: cfg.HTTPClient,
		}),
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		now:           time.Now,
	}
}

func (s *Stripe) Name() string { return config.GatewayStripe }

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if err := validateRequest(req); err != nil {
		return Checkout{}, svcerrors.BadRequest(err.Error())
	}

	currency := strings.ToUpper(req.Currency)
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", s.successURL)
	form.Set("cancel_url", s.cancelURL)
	form.Set("client_reference_id", req.OrderID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(MinorUnits(req.Amount, currency), 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("metadata[purchase_id]", req.OrderID)
	if req.Phone != "" {
		form.Set("metadata[phone]", req.Phone)
	}
	if req.Email != "" {
		form.Set("customer_email", req.Email)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	resp, err := s.http.DoForm(ctx, http.MethodPost, "/v1/checkout/sessions", form)
	if err != nil {
		return Checkout{}, svcerrors.PaymentFailure(s.Name(), err)
	}
	var body []byte
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return Checkout{}, svcerrors.PaymentFailure(s.Name(), err)
	}

	session := gjson.ParseBytes(body)
	id := session.Get("id").String()
	checkoutURL := session.Get("url").String()
	if id == "" || checkoutURL == "" {
		return Checkout{}, svcerrors.PaymentFailure(s.Name(), errors.New("session response missing id or url"))
	}
	return Checkout{Gateway: s.Name(), Reference: id, URL: checkoutURL}, nil
}

func (s *Stripe) Status(ctx context.Context, reference string) (Status, error) {
	if reference == "" {
		return "", svcerrors.BadRequest("reference required")
	}
	resp, err := s.http.Get(ctx, "/v1/checkout/sessions/"+url.PathEscape(reference))
	if err != nil {
		return "", svcerrors.PaymentFailure(s.Name(), err)
	}
	var body []byte
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return "", svcerrors.NotFound("checkout session", reference)
		}
		return "", svcerrors.PaymentFailure(s.Name(), err)
	}
	session := gjson.ParseBytes(body)
	return sessionStatus(session.Get("status").String(), session.Get("payment_status").String()), nil
}

func sessionStatus(status, paymentStatus string) Status {
	switch {
	case paymentStatus == "paid" || paymentStatus == "no_payment_required":
		return StatusPaid
	case status == "expired":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// WebhookEvent is the subset of a Stripe event the purchase flow needs.
type WebhookEvent struct {
	ID        string
	Type      string
	Reference string
	Status    Status
}

// VerifyWebhook checks the Stripe-Signature header over payload and decodes
// the checkout session carried by the event.
func (s *Stripe) VerifyWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if err := VerifySignature(payload, signatureHeader, s.webhookSecret, s.now(), WebhookTolerance); err != nil {
		return WebhookEvent{}, err
	}
	if !gjson.ValidBytes(payload) {
		return WebhookEvent{}, errors.New("stripe: invalid event payload")
	}
	event := gjson.ParseBytes(payload)
	obj := event.Get("data.object")
	ev := WebhookEvent{
		ID:        event.Get("id").String(),
		Type:      event.Get("type").String(),
		Reference: obj.Get("id").String(),
	}
	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		ev.Status = sessionStatus(obj.Get("status").String(), obj.Get("payment_status").String())
	case "checkout.session.async_payment_failed":
		ev.Status = StatusFailed
	case "checkout.session.expired":
		ev.Status = StatusCancelled
	default:
		ev.Status = StatusPending
	}
	return ev, nil
}

// VerifySignature validates a "t=<unix>,v1=<hex>" header. Any v1 entry may
// match, which allows secret rotation.
func VerifySignature(payload []byte, header, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return ErrGatewayUnavailable
	}
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("stripe: invalid timestamp: %w", err)
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ErrMissingSignature
	}

	signedAt := time.Unix(timestamp, 0)
	if age := now.Sub(signedAt); age > tolerance || age < -tolerance {
		return ErrSignatureExpired
	}

	expected := ComputeSignature(payload, secret, timestamp)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<payload>".
func ComputeSignature(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// MinorUnits converts amount into the smallest currency unit.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
