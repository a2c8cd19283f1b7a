package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tipsterhub/service_layer/internal/config"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

const defaultPesapalBaseURL = "https://pay.pesapal.com/v3"

// PesaPal rejects order descriptions longer than 100 characters.
const pesapalDescriptionLimit = 100

// PesapalConfig configures the PesaPal v3 gateway.
type PesapalConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	BaseURL        string
	// IPNID is the notification id registered with PesaPal for our IPN URL.
	IPNID       string
	CallbackURL string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Pesapal submits orders to PesaPal API 3.0. Bearer tokens are cached until
// shortly before they expire and dropped when the API answers 401.
type Pesapal struct {
	cfg    PesapalConfig
	auth   *httputil.Client
	http   *httputil.Client
	now    func() time.Time
	mu     sync.Mutex
	token  string
	expiry time.Time
}

var _ Gateway = (*Pesapal)(nil)

// NewPesapal returns nil when the consumer credentials are missing.
func NewPesapal(cfg PesapalConfig) *Pesapal {
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPesapalBaseURL
	}

	p := &Pesapal{cfg: cfg, now: time.Now}
	p.auth = httputil.NewClient(httputil.ClientConfig{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	})
	p.http = httputil.NewClient(httputil.ClientConfig{
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		MaxRetries:     1,
		Authorize:      p.authorize,
		OnUnauthorized: p.invalidate,
		HTTPClient:     cfg.HTTPClient,
	})
	return p
}

func (p *Pesapal) Name() string { return config.GatewayPesapal }

type pesapalTokenResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Status     string        `json:"status"`
	Error      *pesapalError `json:"error"`
}

type pesapalError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *pesapalError) err() error {
	if e == nil || (e.Code == "" && e.Message == "") {
		return nil
	}
	return fmt.Errorf("pesapal: %s %s", e.Code, e.Message)
}

func (p *Pesapal) authorize(ctx context.Context, req *http.Request) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (p *Pesapal) invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiry = time.Time{}
	p.mu.Unlock()
}

func (p *Pesapal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Before(p.expiry) {
		return p.token, nil
	}

	resp, err := p.auth.Post(ctx, "/api/Auth/RequestToken", map[string]string{
		"consumer_key":    p.cfg.ConsumerKey,
		"consumer_secret": p.cfg.ConsumerSecret,
	})
	if err != nil {
		return "", err
	}
	var out pesapalTokenResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return "", err
	}
	if err := out.Error.err(); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("pesapal: empty token")
	}

	// Tokens live five minutes; refresh thirty seconds early.
	expiry := p.now().Add(4*time.Minute + 30*time.Second)
	if t, err := time.Parse(time.RFC3339Nano, out.ExpiryDate); err == nil {
		expiry = t.Add(-30 * time.Second)
	}
	p.token = out.Token
	p.expiry = expiry
	return p.token, nil
}

type pesapalBilling struct {
	PhoneNumber  string `json:"phone_number,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

type pesapalOrder struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         json.Number    `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress pesapalBilling `json:"billing_address"`
}

type pesapalOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Status            string        `json:"status"`
	Error             *pesapalError `json:"error"`
}

func (p *Pesapal) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if err := validateRequest(req); err != nil {
		return Checkout{}, svcerrors.BadRequest(err.Error())
	}
	if p.cfg.IPNID == "" {
		return Checkout{}, fmt.Errorf("%w: pesapal ipn id not configured", ErrGatewayUnavailable)
	}

	order := pesapalOrder{
		ID:             req.OrderID,
		Currency:       strings.ToUpper(req.Currency),
		Amount:         json.Number(req.Amount.StringFixed(2)),
		Description:    truncateRunes(req.Description, pesapalDescriptionLimit),
		CallbackURL:    p.cfg.CallbackURL,
		NotificationID: p.cfg.IPNID,
		BillingAddress: pesapalBilling{
			PhoneNumber:  req.Phone,
			EmailAddress: req.Email,
			CountryCode:  strings.ToUpper(req.CountryCode),
		},
	}

	resp, err := p.http.Post(ctx, "/api/Transactions/SubmitOrderRequest", order)
	if err != nil {
		return Checkout{}, svcerrors.PaymentFailure(p.Name(), err)
	}
	var out pesapalOrderResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return Checkout{}, svcerrors.PaymentFailure(p.Name(), err)
	}
	if err := out.Error.err(); err != nil {
		return Checkout{}, svcerrors.PaymentFailure(p.Name(), err)
	}
	if out.OrderTrackingID == "" || out.RedirectURL == "" {
		return Checkout{}, svcerrors.PaymentFailure(p.Name(), errors.New("order response missing tracking id or redirect url"))
	}
	return Checkout{Gateway: p.Name(), Reference: out.OrderTrackingID, URL: out.RedirectURL}, nil
}

type pesapalStatusResponse struct {
	PaymentStatusDescription string        `json:"payment_status_description"`
	StatusCode               int           `json:"status_code"`
	MerchantReference        string        `json:"merchant_reference"`
	Error                    *pesapalError `json:"error"`
}

func (p *Pesapal) Status(ctx context.Context, reference string) (Status, error) {
	if reference == "" {
		return "", svcerrors.BadRequest("reference required")
	}
	resp, err := p.http.Get(ctx, "/api/Transactions/GetTransactionStatus?orderTrackingId="+url.QueryEscape(reference))
	if err != nil {
		return "", svcerrors.PaymentFailure(p.Name(), err)
	}
	var out pesapalStatusResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return "", svcerrors.PaymentFailure(p.Name(), err)
	}
	if err := out.Error.err(); err != nil && out.StatusCode == 0 && out.PaymentStatusDescription == "" {
		return "", svcerrors.PaymentFailure(p.Name(), err)
	}
	return pesapalStatus(out.StatusCode, out.PaymentStatusDescription), nil
}

// pesapalStatus maps status_code 0 INVALID, 1 COMPLETED, 2 FAILED, 3 REVERSED.
func pesapalStatus(code int, description string) Status {
	switch code {
	case 1:
		return StatusPaid
	case 2:
		return StatusFailed
	case 3:
		return StatusCancelled
	}
	switch strings.ToUpper(description) {
	case "COMPLETED":
		return StatusPaid
	case "FAILED":
		return StatusFailed
	case "REVERSED":
		return StatusCancelled
	}
	return StatusPending
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
