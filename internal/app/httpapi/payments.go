package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tipsterhub/service_layer/internal/app/storage"
	"github.com/tipsterhub/service_layer/internal/config"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
	"github.com/tipsterhub/service_layer/internal/payment"
)

const maxWebhookBody = 64 << 10

// stripeWebhook applies checkout session events. Unknown sessions are
// acknowledged so Stripe stops retrying them.
func (h *handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.app.StripeWebhooks == nil {
		h.writeError(w, r, svcerrors.Unavailable("stripe webhooks not configured"))
		return
	}
	payload, err := httputil.ReadAllStrict(r.Body, maxWebhookBody)
	if err != nil {
		h.writeError(w, r, svcerrors.BadRequest(err.Error()))
		return
	}
	event, err := h.app.StripeWebhooks.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "stripe_webhook_rejected", map[string]interface{}{"error": err.Error()})
		h.writeError(w, r, svcerrors.Unauthorized("invalid webhook signature"))
		return
	}

	ack := map[string]interface{}{"received": true, "type": event.Type}
	if event.Reference == "" || event.Status == payment.StatusPending {
		httputil.WriteJSON(w, http.StatusOK, ack)
		return
	}
	p, err := h.app.Purchases.ApplyStatus(r.Context(), config.GatewayStripe, event.Reference, event.Status)
	if errors.Is(err, storage.ErrNotFound) {
		h.log.WithField("reference", event.Reference).Warn("stripe webhook for unknown session")
		httputil.WriteJSON(w, http.StatusOK, ack)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ack["status"] = p.Status
	httputil.WriteJSON(w, http.StatusOK, ack)
}

// pesapalIPN handles PesaPal instant payment notifications. The IPN carries
// no status, so the gateway is queried.
func (h *handler) pesapalIPN(w http.ResponseWriter, r *http.Request) {
	var notification struct {
		OrderTrackingID        string `json:"OrderTrackingId"`
		OrderMerchantReference string `json:"OrderMerchantReference"`
		OrderNotificationType  string `json:"OrderNotificationType"`
	}
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := httputil.ReadAllStrict(r.Body, maxWebhookBody)
		if err != nil {
			h.writeError(w, r, svcerrors.BadRequest(err.Error()))
			return
		}
		if err := json.Unmarshal(body, &notification); err != nil {
			h.writeError(w, r, svcerrors.BadRequest("invalid notification body"))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.writeError(w, r, svcerrors.BadRequest("invalid notification"))
			return
		}
		notification.OrderTrackingID = r.Form.Get("OrderTrackingId")
		notification.OrderMerchantReference = r.Form.Get("OrderMerchantReference")
		notification.OrderNotificationType = r.Form.Get("OrderNotificationType")
	}
	if notification.OrderTrackingID == "" {
		h.writeError(w, r, svcerrors.Validation("OrderTrackingId", "OrderTrackingId is required"))
		return
	}

	status := http.StatusOK
	if _, err := h.app.Purchases.Confirm(r.Context(), config.GatewayPesapal, notification.OrderTrackingID); err != nil {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("order_tracking_id", notification.OrderTrackingID).
			Warn("pesapal ipn not applied")
		status = http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusOK
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orderNotificationType":  notification.OrderNotificationType,
		"orderTrackingId":        notification.OrderTrackingID,
		"orderMerchantReference": notification.OrderMerchantReference,
		"status":                 status,
	})
}
