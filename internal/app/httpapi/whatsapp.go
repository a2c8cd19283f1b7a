package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	purchasesvc "github.com/tipsterhub/service_layer/internal/app/services/purchase"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

func (h *handler) startPurchase(w http.ResponseWriter, r *http.Request) {
	var payload purchasesvc.StartRequest
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.app.Purchases.Start(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyPaid || result.Reused {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, result)
}

func (h *handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Purchases.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// confirmPurchase re-checks the gateway, for buyers returning from checkout
// before the callback arrived.
func (h *handler) confirmPurchase(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Purchases.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if p.Reference == "" {
		httputil.WriteJSON(w, http.StatusOK, p)
		return
	}
	confirmed, err := h.app.Purchases.Confirm(r.Context(), p.Gateway, p.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, confirmed)
}

func (h *handler) unlockedTips(w http.ResponseWriter, r *http.Request) {
	tips, err := h.app.Purchases.Unlocked(r.Context(), mux.Vars(r)["phone"], r.URL.Query().Get("country"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tips)
}
