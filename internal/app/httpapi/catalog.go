package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/services/catalog"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

func (h *handler) listPublicPredictions(w http.ResponseWriter, r *http.Request) {
	filter, err := predictionFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter.ActiveOnly = true
	items, err := h.app.Catalog.ListQuickPurchases(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	public := make([]tip.QuickPurchase, 0, len(items))
	for _, item := range items {
		public = append(public, item.Public())
	}
	httputil.WriteJSON(w, http.StatusOK, public)
}

func (h *handler) getPublicPrediction(w http.ResponseWriter, r *http.Request) {
	qp, err := h.app.Catalog.GetQuickPurchase(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !qp.IsActive {
		h.writeError(w, r, svcerrors.NotFound("prediction", qp.ID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, qp.Public())
}

func (h *handler) quotePrediction(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if strings.TrimSpace(country) == "" {
		h.writeError(w, r, svcerrors.Validation("country", "country is required"))
		return
	}
	quote, err := h.app.Purchases.Quote(r.Context(), mux.Vars(r)["id"], country)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}

func (h *handler) listPredictions(w http.ResponseWriter, r *http.Request) {
	filter, err := predictionFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.ActiveOnly, err = boolQuery(r, "active"); err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.app.Catalog.ListQuickPurchases(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *handler) createPrediction(w http.ResponseWriter, r *http.Request) {
	var payload catalog.QuickPurchaseInput
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.app.Catalog.CreateQuickPurchase(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getPrediction(w http.ResponseWriter, r *http.Request) {
	qp, err := h.app.Catalog.GetQuickPurchase(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, qp)
}

func (h *handler) updatePrediction(w http.ResponseWriter, r *http.Request) {
	var patch catalog.QuickPurchasePatch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.app.Catalog.UpdateQuickPurchase(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deletePrediction(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Catalog.DeleteQuickPurchase(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setPredictionActive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active *bool `json:"active"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	if payload.Active == nil {
		h.writeError(w, r, svcerrors.Validation("active", "active is required"))
		return
	}
	updated, err := h.app.Catalog.SetActive(r.Context(), mux.Vars(r)["id"], *payload.Active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) listMatches(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := tip.MatchFilter{
		Status: tip.MatchStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Limit:  limit,
	}
	if upcoming, err := boolQuery(r, "upcoming"); err != nil {
		h.writeError(w, r, err)
		return
	} else if upcoming {
		filter.KickoffAfter = time.Now().UTC()
	}
	matches, err := h.app.Catalog.ListMatches(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, matches)
}

func (h *handler) getMatch(w http.ResponseWriter, r *http.Request) {
	match, err := h.app.Catalog.GetMatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

func predictionFilter(r *http.Request) (tip.Filter, error) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		return tip.Filter{}, err
	}
	hasMatch, err := boolQuery(r, "hasMatch")
	if err != nil {
		return tip.Filter{}, err
	}
	return tip.Filter{
		CountryCode: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country"))),
		HasMatch:    hasMatch,
		Limit:       limit,
	}, nil
}
