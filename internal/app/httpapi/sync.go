package httpapi

import (
	"net/http"
	"time"

	"github.com/tipsterhub/service_layer/internal/app/services/enrichment"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
)

// maxBudgetSeconds keeps maxSeconds inside time.Duration; the service clamps
// the budget further to its configured maximum.
const maxBudgetSeconds = 24 * 60 * 60

func (h *handler) syncMatches(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Catalog.SyncMarketMatches(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// syncFromAvailability runs one enrichment pass. Query parameters: limit,
// dryRun and maxSeconds.
func (h *handler) syncFromAvailability(w http.ResponseWriter, r *http.Request) {
	if h.app.Enrichment == nil {
		h.writeError(w, r, svcerrors.Unavailable("consensus backend not configured"))
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dryRun, err := boolQuery(r, "dryRun")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	maxSeconds, err := intQuery(r, "maxSeconds")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if maxSeconds > maxBudgetSeconds {
		maxSeconds = maxBudgetSeconds
	}

	report, err := h.app.Enrichment.SyncFromAvailability(r.Context(), enrichment.Options{
		Limit:       limit,
		DryRun:      dryRun,
		MaxDuration: time.Duration(maxSeconds) * time.Second,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *handler) syncPlan(w http.ResponseWriter, r *http.Request) {
	if h.app.Enrichment == nil {
		h.writeError(w, r, svcerrors.Unavailable("consensus backend not configured"))
		return
	}
	plan, err := h.app.Enrichment.Plan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}
