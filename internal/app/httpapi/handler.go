// Package httpapi exposes the application services over JSON HTTP routes.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/tipsterhub/service_layer/internal/app"
	"github.com/tipsterhub/service_layer/internal/app/metrics"
	"github.com/tipsterhub/service_layer/internal/app/services/enrichment"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
	"github.com/tipsterhub/service_layer/internal/httputil"
	"github.com/tipsterhub/service_layer/internal/middleware"
	"github.com/tipsterhub/service_layer/internal/payment"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	Auth           *middleware.AuthMiddleware
	AllowedOrigins []string
	// RateLimiter applies to every route when set, keyed by client address.
	RateLimiter *middleware.RateLimiter
	Audit       *AuditLog
	Log         *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *AuditLog
	log   *logger.Logger
	start time.Time
}

// NewHandler returns the router exposing the public, admin, cron, WhatsApp
// and payment callback routes.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	audit := opts.Audit
	if audit == nil {
		audit, _ = NewAuditLog(0, "", log.Named("audit"))
	}
	auth := opts.Auth
	if auth == nil {
		auth = middleware.NewAuthMiddleware(middleware.AuthConfig{Logger: log})
	}
	h := &handler{app: application, audit: audit, log: log, start: time.Now()}

	r := mux.NewRouter()
	r.Use(middleware.RecoveryMiddleware(log), middleware.LoggingMiddleware(log), middleware.MetricsMiddleware())
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(svcerrors.CodeNotFound), "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, string(svcerrors.CodeBadRequest), "method not allowed", nil)
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predictions", h.listPublicPredictions).Methods(http.MethodGet)
	api.HandleFunc("/predictions/{id}", h.getPublicPrediction).Methods(http.MethodGet)
	api.HandleFunc("/predictions/{id}/quote", h.quotePrediction).Methods(http.MethodGet)
	api.HandleFunc("/matches", h.listMatches).Methods(http.MethodGet)
	api.HandleFunc("/blogs", h.listPublishedPosts).Methods(http.MethodGet)
	api.HandleFunc("/blogs/{slug}", h.getPublishedPost).Methods(http.MethodGet)

	api.HandleFunc("/whatsapp/purchases", h.startPurchase).Methods(http.MethodPost)
	api.HandleFunc("/whatsapp/purchases/{id}", h.getPurchase).Methods(http.MethodGet)
	api.HandleFunc("/whatsapp/purchases/{id}/confirm", h.confirmPurchase).Methods(http.MethodPost)

	api.HandleFunc("/payments/stripe/webhook", h.stripeWebhook).Methods(http.MethodPost)
	api.HandleFunc("/payments/pesapal/ipn", h.pesapalIPN).Methods(http.MethodGet, http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireAdmin, audit.Middleware)
	admin.HandleFunc("/predictions", h.createPrediction).Methods(http.MethodPost)
	admin.HandleFunc("/predictions", h.listPredictions).Methods(http.MethodGet)
	admin.HandleFunc("/predictions/{id}", h.getPrediction).Methods(http.MethodGet)
	admin.HandleFunc("/predictions/{id}", h.updatePrediction).Methods(http.MethodPut, http.MethodPatch)
	admin.HandleFunc("/predictions/{id}", h.deletePrediction).Methods(http.MethodDelete)
	admin.HandleFunc("/predictions/{id}/active", h.setPredictionActive).Methods(http.MethodPost)
	admin.HandleFunc("/blogs", h.createPost).Methods(http.MethodPost)
	admin.HandleFunc("/blogs", h.listPosts).Methods(http.MethodGet)
	admin.HandleFunc("/blogs/{id}", h.getPost).Methods(http.MethodGet)
	admin.HandleFunc("/blogs/{id}", h.updatePost).Methods(http.MethodPut, http.MethodPatch)
	admin.HandleFunc("/blogs/{id}", h.deletePost).Methods(http.MethodDelete)
	admin.HandleFunc("/blogs/{id}/publish", h.publishPost).Methods(http.MethodPost)
	admin.HandleFunc("/matches", h.listMatches).Methods(http.MethodGet)
	admin.HandleFunc("/matches/{id}", h.getMatch).Methods(http.MethodGet)
	admin.HandleFunc("/sync/plan", h.syncPlan).Methods(http.MethodGet)
	admin.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)

	// unlocked tips carry paid prediction data, so only the bot's server
	// credential may read them
	bot := api.PathPrefix("/whatsapp/users").Subrouter()
	bot.Use(auth.RequireCron)
	bot.HandleFunc("/{phone}/tips", h.unlockedTips).Methods(http.MethodGet)

	cron := api.PathPrefix("/sync").Subrouter()
	cron.Use(auth.RequireCron, audit.Middleware)
	cron.HandleFunc("/matches", h.syncMatches).Methods(http.MethodGet, http.MethodPost)
	cron.HandleFunc("/from-availability", h.syncFromAvailability).Methods(http.MethodGet, http.MethodPost)

	var handler http.Handler = r
	if opts.RateLimiter != nil {
		handler = opts.RateLimiter.Handler(handler)
	}
	return middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(handler)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(h.start).Round(time.Second).String(),
		"services": h.app.Services(),
		"gateways": h.app.Payments.Names(),
		"sync":     h.app.Enrichment != nil,
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.List(limit))
}

// writeError maps store and service sentinels onto the error envelope.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case svcerrors.GetServiceError(err) != nil:
		httputil.WriteError(w, r, err)
	case errors.Is(err, storage.ErrNotFound):
		httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(svcerrors.CodeNotFound), "resource not found", nil)
	case errors.Is(err, storage.ErrConflict):
		httputil.WriteErrorResponse(w, r, http.StatusConflict, string(svcerrors.CodeConflict), "resource already exists", nil)
	case enrichment.IsSyncRunning(err):
		httputil.WriteErrorResponse(w, r, http.StatusConflict, string(svcerrors.CodeConflict), "sync already running", nil)
	case errors.Is(err, payment.ErrGatewayUnavailable):
		httputil.WriteErrorResponse(w, r, http.StatusServiceUnavailable, string(svcerrors.CodeUnavailable), err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteErrorResponse(w, r, http.StatusGatewayTimeout, string(svcerrors.CodeTimeout), "request timed out", nil)
	default:
		h.log.WithContext(r.Context()).WithError(err).Error("unhandled error")
		httputil.WriteError(w, r, err)
	}
}

func intQuery(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, svcerrors.Validation(key, key+" must be a non-negative integer")
	}
	return v, nil
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, svcerrors.Validation(key, key+" must be a boolean")
	}
	return v, nil
}
