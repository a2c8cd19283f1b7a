//go:build integration && postgres

package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/tipsterhub/service_layer/internal/app"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage/postgres"
	"github.com/tipsterhub/service_layer/internal/config"
	"github.com/tipsterhub/service_layer/internal/middleware"
	"github.com/tipsterhub/service_layer/internal/payment"
	"github.com/tipsterhub/service_layer/internal/platform/migrations"
	"github.com/tipsterhub/service_layer/pkg/testutil"
)

// Integration test against Postgres to ensure migrations and the purchase
// flow work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := postgres.New(db)
	stripe := testutil.NewMockGateway(config.GatewayStripe)
	stripe.SetStatus("", payment.StatusPaid)
	application, err := app.New(app.Stores{Matches: store, Quick: store, Blog: store, Purchases: store}, app.Dependencies{
		Gateways: []payment.Gateway{stripe},
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{JWTSecret: "integration-secret", CronSecret: "integration-cron"})
	token, _, err := auth.IssueAdminToken("integration")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	srv := &testServer{handler: NewHandler(application, Options{Auth: auth}), stripe: stripe, adminToken: token}

	suffix := time.Now().UnixNano()
	resp := srv.do(t, http.MethodPost, "/api/admin/predictions", token, marshal(map[string]any{
		"name":           fmt.Sprintf("Integration %d", suffix),
		"price":          "1.50",
		"currency":       "USD",
		"predictionData": map[string]any{"pick": "away"},
	}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create prediction status: %d %s", resp.Code, resp.Body.String())
	}
	var listing tip.QuickPurchase
	decode(t, resp, &listing)
	t.Cleanup(func() {
		_ = application.Catalog.DeleteQuickPurchase(ctx, listing.ID)
	})

	phone := fmt.Sprintf("+1555%07d", suffix%10000000)
	resp = srv.do(t, http.MethodPost, "/api/whatsapp/purchases", "", marshal(map[string]any{
		"phone": phone, "countryCode": "US", "quickPurchaseId": listing.ID,
	}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("start purchase status: %d %s", resp.Code, resp.Body.String())
	}
	var started struct {
		Purchase struct {
			ID string `json:"id"`
		} `json:"purchase"`
	}
	decode(t, resp, &started)

	resp = srv.do(t, http.MethodPost, "/api/whatsapp/purchases/"+started.Purchase.ID+"/confirm", "", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"status":"paid"`) {
		t.Fatalf("confirm purchase: %d %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, http.MethodGet, "/api/whatsapp/users/"+strings.TrimPrefix(phone, "+")+"/tips", "integration-cron", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), listing.ID) {
		t.Fatalf("unlocked tips: %d %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("health status: %d", resp.Code)
	}
}
