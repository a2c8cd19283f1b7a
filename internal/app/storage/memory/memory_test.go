package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage"
)

func TestStore_UpsertMarketMatch(t *testing.T) {
	store := New()
	ctx := context.Background()

	kickoff := time.Now().Add(2 * time.Hour).UTC()
	created, isNew, err := store.UpsertMarketMatch(ctx, tip.MarketMatch{MatchID: "100", HomeTeam: "Arsenal", AwayTeam: "Chelsea", KickoffAt: kickoff, Status: tip.MatchUpcoming})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !isNew || created.ID == "" {
		t.Fatalf("expected new match, got %#v", created)
	}

	updated, isNew, err := store.UpsertMarketMatch(ctx, tip.MarketMatch{MatchID: "100", HomeTeam: "Arsenal", AwayTeam: "Chelsea", KickoffAt: kickoff, Status: tip.MatchLive})
	if err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if isNew || updated.ID != created.ID || updated.Status != tip.MatchLive {
		t.Fatalf("expected in-place update, got %#v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at should be preserved")
	}
}

func TestStore_FinishStaleMatches(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	store.UpsertMarketMatch(ctx, tip.MarketMatch{MatchID: "old", KickoffAt: now.Add(-5 * time.Hour), Status: tip.MatchLive})
	store.UpsertMarketMatch(ctx, tip.MarketMatch{MatchID: "new", KickoffAt: now.Add(time.Hour), Status: tip.MatchUpcoming})

	finished, err := store.FinishStaleMatches(ctx, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if len(finished) != 1 || finished[0] != "old" {
		t.Fatalf("finished = %v, want [old]", finished)
	}

	upcoming, _ := store.ListMarketMatches(ctx, tip.MatchFilter{Status: tip.MatchUpcoming})
	if len(upcoming) != 1 || upcoming[0].MatchID != "new" {
		t.Fatalf("upcoming = %#v", upcoming)
	}
}

func TestStore_QuickPurchaseUniqueMatch(t *testing.T) {
	store := New()
	ctx := context.Background()

	qp, err := store.CreateQuickPurchase(ctx, tip.QuickPurchase{MatchID: "100", Name: "Arsenal vs Chelsea", Price: decimal.NewFromInt(5), IsActive: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.CreateQuickPurchase(ctx, tip.QuickPurchase{MatchID: "100", Name: "dup"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	byMatch, err := store.GetQuickPurchaseByMatchID(ctx, "100")
	if err != nil || byMatch.ID != qp.ID {
		t.Fatalf("lookup by match: %v %#v", err, byMatch)
	}

	n, err := store.DeactivateQuickPurchases(ctx, []string{"100", "missing"})
	if err != nil || n != 1 {
		t.Fatalf("deactivate = %d, %v", n, err)
	}
	active, _ := store.ListQuickPurchases(ctx, tip.Filter{ActiveOnly: true})
	if len(active) != 0 {
		t.Fatalf("expected no active purchases, got %d", len(active))
	}

	if err := store.DeleteQuickPurchase(ctx, qp.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetQuickPurchaseByMatchID(ctx, "100"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestStore_QuickPurchaseIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	qp, _ := store.CreateQuickPurchase(ctx, tip.QuickPurchase{Name: "x", PredictionData: []byte(`{"a":1}`)})
	qp.PredictionData[2] = 'b'

	stored, _ := store.GetQuickPurchase(ctx, qp.ID)
	if string(stored.PredictionData) != `{"a":1}` {
		t.Fatalf("stored data mutated: %s", stored.PredictionData)
	}
}

func TestStore_UpsertUserAndPurchases(t *testing.T) {
	store := New()
	ctx := context.Background()

	user, err := store.UpsertUser(ctx, purchase.User{Phone: "254700000001", CountryCode: "KE"})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	again, err := store.UpsertUser(ctx, purchase.User{Phone: "254700000001", Name: "Wanjiru"})
	if err != nil {
		t.Fatalf("upsert user again: %v", err)
	}
	if again.ID != user.ID || again.Name != "Wanjiru" || again.CountryCode != "KE" {
		t.Fatalf("unexpected user %#v", again)
	}

	p, err := store.CreatePurchase(ctx, purchase.Purchase{UserID: user.ID, Gateway: "pesapal", Reference: "trk-1", Status: purchase.StatusPending})
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	found, err := store.GetPurchaseByReference(ctx, "pesapal", "trk-1")
	if err != nil || found.ID != p.ID {
		t.Fatalf("by reference: %v %#v", err, found)
	}
	if _, err := store.GetPurchaseByReference(ctx, "stripe", "trk-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("gateway should scope reference lookup, got %v", err)
	}

	list, _ := store.ListPurchasesByUser(ctx, user.ID)
	if len(list) != 1 {
		t.Fatalf("expected 1 purchase, got %d", len(list))
	}
}
