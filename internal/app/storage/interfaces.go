package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tipsterhub/service_layer/internal/app/domain/blog"
	"github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("record already exists")
)

// MarketMatchStore persists matches pulled from the consensus API.
type MarketMatchStore interface {
	// UpsertMarketMatch inserts or updates by MatchID and reports whether a
	// row was created.
	UpsertMarketMatch(ctx context.Context, match tip.MarketMatch) (tip.MarketMatch, bool, error)
	GetMarketMatch(ctx context.Context, id string) (tip.MarketMatch, error)
	GetMarketMatchByMatchID(ctx context.Context, matchID string) (tip.MarketMatch, error)
	ListMarketMatches(ctx context.Context, filter tip.MatchFilter) ([]tip.MarketMatch, error)
	ListMarketMatchesByMatchIDs(ctx context.Context, matchIDs []string) ([]tip.MarketMatch, error)
	// FinishStaleMatches marks upcoming/live matches that kicked off before
	// cutoff as finished and returns their match ids.
	FinishStaleMatches(ctx context.Context, cutoff time.Time) ([]string, error)
}

// QuickPurchaseStore persists purchasable predictions.
type QuickPurchaseStore interface {
	CreateQuickPurchase(ctx context.Context, qp tip.QuickPurchase) (tip.QuickPurchase, error)
	UpdateQuickPurchase(ctx context.Context, qp tip.QuickPurchase) (tip.QuickPurchase, error)
	GetQuickPurchase(ctx context.Context, id string) (tip.QuickPurchase, error)
	GetQuickPurchaseByMatchID(ctx context.Context, matchID string) (tip.QuickPurchase, error)
	ListQuickPurchases(ctx context.Context, filter tip.Filter) ([]tip.QuickPurchase, error)
	DeleteQuickPurchase(ctx context.Context, id string) error
	DeactivateQuickPurchases(ctx context.Context, matchIDs []string) (int, error)
}

// BlogStore persists blog posts.
type BlogStore interface {
	CreatePost(ctx context.Context, post blog.Post) (blog.Post, error)
	UpdatePost(ctx context.Context, post blog.Post) (blog.Post, error)
	GetPost(ctx context.Context, id string) (blog.Post, error)
	GetPostBySlug(ctx context.Context, slug string) (blog.Post, error)
	ListPosts(ctx context.Context, publishedOnly bool) ([]blog.Post, error)
	DeletePost(ctx context.Context, id string) error
}

// PurchaseStore persists WhatsApp buyers and their purchases.
type PurchaseStore interface {
	// UpsertUser creates the user or refreshes country/name by phone.
	UpsertUser(ctx context.Context, user purchase.User) (purchase.User, error)
	GetUserByPhone(ctx context.Context, phone string) (purchase.User, error)

	CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error)
	UpdatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error)
	GetPurchase(ctx context.Context, id string) (purchase.Purchase, error)
	GetPurchaseByReference(ctx context.Context, gateway, reference string) (purchase.Purchase, error)
	ListPurchasesByUser(ctx context.Context, userID string) ([]purchase.Purchase, error)
}
