package postgres

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipsterhub/service_layer/internal/app/domain/blog"
	"github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage"
	"github.com/tipsterhub/service_layer/internal/platform/migrations"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

var matchCols = []string{"id", "match_id", "league", "country", "home_team", "away_team", "kickoff_at", "status",
	"odds_home", "odds_draw", "odds_away", "bookmakers", "source_updated_at", "synced_at", "created_at", "updated_at"}

func TestUpsertMarketMatchReportsInsert(t *testing.T) {
	store, mock := newMockStore(t)
	kickoff := time.Date(2026, 10, 20, 18, 0, 0, 0, time.UTC)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO market_matches")).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, matchCols...), "inserted")).
			AddRow("uuid-1", "m-1", "Premier League", "England", "Arsenal", "Chelsea", kickoff, "upcoming",
				"1.850", "3.400", "4.100", 12, now, now, now, now, true))

	got, created, err := store.UpsertMarketMatch(context.Background(), tip.MarketMatch{
		MatchID:   "m-1",
		League:    "Premier League",
		HomeTeam:  "Arsenal",
		AwayTeam:  "Chelsea",
		KickoffAt: kickoff,
		Status:    tip.MatchUpcoming,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "uuid-1", got.ID)
	assert.True(t, got.Odds.Home.Equal(decimal.RequireFromString("1.85")))
	assert.Equal(t, 12, got.Bookmakers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMarketMatchRequiresMatchID(t *testing.T) {
	store, _ := newMockStore(t)
	_, _, err := store.UpsertMarketMatch(context.Background(), tip.MarketMatch{})
	assert.Error(t, err)
}

func TestGetMarketMatchNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM market_matches WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetMarketMatch(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFinishStaleMatchesReturnsMatchIDs(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().Add(-3 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE market_matches")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"match_id"}).AddRow("m-1").AddRow("m-2"))

	ids, err := store.FinishStaleMatches(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1", "m-2"}, ids)
}

func TestDeactivateQuickPurchases(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE quick_purchases SET is_active = FALSE")).
		WithArgs(pq.Array([]string{"m-1", "m-2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.DeactivateQuickPurchases(context.Background(), []string{"m-1", "m-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.DeactivateQuickPurchases(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetQuickPurchaseMapsNullableColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM quick_purchases WHERE id = $1")).
		WithArgs("qp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "match_id", "name", "kind", "description", "price", "currency",
			"country_code", "confidence", "prediction_type", "odds", "value_rating", "analysis", "prediction_data",
			"kickoff_at", "is_active", "is_predictable", "last_enriched_at", "created_at", "updated_at"}).
			AddRow("qp-1", nil, "Manual tip", "tip", "", "4.99", "USD", "", 0, "", "0", "", "", nil,
				nil, true, false, nil, now, now))

	qp, err := store.GetQuickPurchase(context.Background(), "qp-1")
	require.NoError(t, err)
	assert.Empty(t, qp.MatchID)
	assert.Nil(t, qp.KickoffAt)
	assert.False(t, qp.HasPrediction())
	assert.Equal(t, tip.KindTip, qp.Kind)
	assert.True(t, qp.Price.Equal(decimal.RequireFromString("4.99")))
}

func TestUpdateQuickPurchaseMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM quick_purchases WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := store.UpdateQuickPurchase(context.Background(), tip.QuickPurchase{ID: "nope"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreatePostDuplicateSlug(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blog_posts")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := store.CreatePost(context.Background(), blog.Post{Title: "Hello", Slug: "hello"})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestListPostsDecodesTags(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM blog_posts")).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "slug", "excerpt", "content", "author", "tags",
			"published", "published_at", "created_at", "updated_at"}).
			AddRow("p-1", "Weekend picks", "weekend-picks", "", "body", "desk", []byte(`["epl","value"]`),
				true, now, now, now))

	posts, err := store.ListPosts(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, []string{"epl", "value"}, posts[0].Tags)
	require.NotNil(t, posts[0].PublishedAt)
}

func TestDeletePostNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM blog_posts")).
		WithArgs("p-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeletePost(context.Background(), "p-x"), storage.ErrNotFound)
}

func TestGetPurchaseByReferenceEmpty(t *testing.T) {
	store, _ := newMockStore(t)
	_, err := store.GetPurchaseByReference(context.Background(), "stripe", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, migrations.Apply(ctx, db.DB))
	store := New(db)

	matchID := "it-" + time.Now().Format("150405.000000")
	match, created, err := store.UpsertMarketMatch(ctx, tip.MarketMatch{
		MatchID:   matchID,
		HomeTeam:  "Home",
		AwayTeam:  "Away",
		KickoffAt: time.Now().Add(24 * time.Hour),
		Status:    tip.MatchUpcoming,
	})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = store.UpsertMarketMatch(ctx, match)
	require.NoError(t, err)
	assert.False(t, created)

	qp, err := store.CreateQuickPurchase(ctx, tip.QuickPurchase{
		MatchID:  matchID,
		Name:     match.Title(),
		Kind:     tip.KindPrediction,
		Price:    decimal.RequireFromString("9.99"),
		Currency: "USD",
		IsActive: true,
	})
	require.NoError(t, err)

	user, err := store.UpsertUser(ctx, purchase.User{Phone: "+254" + time.Now().Format("150405000"), CountryCode: "KE"})
	require.NoError(t, err)

	p, err := store.CreatePurchase(ctx, purchase.Purchase{
		UserID:          user.ID,
		QuickPurchaseID: qp.ID,
		Amount:          qp.Price,
		Currency:        "USD",
		Gateway:         "stripe",
		Reference:       "cs_" + matchID,
		Status:          purchase.StatusPending,
	})
	require.NoError(t, err)

	found, err := store.GetPurchaseByReference(ctx, "stripe", p.Reference)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)
}
