// Package postgres implements the storage interfaces on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tipsterhub/service_layer/internal/app/domain/blog"
	"github.com/tipsterhub/service_layer/internal/app/domain/purchase"
	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.MarketMatchStore = (*Store)(nil)
var _ storage.QuickPurchaseStore = (*Store)(nil)
var _ storage.BlogStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// translate maps driver errors onto storage sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return storage.ErrConflict
	}
	return err
}

func affected(result sql.Result) error {
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- MarketMatchStore -------------------------------------------------------

type matchRow struct {
	ID         string          `db:"id"`
	MatchID    string          `db:"match_id"`
	League     string          `db:"league"`
	Country    string          `db:"country"`
	HomeTeam   string          `db:"home_team"`
	AwayTeam   string          `db:"away_team"`
	KickoffAt  time.Time       `db:"kickoff_at"`
	Status     string          `db:"status"`
	OddsHome   decimal.Decimal `db:"odds_home"`
	OddsDraw   decimal.Decimal `db:"odds_draw"`
	OddsAway   decimal.Decimal `db:"odds_away"`
	Bookmakers int             `db:"bookmakers"`
	SourceAt   time.Time       `db:"source_updated_at"`
	SyncedAt   time.Time       `db:"synced_at"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

func (r matchRow) toDomain() tip.MarketMatch {
	return tip.MarketMatch{
		ID:         r.ID,
		MatchID:    r.MatchID,
		League:     r.League,
		Country:    r.Country,
		HomeTeam:   r.HomeTeam,
		AwayTeam:   r.AwayTeam,
		KickoffAt:  r.KickoffAt.UTC(),
		Status:     tip.MatchStatus(r.Status),
		Odds:       tip.Odds{Home: r.OddsHome, Draw: r.OddsDraw, Away: r.OddsAway},
		Bookmakers: r.Bookmakers,
		SourceAt:   r.SourceAt.UTC(),
		SyncedAt:   r.SyncedAt.UTC(),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

const matchColumns = `id, match_id, league, country, home_team, away_team, kickoff_at, status,
	odds_home, odds_draw, odds_away, bookmakers, source_updated_at, synced_at, created_at, updated_at`

func (s *Store) UpsertMarketMatch(ctx context.Context, match tip.MarketMatch) (tip.MarketMatch, bool, error) {
	if strings.TrimSpace(match.MatchID) == "" {
		return tip.MarketMatch{}, false, errors.New("match_id required")
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if match.SourceAt.IsZero() {
		match.SourceAt = now
	}

	var (
		row      matchRow
		inserted bool
	)
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO market_matches (id, match_id, league, country, home_team, away_team, kickoff_at, status,
			odds_home, odds_draw, odds_away, bookmakers, source_updated_at, synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14, $14)
		ON CONFLICT (match_id) DO UPDATE SET
			league = EXCLUDED.league,
			country = EXCLUDED.country,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			kickoff_at = EXCLUDED.kickoff_at,
			status = EXCLUDED.status,
			odds_home = EXCLUDED.odds_home,
			odds_draw = EXCLUDED.odds_draw,
			odds_away = EXCLUDED.odds_away,
			bookmakers = EXCLUDED.bookmakers,
			source_updated_at = EXCLUDED.source_updated_at,
			synced_at = EXCLUDED.synced_at,
			updated_at = EXCLUDED.updated_at
		RETURNING `+matchColumns+`, (xmax = 0) AS inserted
	`, match.ID, match.MatchID, match.League, match.Country, match.HomeTeam, match.AwayTeam, match.KickoffAt, string(match.Status),
		match.Odds.Home, match.Odds.Draw, match.Odds.Away, match.Bookmakers, match.SourceAt, now).
		Scan(&row.ID, &row.MatchID, &row.League, &row.Country, &row.HomeTeam, &row.AwayTeam, &row.KickoffAt, &row.Status,
			&row.OddsHome, &row.OddsDraw, &row.OddsAway, &row.Bookmakers, &row.SourceAt, &row.SyncedAt, &row.CreatedAt, &row.UpdatedAt, &inserted)
	if err != nil {
		return tip.MarketMatch{}, false, translate(err)
	}
	return row.toDomain(), inserted, nil
}

func (s *Store) GetMarketMatch(ctx context.Context, id string) (tip.MarketMatch, error) {
	var row matchRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+matchColumns+` FROM market_matches WHERE id = $1`, id); err != nil {
		return tip.MarketMatch{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetMarketMatchByMatchID(ctx context.Context, matchID string) (tip.MarketMatch, error) {
	var row matchRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+matchColumns+` FROM market_matches WHERE match_id = $1`, matchID); err != nil {
		return tip.MarketMatch{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListMarketMatches(ctx context.Context, filter tip.MatchFilter) ([]tip.MarketMatch, error) {
	query := `SELECT ` + matchColumns + ` FROM market_matches
		WHERE ($1 = '' OR status = $1)
		  AND ($2::timestamptz IS NULL OR kickoff_at >= $2)
		ORDER BY kickoff_at, match_id`
	var kickoffAfter *time.Time
	if !filter.KickoffAfter.IsZero() {
		kickoffAfter = &filter.KickoffAfter
	}
	args := []interface{}{string(filter.Status), kickoffAfter}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	var rows []matchRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return matchesToDomain(rows), nil
}

func (s *Store) ListMarketMatchesByMatchIDs(ctx context.Context, matchIDs []string) ([]tip.MarketMatch, error) {
	if len(matchIDs) == 0 {
		return nil, nil
	}
	var rows []matchRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+matchColumns+` FROM market_matches
		WHERE match_id = ANY($1)
		ORDER BY kickoff_at, match_id
	`, pq.Array(matchIDs)); err != nil {
		return nil, err
	}
	return matchesToDomain(rows), nil
}

func (s *Store) FinishStaleMatches(ctx context.Context, cutoff time.Time) ([]string, error) {
	var matchIDs []string
	err := s.db.SelectContext(ctx, &matchIDs, `
		UPDATE market_matches
		SET status = 'finished', updated_at = NOW()
		WHERE status IN ('upcoming', 'live') AND kickoff_at < $1
		RETURNING match_id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return matchIDs, nil
}

func matchesToDomain(rows []matchRow) []tip.MarketMatch {
	result := make([]tip.MarketMatch, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

// --- QuickPurchaseStore -----------------------------------------------------

type quickRow struct {
	ID             string          `db:"id"`
	MatchID        sql.NullString  `db:"match_id"`
	Name           string          `db:"name"`
	Kind           string          `db:"kind"`
	Description    string          `db:"description"`
	Price          decimal.Decimal `db:"price"`
	Currency       string          `db:"currency"`
	CountryCode    string          `db:"country_code"`
	Confidence     int             `db:"confidence"`
	PredictionType string          `db:"prediction_type"`
	Odds           decimal.Decimal `db:"odds"`
	ValueRating    string          `db:"value_rating"`
	Analysis       string          `db:"analysis"`
	PredictionData []byte          `db:"prediction_data"`
	KickoffAt      sql.NullTime    `db:"kickoff_at"`
	IsActive       bool            `db:"is_active"`
	IsPredictable  bool            `db:"is_predictable"`
	LastEnrichedAt sql.NullTime    `db:"last_enriched_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r quickRow) toDomain() tip.QuickPurchase {
	qp := tip.QuickPurchase{
		ID:             r.ID,
		MatchID:        r.MatchID.String,
		Name:           r.Name,
		Kind:           tip.Kind(r.Kind),
		Description:    r.Description,
		Price:          r.Price,
		Currency:       r.Currency,
		CountryCode:    r.CountryCode,
		Confidence:     r.Confidence,
		PredictionType: r.PredictionType,
		Odds:           r.Odds,
		ValueRating:    r.ValueRating,
		Analysis:       r.Analysis,
		IsActive:       r.IsActive,
		IsPredictable:  r.IsPredictable,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if len(r.PredictionData) > 0 {
		qp.PredictionData = json.RawMessage(r.PredictionData)
	}
	if r.KickoffAt.Valid {
		t := r.KickoffAt.Time.UTC()
		qp.KickoffAt = &t
	}
	if r.LastEnrichedAt.Valid {
		t := r.LastEnrichedAt.Time.UTC()
		qp.LastEnrichedAt = &t
	}
	return qp
}

const quickColumns = `id, match_id, name, kind, description, price, currency, country_code, confidence,
	prediction_type, odds, value_rating, analysis, prediction_data, kickoff_at, is_active, is_predictable,
	last_enriched_at, created_at, updated_at`

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func jsonOrNull(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (s *Store) CreateQuickPurchase(ctx context.Context, qp tip.QuickPurchase) (tip.QuickPurchase, error) {
	if qp.ID == "" {
		qp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	qp.CreatedAt = now
	qp.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quick_purchases (id, match_id, name, kind, description, price, currency, country_code, confidence,
			prediction_type, odds, value_rating, analysis, prediction_data, kickoff_at, is_active, is_predictable,
			last_enriched_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, qp.ID, nullString(qp.MatchID), qp.Name, string(qp.Kind), qp.Description, qp.Price, qp.Currency, qp.CountryCode, qp.Confidence,
		qp.PredictionType, qp.Odds, qp.ValueRating, qp.Analysis, jsonOrNull(qp.PredictionData), nullTime(qp.KickoffAt), qp.IsActive, qp.IsPredictable,
		nullTime(qp.LastEnrichedAt), qp.CreatedAt, qp.UpdatedAt)
	if err != nil {
		return tip.QuickPurchase{}, translate(err)
	}
	return qp, nil
}

func (s *Store) UpdateQuickPurchase(ctx context.Context, qp tip.QuickPurchase) (tip.QuickPurchase, error) {
	existing, err := s.GetQuickPurchase(ctx, qp.ID)
	if err != nil {
		return tip.QuickPurchase{}, err
	}
	qp.CreatedAt = existing.CreatedAt
	qp.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE quick_purchases
		SET match_id = $2, name = $3, kind = $4, description = $5, price = $6, currency = $7, country_code = $8,
			confidence = $9, prediction_type = $10, odds = $11, value_rating = $12, analysis = $13,
			prediction_data = $14, kickoff_at = $15, is_active = $16, is_predictable = $17, last_enriched_at = $18,
			updated_at = $19
		WHERE id = $1
	`, qp.ID, nullString(qp.MatchID), qp.Name, string(qp.Kind), qp.Description, qp.Price, qp.Currency, qp.CountryCode,
		qp.Confidence, qp.PredictionType, qp.Odds, qp.ValueRating, qp.Analysis,
		jsonOrNull(qp.PredictionData), nullTime(qp.KickoffAt), qp.IsActive, qp.IsPredictable, nullTime(qp.LastEnrichedAt),
		qp.UpdatedAt)
	if err != nil {
		return tip.QuickPurchase{}, translate(err)
	}
	if err := affected(result); err != nil {
		return tip.QuickPurchase{}, err
	}
	return qp, nil
}

func (s *Store) GetQuickPurchase(ctx context.Context, id string) (tip.QuickPurchase, error) {
	var row quickRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+quickColumns+` FROM quick_purchases WHERE id = $1`, id); err != nil {
		return tip.QuickPurchase{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetQuickPurchaseByMatchID(ctx context.Context, matchID string) (tip.QuickPurchase, error) {
	var row quickRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+quickColumns+` FROM quick_purchases WHERE match_id = $1`, matchID); err != nil {
		return tip.QuickPurchase{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuickPurchases(ctx context.Context, filter tip.Filter) ([]tip.QuickPurchase, error) {
	query := `SELECT ` + quickColumns + ` FROM quick_purchases
		WHERE (NOT $1 OR is_active)
		  AND (NOT $2 OR match_id IS NOT NULL)
		  AND ($3 = '' OR country_code = '' OR UPPER(country_code) = UPPER($3))
		ORDER BY created_at DESC`
	args := []interface{}{filter.ActiveOnly, filter.HasMatch, filter.CountryCode}
	if filter.Limit > 0 {
		query += ` LIMIT $4`
		args = append(args, filter.Limit)
	}

	var rows []quickRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]tip.QuickPurchase, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteQuickPurchase(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM quick_purchases WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return affected(result)
}

func (s *Store) DeactivateQuickPurchases(ctx context.Context, matchIDs []string) (int, error) {
	if len(matchIDs) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE quick_purchases SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND match_id = ANY($1)
	`, pq.Array(matchIDs))
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- BlogStore --------------------------------------------------------------

type postRow struct {
	ID          string       `db:"id"`
	Title       string       `db:"title"`
	Slug        string       `db:"slug"`
	Excerpt     string       `db:"excerpt"`
	Content     string       `db:"content"`
	Author      string       `db:"author"`
	Tags        []byte       `db:"tags"`
	Published   bool         `db:"published"`
	PublishedAt sql.NullTime `db:"published_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

func (r postRow) toDomain() blog.Post {
	post := blog.Post{
		ID:        r.ID,
		Title:     r.Title,
		Slug:      r.Slug,
		Excerpt:   r.Excerpt,
		Content:   r.Content,
		Author:    r.Author,
		Published: r.Published,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Tags) > 0 {
		_ = json.Unmarshal(r.Tags, &post.Tags)
	}
	if r.PublishedAt.Valid {
		t := r.PublishedAt.Time.UTC()
		post.PublishedAt = &t
	}
	return post
}

const postColumns = `id, title, slug, excerpt, content, author, tags, published, published_at, created_at, updated_at`

func (s *Store) CreatePost(ctx context.Context, post blog.Post) (blog.Post, error) {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	tagsJSON, err := json.Marshal(nonNilTags(post.Tags))
	if err != nil {
		return blog.Post{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blog_posts (id, title, slug, excerpt, content, author, tags, published, published_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, post.ID, post.Title, post.Slug, post.Excerpt, post.Content, post.Author, tagsJSON, post.Published,
		nullTime(post.PublishedAt), post.CreatedAt, post.UpdatedAt)
	if err != nil {
		return blog.Post{}, translate(err)
	}
	return post, nil
}

func (s *Store) UpdatePost(ctx context.Context, post blog.Post) (blog.Post, error) {
	existing, err := s.GetPost(ctx, post.ID)
	if err != nil {
		return blog.Post{}, err
	}
	post.CreatedAt = existing.CreatedAt
	post.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(nonNilTags(post.Tags))
	if err != nil {
		return blog.Post{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE blog_posts
		SET title = $2, slug = $3, excerpt = $4, content = $5, author = $6, tags = $7,
			published = $8, published_at = $9, updated_at = $10
		WHERE id = $1
	`, post.ID, post.Title, post.Slug, post.Excerpt, post.Content, post.Author, tagsJSON,
		post.Published, nullTime(post.PublishedAt), post.UpdatedAt)
	if err != nil {
		return blog.Post{}, translate(err)
	}
	if err := affected(result); err != nil {
		return blog.Post{}, err
	}
	return post, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (blog.Post, error) {
	var row postRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+postColumns+` FROM blog_posts WHERE id = $1`, id); err != nil {
		return blog.Post{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPostBySlug(ctx context.Context, slug string) (blog.Post, error) {
	var row postRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+postColumns+` FROM blog_posts WHERE slug = $1`, slug); err != nil {
		return blog.Post{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListPosts(ctx context.Context, publishedOnly bool) ([]blog.Post, error) {
	var rows []postRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+postColumns+` FROM blog_posts
		WHERE (NOT $1 OR published)
		ORDER BY created_at DESC
	`, publishedOnly); err != nil {
		return nil, err
	}
	result := make([]blog.Post, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blog_posts WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	return affected(result)
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// --- PurchaseStore ----------------------------------------------------------

type userRow struct {
	ID          string    `db:"id"`
	Phone       string    `db:"phone"`
	CountryCode string    `db:"country_code"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r userRow) toDomain() purchase.User {
	return purchase.User{
		ID:          r.ID,
		Phone:       r.Phone,
		CountryCode: r.CountryCode,
		Name:        r.Name,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (s *Store) UpsertUser(ctx context.Context, user purchase.User) (purchase.User, error) {
	if user.Phone == "" {
		return purchase.User{}, errors.New("phone required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	var row userRow
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO whatsapp_users (id, phone, country_code, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (phone) DO UPDATE SET
			country_code = COALESCE(NULLIF(EXCLUDED.country_code, ''), whatsapp_users.country_code),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), whatsapp_users.name),
			updated_at = NOW()
		RETURNING id, phone, country_code, name, created_at, updated_at
	`, user.ID, user.Phone, user.CountryCode, user.Name).StructScan(&row)
	if err != nil {
		return purchase.User{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (purchase.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, phone, country_code, name, created_at, updated_at FROM whatsapp_users WHERE phone = $1
	`, phone); err != nil {
		return purchase.User{}, translate(err)
	}
	return row.toDomain(), nil
}

type purchaseRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	QuickPurchaseID string          `db:"quick_purchase_id"`
	Amount          decimal.Decimal `db:"amount"`
	Currency        string          `db:"currency"`
	Gateway         string          `db:"gateway"`
	Reference       string          `db:"reference"`
	CheckoutURL     string          `db:"checkout_url"`
	Status          string          `db:"status"`
	PaidAt          sql.NullTime    `db:"paid_at"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r purchaseRow) toDomain() purchase.Purchase {
	p := purchase.Purchase{
		ID:              r.ID,
		UserID:          r.UserID,
		QuickPurchaseID: r.QuickPurchaseID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Gateway:         r.Gateway,
		Reference:       r.Reference,
		CheckoutURL:     r.CheckoutURL,
		Status:          purchase.Status(r.Status),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.PaidAt.Valid {
		t := r.PaidAt.Time.UTC()
		p.PaidAt = &t
	}
	return p
}

const purchaseColumns = `id, user_id, quick_purchase_id, amount, currency, gateway, reference, checkout_url, status, paid_at, created_at, updated_at`

func (s *Store) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whatsapp_purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.UserID, p.QuickPurchaseID, p.Amount, p.Currency, p.Gateway, p.Reference, p.CheckoutURL,
		string(p.Status), nullTime(p.PaidAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return purchase.Purchase{}, translate(err)
	}
	return p, nil
}

func (s *Store) UpdatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	existing, err := s.GetPurchase(ctx, p.ID)
	if err != nil {
		return purchase.Purchase{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE whatsapp_purchases
		SET reference = $2, checkout_url = $3, status = $4, paid_at = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Reference, p.CheckoutURL, string(p.Status), nullTime(p.PaidAt), p.UpdatedAt)
	if err != nil {
		return purchase.Purchase{}, translate(err)
	}
	if err := affected(result); err != nil {
		return purchase.Purchase{}, err
	}
	return p, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (purchase.Purchase, error) {
	var row purchaseRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+purchaseColumns+` FROM whatsapp_purchases WHERE id = $1`, id); err != nil {
		return purchase.Purchase{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPurchaseByReference(ctx context.Context, gateway, reference string) (purchase.Purchase, error) {
	if reference == "" {
		return purchase.Purchase{}, storage.ErrNotFound
	}
	var row purchaseRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT `+purchaseColumns+` FROM whatsapp_purchases WHERE gateway = $1 AND reference = $2
		ORDER BY created_at DESC LIMIT 1
	`, gateway, reference); err != nil {
		return purchase.Purchase{}, translate(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListPurchasesByUser(ctx context.Context, userID string) ([]purchase.Purchase, error) {
	var rows []purchaseRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+purchaseColumns+` FROM whatsapp_purchases WHERE user_id = $1 ORDER BY created_at DESC
	`, userID); err != nil {
		return nil, err
	}
	result := make([]purchase.Purchase, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
